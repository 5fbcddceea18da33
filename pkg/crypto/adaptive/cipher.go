package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names an AEAD construction.
type Algorithm string

const (
	AESGCM           Algorithm = "aes-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

var (
	ErrUnknownAlgorithm = errors.New("adaptive: unknown algorithm")
	ErrKeySize          = errors.New("adaptive: invalid key size")
	ErrSealedTooShort   = errors.New("adaptive: sealed data shorter than nonce")
)

// ParseAlgorithm maps a configured name to an Algorithm. The empty name
// selects AESGCM.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case "":
		return AESGCM, nil
	case AESGCM, ChaCha20Poly1305:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// AEAD seals and opens payloads. It is safe for concurrent use.
type AEAD struct {
	algo Algorithm
	aead cipher.AEAD
}

// New builds an AEAD for algo. AES-GCM takes a 16, 24 or 32 byte key;
// ChaCha20-Poly1305 takes exactly 32 bytes.
func New(key []byte, algo Algorithm) (*AEAD, error) {
	var (
		aead cipher.AEAD
		err  error
	)
	switch algo {
	case AESGCM:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("%w: %s needs 16, 24 or 32 bytes, got %d", ErrKeySize, algo, len(key))
		}
		block, berr := aes.NewCipher(key)
		if berr != nil {
			return nil, berr
		}
		aead, err = cipher.NewGCM(block)
	case ChaCha20Poly1305:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrKeySize, algo, chacha20poly1305.KeySize, len(key))
		}
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	if err != nil {
		return nil, err
	}
	return &AEAD{algo: algo, aead: aead}, nil
}

// Algorithm returns the construction in use.
func (a *AEAD) Algorithm() Algorithm { return a.algo }

// Overhead is the number of bytes Seal adds to a payload.
func (a *AEAD) Overhead() int { return a.aead.NonceSize() + a.aead.Overhead() }

// Seal encrypts plaintext under a fresh random nonce, authenticating aad
// along with it.
func (a *AEAD) Seal(plaintext, aad []byte) ([]byte, error) {
	n := a.aead.NonceSize()
	out := make([]byte, n, n+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return a.aead.Seal(out, out[:n], plaintext, aad), nil
}

// Open reverses Seal. Any tampering with the sealed bytes or aad, or a
// different key, fails authentication.
func (a *AEAD) Open(sealed, aad []byte) ([]byte, error) {
	n := a.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealedTooShort
	}
	return a.aead.Open(nil, sealed[:n], sealed[n:], aad)
}
