package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

// Encryption errors.
var (
	ErrKeyTooShort       = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("snapshot: passphrase too weak (minimum 8 characters)")
)

const (
	// MinKeyLength is the minimum raw key length.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the salt length for passphrase derivation. The salt is
	// stored in the bundle header so the key can be re-derived on read.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	// backupKeyInfo scopes subkeys derived from the node master key.
	backupKeyInfo = "meshstore/backup/v1"
)

// EncryptionConfig selects how a bundle payload is encrypted. The zero
// value means plaintext.
type EncryptionConfig struct {
	// Key is a raw key. Ignored when Passphrase is set.
	Key []byte

	// Passphrase derives the key with Argon2id.
	Passphrase []byte

	// Algorithm is "aes-gcm" (default) or "chacha20-poly1305".
	Algorithm string
}

// Enabled reports whether the config asks for encryption.
func (c EncryptionConfig) Enabled() bool {
	return len(c.Key) > 0 || len(c.Passphrase) > 0
}

// ValidateConfig checks key and passphrase lengths.
func ValidateConfig(cfg EncryptionConfig) error {
	if len(cfg.Passphrase) > 0 {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}
	if len(cfg.Key) > 0 && len(cfg.Key) < MinKeyLength {
		return ErrKeyTooShort
	}
	return nil
}

// newCipher builds the payload cipher. For passphrase configs a nil salt
// generates a fresh one (write path); the salt actually used is returned
// so it can be recorded in the header.
func newCipher(cfg EncryptionConfig, salt []byte) (*adaptive.AEAD, []byte, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}

	key := cfg.Key
	if len(cfg.Passphrase) > 0 {
		if salt == nil {
			salt = make([]byte, SaltLength)
			if _, err := rand.Read(salt); err != nil {
				return nil, nil, fmt.Errorf("snapshot: generate salt: %w", err)
			}
		}
		key = argon2.IDKey(cfg.Passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
		defer ZeroKey(key)
	} else {
		salt = nil
	}

	algo, err := adaptive.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	c, err := adaptive.New(key, algo)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: new cipher: %w", err)
	}
	return c, salt, nil
}

// DeriveBackupKey derives the bundle key from a node master key with HKDF,
// keeping backup encryption independent of other uses of the master key.
func DeriveBackupKey(masterKey []byte) ([]byte, error) {
	return DeriveSubkey(masterKey, backupKeyInfo, 32)
}

// DeriveSubkey derives a purpose-scoped subkey from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("snapshot: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key of the given length.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("snapshot: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites key in place.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
