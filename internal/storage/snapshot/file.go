package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

var magicBytes = []byte("MESHBKUP")

const (
	headerVersion = 1
	checksumSize  = sha256.Size
	lenSize       = 4

	// maxHeaderSize bounds the JSON header so a damaged length cannot force
	// a large allocation.
	maxHeaderSize = 64 << 10
)

type fileHeader struct {
	Version        int      `json:"version"`
	BackupID       string   `json:"backup_id,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	NodeID         string   `json:"node_id,omitempty"`
	DatastoreCount int      `json:"datastore_count"`
	Datastores     []string `json:"datastores"`
	Encrypted      bool     `json:"encrypted"`
	Cipher         string   `json:"cipher,omitempty"`
	KDFSalt        []byte   `json:"kdf_salt,omitempty"`
}

// Info describes a bundle file.
type Info struct {
	BackupID   string    `json:"backup_id,omitempty"`
	Path       string    `json:"path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	NodeID     string    `json:"node_id,omitempty"`
	Datastores []string  `json:"datastores"`
	Encrypted  bool      `json:"encrypted"`
	Cipher     string    `json:"cipher,omitempty"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
}

// WriteOptions annotates and optionally encrypts a bundle file.
type WriteOptions struct {
	BackupID   string
	NodeID     string
	CreatedAt  time.Time // zero means now
	Encryption EncryptionConfig
}

// Pack validates and frames b.
func Pack(b *Bundle, opts WriteOptions) ([]byte, *Info, error) {
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}
	payload, err := Encode(b)
	if err != nil {
		return nil, nil, err
	}

	created := opts.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	hdr := fileHeader{
		Version:        headerVersion,
		BackupID:       opts.BackupID,
		CreatedAt:      created.UnixMilli(),
		NodeID:         opts.NodeID,
		DatastoreCount: len(b.Datastores),
		Datastores:     b.Types(),
	}

	var cipherFn func(aad []byte) error
	if opts.Encryption.Enabled() {
		c, salt, err := newCipher(opts.Encryption, nil)
		if err != nil {
			return nil, nil, err
		}
		hdr.Encrypted = true
		hdr.Cipher = string(c.Algorithm())
		hdr.KDFSalt = salt
		cipherFn = func(aad []byte) error {
			payload, err = c.Seal(payload, aad)
			return err
		}
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}
	if cipherFn != nil {
		// The header is bound to the payload as additional data.
		if err := cipherFn(hdrJSON); err != nil {
			return nil, nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(magicBytes) + 2*lenSize + len(hdrJSON) + len(payload) + checksumSize)
	buf.Write(magicBytes)
	writeLen(&buf, len(hdrJSON))
	buf.Write(hdrJSON)
	writeLen(&buf, len(payload))
	buf.Write(payload)
	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	info := hdr.info()
	info.Size = int64(buf.Len())
	info.Checksum = hex.EncodeToString(sum[:])
	return buf.Bytes(), info, nil
}

// Unpack parses a framed bundle and validates its content. enc supplies
// the key when the bundle is encrypted and must be empty otherwise.
func Unpack(data []byte, enc EncryptionConfig) (*Bundle, *Info, error) {
	fr, err := unframe(data)
	if err != nil {
		return nil, nil, err
	}
	hdr, payload := fr.hdr, fr.payload

	switch {
	case hdr.Encrypted && !enc.Enabled():
		return nil, nil, ErrCipherRequired
	case !hdr.Encrypted && enc.Enabled():
		return nil, nil, ErrUnexpectedPlain
	case hdr.Encrypted:
		if enc.Algorithm == "" {
			enc.Algorithm = hdr.Cipher
		}
		c, _, err := newCipher(enc, hdr.KDFSalt)
		if err != nil {
			return nil, nil, err
		}
		payload, err = c.Open(payload, fr.hdrJSON)
		if err != nil {
			return nil, nil, corrupt("decrypt payload", err)
		}
	}

	b, err := Decode(payload)
	if err != nil {
		return nil, nil, err
	}
	if hdr.DatastoreCount != len(b.Datastores) {
		return nil, nil, corruptf("header lists %d datastores, payload has %d", hdr.DatastoreCount, len(b.Datastores))
	}
	if types := b.Types(); !slices.Equal(hdr.Datastores, types) {
		return nil, nil, corruptf("header lists datastores %v, payload has %v", hdr.Datastores, types)
	}
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}

	info := hdr.info()
	info.Size = int64(len(data))
	info.Checksum = hex.EncodeToString(fr.sum)
	return b, info, nil
}

// Inspect verifies framing and checksum and returns the header without
// decrypting or decoding the payload.
func Inspect(data []byte) (*Info, error) {
	fr, err := unframe(data)
	if err != nil {
		return nil, err
	}
	info := fr.hdr.info()
	info.Size = int64(len(data))
	info.Checksum = hex.EncodeToString(fr.sum)
	return info, nil
}

// WriteFile packs b and writes it to path atomically: temp file in the same
// directory, fsync, rename.
func WriteFile(path string, b *Bundle, opts WriteOptions) (*Info, error) {
	data, info, err := Pack(b, opts)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}

	info.Path = path
	return info, nil
}

// ReadFile reads and unpacks the bundle at path. A missing file returns an
// error satisfying errors.Is(err, fs.ErrNotExist).
func ReadFile(path string, enc EncryptionConfig) (*Bundle, *Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: read: %w", err)
	}
	b, info, err := Unpack(data, enc)
	if err != nil {
		return nil, nil, withPath(err, path)
	}
	info.Path = path
	return b, info, nil
}

// InspectFile is Inspect for a file.
func InspectFile(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	info, err := Inspect(data)
	if err != nil {
		return nil, withPath(err, path)
	}
	info.Path = path
	return info, nil
}

// frame is a bundle file split into its sections.
type frame struct {
	hdr     *fileHeader
	hdrJSON []byte
	payload []byte
	sum     []byte
}

func unframe(data []byte) (*frame, error) {
	if len(data) < len(magicBytes)+2*lenSize+checksumSize {
		return nil, corruptf("file too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(magicBytes)], magicBytes) {
		return nil, corruptf("invalid magic bytes")
	}

	body, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	want := sha256.Sum256(body)
	if !bytes.Equal(sum, want[:]) {
		return nil, corruptf("checksum mismatch")
	}

	fr := &frame{sum: sum}
	rest := body[len(magicBytes):]
	var err error
	if fr.hdrJSON, rest, err = readSection(rest, "header", maxHeaderSize); err != nil {
		return nil, err
	}
	if fr.payload, rest, err = readSection(rest, "payload", len(rest)); err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, corruptf("%d trailing bytes after payload", len(rest))
	}

	fr.hdr = &fileHeader{}
	if err := json.Unmarshal(fr.hdrJSON, fr.hdr); err != nil {
		return nil, corrupt("parse header", err)
	}
	if fr.hdr.Version != headerVersion {
		return nil, corruptf("header version %d not supported", fr.hdr.Version)
	}
	return fr, nil
}

func readSection(b []byte, what string, limit int) ([]byte, []byte, error) {
	if len(b) < lenSize {
		return nil, nil, corruptf("truncated %s length", what)
	}
	n := int(binary.BigEndian.Uint32(b))
	b = b[lenSize:]
	if n > limit || n > len(b) {
		return nil, nil, corruptf("truncated %s (%d bytes declared, %d available)", what, n, len(b))
	}
	return b[:n], b[n:], nil
}

func writeLen(buf *bytes.Buffer, n int) {
	var l [lenSize]byte
	binary.BigEndian.PutUint32(l[:], uint32(n))
	buf.Write(l[:])
}

func (h *fileHeader) info() *Info {
	return &Info{
		BackupID:   h.BackupID,
		CreatedAt:  time.UnixMilli(h.CreatedAt),
		NodeID:     h.NodeID,
		Datastores: slices.Clone(h.Datastores),
		Encrypted:  h.Encrypted,
		Cipher:     h.Cipher,
	}
}

// IsNotExist reports whether err means the bundle file does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
