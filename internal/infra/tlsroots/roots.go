package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNoCertsFound is returned when a CA source holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found")
)

// LoadCAPool builds a pool from PEM files and directories. Directory
// entries ending in .pem, .crt or .cer are read; other files are ignored.
// System roots are not included.
func LoadCAPool(paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	total := 0
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		files := []string{p}
		if st.IsDir() {
			if files, err = certFiles(p); err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			n, err := addPEMFile(pool, f)
			if err != nil {
				return nil, err
			}
			total += n
		}
	}
	if total == 0 {
		return nil, ErrNoCertsFound
	}
	return pool, nil
}

func certFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".pem", ".crt", ".cer":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func addPEMFile(pool *x509.CertPool, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return 0, fmt.Errorf("tlsroots: parse %s: %w", path, err)
		}
		pool.AddCert(cert)
		n++
	}
	return n, nil
}

// ServerConfig serves kp's certificate. A non-nil clientCAs requires and
// verifies client certificates against it.
func ServerConfig(kp *KeyPair, clientCAs *x509.CertPool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: kp.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig trusts the CAs in caFile, or the system roots when caFile
// is empty. A non-empty certFile and keyFile present a client certificate.
func ClientConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		pool, err := LoadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
