package tlsroots

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/meshstore/internal/infra/tlsroots/tlstest"
)

func TestLoadCAPool(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewCA(t)
	caFile := ca.WriteCA(t, dir, "ca.pem")

	if _, err := LoadCAPool(caFile); err != nil {
		t.Fatalf("LoadCAPool(file) error = %v", err)
	}

	caDir := filepath.Join(dir, "cas")
	if err := os.Mkdir(caDir, 0700); err != nil {
		t.Fatal(err)
	}
	ca.WriteCA(t, caDir, "one.crt")
	tlstest.NewCA(t).WriteCA(t, caDir, "two.cer")
	if err := os.WriteFile(filepath.Join(caDir, "notes.txt"), []byte("not a cert"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCAPool(caDir); err != nil {
		t.Fatalf("LoadCAPool(dir) error = %v", err)
	}
}

func TestLoadCAPool_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCAPool(filepath.Join(dir, "missing.pem")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}

	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, []byte("-----BEGIN NOTHING-----\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCAPool(empty); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("no certs: err = %v, want ErrNoCertsFound", err)
	}
	if _, err := LoadCAPool(t.TempDir()); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("empty dir: err = %v, want ErrNoCertsFound", err)
	}
}

func TestServerConfig(t *testing.T) {
	f := tlstest.Write(t)
	kp, err := LoadKeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		t.Fatal(err)
	}

	cfg := ServerConfig(kp, nil)
	if cfg.ClientCAs != nil || cfg.ClientAuth != 0 {
		t.Error("client auth set without client CAs")
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}

	pool, err := LoadCAPool(f.CAFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg := ServerConfig(kp, pool); cfg.ClientCAs == nil {
		t.Error("mTLS config without client CAs")
	}
}

func TestClientConfig(t *testing.T) {
	f := tlstest.Write(t)

	cfg, err := ClientConfig("", "", "")
	if err != nil || cfg.RootCAs != nil {
		t.Fatalf("ClientConfig() = %+v, %v; want system roots", cfg, err)
	}

	cfg, err = ClientConfig(f.CAFile, f.CertFile, f.KeyFile)
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
		t.Errorf("ClientConfig() = %+v", cfg)
	}

	if _, err := ClientConfig(f.CAFile, f.CertFile, ""); err == nil {
		t.Error("ClientConfig() accepted a cert without key")
	}
}

func TestKeyPair_NotAfter(t *testing.T) {
	dir := t.TempDir()
	cert, key := tlstest.NewCA(t).Issue(t, dir, "short", 2*time.Hour)
	kp, err := LoadKeyPair(cert, key)
	if err != nil {
		t.Fatal(err)
	}
	if left := time.Until(kp.NotAfter()); left <= 0 || left > 2*time.Hour {
		t.Errorf("NotAfter() is %v away, want within 2h", left)
	}
}
