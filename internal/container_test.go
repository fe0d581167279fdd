package internal

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sensiblebit/keystorekit"
)

func TestLoadMaterialFile_NotFound(t *testing.T) {
	// WHY: A nonexistent file must return an error, not panic or return empty material.
	t.Parallel()
	_, err := LoadMaterialFile("/nonexistent/file.pem", "")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "reading") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseMaterial_Formats(t *testing.T) {
	t.Parallel()
	ca := newRSACA(t)
	leaf := newECDSALeaf(t, ca, "material.example.com")

	pfx, err := keystorekit.EncodePKCS12(leaf.key, leaf.cert, []*x509.Certificate{ca.cert}, "pfx-pass")
	if err != nil {
		t.Fatal(err)
	}
	p7, err := keystorekit.EncodePKCS7([]*x509.Certificate{leaf.cert, ca.cert})
	if err != nil {
		t.Fatal(err)
	}
	pemBundle := append(append(append([]byte{}, leaf.certPEM...), ca.certPEM...), leaf.keyPEM...)

	tests := []struct {
		name      string
		data      []byte
		password  string
		wantCerts int
		wantKey   bool
		anyOrder  bool
	}{
		{name: "pem_chain_with_key", data: pemBundle, wantCerts: 2, wantKey: true},
		{name: "pem_cert_only", data: leaf.certPEM, wantCerts: 1},
		{name: "pkcs12", data: pfx, password: "pfx-pass", wantCerts: 2, wantKey: true},
		{name: "pkcs7", data: p7, wantCerts: 2, anyOrder: true},
		{name: "der", data: leaf.certDER, wantCerts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := ParseMaterial(tt.data, tt.password)
			if err != nil {
				t.Fatalf("ParseMaterial: %v", err)
			}
			if len(m.Chain) != tt.wantCerts {
				t.Fatalf("got %d certs, want %d", len(m.Chain), tt.wantCerts)
			}
			if !tt.anyOrder && !m.Chain[0].Equal(leaf.cert) {
				t.Error("leaf is not first in chain")
			}
			if (m.Key != nil) != tt.wantKey {
				t.Errorf("key present = %v, want %v", m.Key != nil, tt.wantKey)
			}
		})
	}
}

func TestParseMaterial_Errors(t *testing.T) {
	// WHY: a PEM key without any certificate cannot become an entry, and a
	// PKCS#12 file opened with the wrong password must not fall through to
	// a silent DER parse success.
	t.Parallel()
	ca := newRSACA(t)
	leaf := newECDSALeaf(t, ca, "errors.example.com")
	pfx, err := keystorekit.EncodePKCS12(leaf.key, leaf.cert, nil, "right")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		data     []byte
		password string
	}{
		{name: "key_only_pem", data: leaf.keyPEM},
		{name: "pkcs12_wrong_password", data: pfx, password: "wrong"},
		{name: "garbage", data: []byte("not a certificate")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseMaterial(tt.data, tt.password); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMaterialFile(t *testing.T) {
	t.Parallel()
	ca := newRSACA(t)
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, ca.certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMaterialFile(path, "")
	if err != nil {
		t.Fatalf("LoadMaterialFile: %v", err)
	}
	if len(m.Chain) != 1 || m.Key != nil {
		t.Errorf("unexpected material: %d certs, key %v", len(m.Chain), m.Key != nil)
	}
}
