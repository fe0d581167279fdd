package keystore

import (
	"errors"
	"testing"
)

type failingCipher struct{}

var errSealed = errors.New("sealed")

func (failingCipher) Encrypt([]byte) ([]byte, error) { return nil, errSealed }
func (failingCipher) Decrypt([]byte) ([]byte, error) { return nil, errSealed }

func TestPasswordManager(t *testing.T) {
	t.Parallel()
	if _, err := NewPasswordManager(nil); err == nil {
		t.Fatal("expected error for nil cipher")
	}

	pm, err := NewPasswordManager(newTestCipher(t))
	if err != nil {
		t.Fatal(err)
	}
	ct, err := pm.Encrypt([]byte(testPassword))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pw, err := pm.Decrypt(&Container{ID: "c1", EncryptedPassword: ct})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pw) != testPassword {
		t.Errorf("Decrypt = %q", pw)
	}
	clearBytes(pw)
	for _, b := range pw {
		if b != 0 {
			t.Fatal("clearBytes left non-zero bytes")
		}
	}

	var cErr *CryptographyError
	if _, err := pm.Decrypt(&Container{ID: "c1"}); !errors.As(err, &cErr) {
		t.Errorf("missing password = %v, want CryptographyError", err)
	}

	failing, _ := NewPasswordManager(failingCipher{})
	_, err = failing.Decrypt(&Container{ID: "c2", EncryptedPassword: []byte{1}})
	if !errors.As(err, &cErr) || cErr.ContainerID != "c2" || !errors.Is(err, errSealed) {
		t.Errorf("cipher failure = %v, want CryptographyError wrapping cause", err)
	}
	if _, err := failing.Encrypt([]byte("x")); !errors.Is(err, errSealed) {
		t.Errorf("Encrypt failure = %v", err)
	}
}

func TestX509Extractor(t *testing.T) {
	t.Parallel()
	root := newCert(t, "Extract Root", "pt", nil)
	leaf := newCert(t, "extract.example.com", "", &root)

	meta, err := X509Extractor{}.Extract(leaf.cert.Raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meta.Subject != leaf.cert.Subject.String() || meta.Issuer != root.cert.Subject.String() {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Country != "" {
		t.Errorf("country = %q, want empty", meta.Country)
	}
	meta, _ = X509Extractor{}.Extract(root.cert.Raw)
	if meta.Country != "PT" {
		t.Errorf("root country = %q, want PT", meta.Country)
	}
	if _, err := (X509Extractor{}).Extract([]byte("garbage")); err == nil {
		t.Error("expected error for garbage DER")
	}
}
