package keystorekit

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// testCA holds a CA certificate and its private key for signing leaf certs.
type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// testLeaf holds a leaf certificate signed by a CA, plus its private key.
type testLeaf struct {
	cert *x509.Certificate
	key  any
}

func newTestCA(t *testing.T, cn string) testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn, Country: []string{"de"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}
	return testCA{cert: cert, key: key}
}

func newTestLeaf(t *testing.T, ca testCA, cn string) testLeaf {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	return signLeaf(t, ca, cn, key, &key.PublicKey)
}

func newRSATestLeaf(t *testing.T, ca testCA, cn string) testLeaf {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA leaf key: %v", err)
	}
	return signLeaf(t, ca, cn, key, &key.PublicKey)
}

func signLeaf(t *testing.T, ca testCA, cn string, key, pub any) testLeaf {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"FR"}},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, pub, ca.key)
	if err != nil {
		t.Fatalf("create leaf cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse leaf cert: %v", err)
	}
	return testLeaf{cert: cert, key: key}
}

// buildJKS writes a keystore with keystore-go directly, independent of the
// codec under test.
func buildJKS(t *testing.T, password string, trusted map[string]*x509.Certificate, keys map[string]testLeaf, ca testCA) []byte {
	t.Helper()
	ks := keystore.New(keystore.WithCaseExactAliases())
	for alias, cert := range trusted {
		if err := ks.SetTrustedCertificateEntry(alias, keystore.TrustedCertificateEntry{
			CreationTime: time.Now(),
			Certificate:  keystore.Certificate{Type: "X.509", Content: cert.Raw},
		}); err != nil {
			t.Fatalf("set trusted entry %q: %v", alias, err)
		}
	}
	for alias, leaf := range keys {
		pkcs8Key, err := x509.MarshalPKCS8PrivateKey(leaf.key)
		if err != nil {
			t.Fatalf("marshal PKCS8: %v", err)
		}
		if err := ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
			CreationTime: time.Now(),
			PrivateKey:   pkcs8Key,
			CertificateChain: []keystore.Certificate{
				{Type: "X.509", Content: leaf.cert.Raw},
				{Type: "X.509", Content: ca.cert.Raw},
			},
		}, []byte(password)); err != nil {
			t.Fatalf("set private key entry %q: %v", alias, err)
		}
	}
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		t.Fatalf("store JKS: %v", err)
	}
	return buf.Bytes()
}
