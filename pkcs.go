package keystorekit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// validatePKCS12KeyType checks that the private key is a supported type for PKCS#12 encoding.
func validatePKCS12KeyType(privateKey crypto.PrivateKey) error {
	switch privateKey.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
		return nil
	default:
		return fmt.Errorf("unsupported private key type %T", privateKey)
	}
}

// EncodePKCS12 creates a PKCS#12/PFX bundle from a private key, leaf cert,
// CA chain, and password. Returns the DER-encoded PKCS#12 data.
func EncodePKCS12(privateKey crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password string) ([]byte, error) {
	if err := validatePKCS12KeyType(privateKey); err != nil {
		return nil, err
	}
	return gopkcs12.Modern.Encode(privateKey, leaf, caCerts, password)
}

// EncodePKCS12TrustStore creates a certificate-only PKCS#12 trust store in
// which every certificate carries its alias as friendly name.
func EncodePKCS12TrustStore(certs map[string]*x509.Certificate, password string) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	entries := make([]gopkcs12.TrustStoreEntry, 0, len(certs))
	for alias, cert := range certs {
		entries = append(entries, gopkcs12.TrustStoreEntry{Cert: cert, FriendlyName: alias})
	}
	return gopkcs12.Modern.EncodeTrustStoreEntries(entries, password)
}

// DecodePKCS12 decodes a PKCS#12/PFX bundle and returns the private key, leaf certificate,
// and CA certificates. Returns an error if decoding fails.
func DecodePKCS12(pfxData []byte, password string) (crypto.PrivateKey, *x509.Certificate, []*x509.Certificate, error) {
	privateKey, leaf, caCerts, err := gopkcs12.DecodeChain(pfxData, password)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decoding PKCS#12: %w", err)
	}
	return privateKey, leaf, caCerts, nil
}

// EntryToPKCS12 exports a key entry as a PFX bundle protected by password.
func EntryToPKCS12(e *Entry, password string) ([]byte, error) {
	if !e.IsKeyEntry() {
		return nil, fmt.Errorf("alias %q is not a private key entry", e.Alias)
	}
	key, err := x509.ParsePKCS8PrivateKey(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key for alias %q: %w", e.Alias, err)
	}
	chain, err := e.ParseChain()
	if err != nil {
		return nil, err
	}
	return EncodePKCS12(key, chain[0], chain[1:], password)
}

// EntryFromPKCS12 builds a key entry from a PFX bundle. The key must match
// the bundle's leaf certificate.
func EntryFromPKCS12(alias string, pfxData []byte, password string) (*Entry, error) {
	key, leaf, caCerts, err := DecodePKCS12(pfxData, password)
	if err != nil {
		return nil, err
	}
	if key == nil || leaf == nil {
		return nil, errors.New("PKCS#12 bundle has no private key and certificate pair")
	}
	return NewKeyEntry(alias, key, append([]*x509.Certificate{leaf}, caCerts...))
}

// NewCertificateEntry builds a certificate-only entry.
func NewCertificateEntry(alias string, cert *x509.Certificate) *Entry {
	return &Entry{Alias: alias, Certificate: cert.Raw, CreationTime: time.Now()}
}

// NewKeyEntry builds a key entry from a private key and its chain, leaf
// first. The key is stored as PKCS#8.
func NewKeyEntry(alias string, key crypto.PrivateKey, chain []*x509.Certificate) (*Entry, error) {
	if len(chain) == 0 {
		return nil, errors.New("key entry requires at least one certificate")
	}
	key = normalizeKey(key)
	match, err := KeyMatchesCert(key, chain[0])
	if err != nil {
		return nil, fmt.Errorf("comparing key with certificate: %w", err)
	}
	if !match {
		return nil, ErrKeyMismatch
	}
	pkcs8Key, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key to PKCS#8: %w", err)
	}
	raw := make([][]byte, 0, len(chain))
	for _, c := range chain {
		raw = append(raw, c.Raw)
	}
	return &Entry{
		Alias:        alias,
		Certificate:  chain[0].Raw,
		Chain:        raw,
		PrivateKey:   pkcs8Key,
		CreationTime: time.Now(),
	}, nil
}

// EncodePKCS7 creates a certs-only PKCS#7/P7B bundle from a certificate chain.
// Returns the DER-encoded PKCS#7 SignedData structure.
func EncodePKCS7(certs []*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	var derBytes []byte
	for _, cert := range certs {
		derBytes = append(derBytes, cert.Raw...)
	}
	return pkcs7.DegenerateCertificate(derBytes)
}

// DecodePKCS7 decodes a DER-encoded PKCS#7 bundle and returns the certificates it contains.
// Returns an error if decoding fails or the bundle contains no certificates.
func DecodePKCS7(derData []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(derData)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, errors.New("PKCS#7 bundle contains no certificates")
	}
	return p7.Certificates, nil
}
