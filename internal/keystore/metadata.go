package keystore

import (
	"crypto/x509"
	"fmt"

	"github.com/sensiblebit/keystorekit"
)

// X509Extractor reads index metadata from X.509 certificates.
type X509Extractor struct{}

// Extract parses certDER and returns its subject and issuer distinguished
// names, subject country, SHA-256 fingerprint and expiry.
func (X509Extractor) Extract(certDER []byte) (Metadata, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return Metadata{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return Metadata{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Country:     keystorekit.CountryCode(cert),
		Fingerprint: keystorekit.CertFingerprint(cert),
		NotAfter:    cert.NotAfter.UTC(),
	}, nil
}
