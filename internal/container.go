package internal

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/sensiblebit/keystorekit"
)

// Material is a certificate chain, leaf first, with an optional private key
// read from a file the user wants to store.
type Material struct {
	Chain []*x509.Certificate
	Key   crypto.PrivateKey
}

// LoadMaterialFile reads a file and parses it with ParseMaterial.
func LoadMaterialFile(path, password string) (*Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := ParseMaterial(data, password)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// ParseMaterial tries PEM, PKCS#12, PKCS#7 and DER in that order. password
// only applies to PKCS#12 input.
func ParseMaterial(data []byte, password string) (*Material, error) {
	if keystorekit.IsPEM(data) {
		certs, _ := keystorekit.ParsePEMCertificates(data)
		key := findPEMPrivateKey(data)
		if len(certs) > 0 {
			return &Material{Chain: certs, Key: key}, nil
		}
		return nil, fmt.Errorf("PEM input contains no certificates")
	}

	if key, leaf, cas, err := keystorekit.DecodePKCS12(data, password); err == nil {
		return &Material{Chain: append([]*x509.Certificate{leaf}, cas...), Key: key}, nil
	}

	if certs, err := keystorekit.ParseCertificatesAny(data); err == nil && len(certs) > 0 {
		return &Material{Chain: certs}, nil
	}

	return nil, fmt.Errorf("could not parse as PEM, PKCS#12, PKCS#7, or DER")
}

// findPEMPrivateKey returns the first parseable private key block in data,
// or nil when there is none.
func findPEMPrivateKey(data []byte) crypto.PrivateKey {
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.Contains(block.Type, "PRIVATE KEY") {
			continue
		}
		key, err := keystorekit.ParsePEMPrivateKey(pem.EncodeToMemory(block))
		if err == nil && key != nil {
			return key
		}
	}
	return nil
}
