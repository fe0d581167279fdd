package keystore

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/sensiblebit/keystorekit"
)

// ExportPKCS12 returns the key entry under alias as a PFX bundle protected
// by exportPassword.
func (s *Service) ExportPKCS12(ctx context.Context, alias, containerID, exportPassword string) ([]byte, error) {
	if alias == "" {
		return nil, &ValidationError{Field: "alias"}
	}
	set, err := s.read(ctx, OpExport, alias, containerID)
	if err != nil {
		return nil, err
	}
	e := set.Get(alias)
	if e == nil {
		return nil, fmt.Errorf("exporting %q: %w", alias, keystorekit.ErrAliasNotFound)
	}
	if !e.IsKeyEntry() {
		return nil, fmt.Errorf("exporting %q: %w", alias, ErrNotKeyEntry)
	}
	pfx, err := keystorekit.EntryToPKCS12(e, exportPassword)
	if err != nil {
		return nil, fmt.Errorf("exporting %q as PKCS#12: %w", alias, err)
	}
	return pfx, nil
}

// ExportTrustStore returns the certificate of every entry as a
// certificate-only PKCS#12 trust store. Each certificate carries its alias
// as friendly name; private keys are never included.
func (s *Service) ExportTrustStore(ctx context.Context, containerID, exportPassword string) ([]byte, error) {
	set, err := s.read(ctx, OpExport, "", containerID)
	if err != nil {
		return nil, err
	}
	certs := make(map[string]*x509.Certificate, set.Len())
	for _, alias := range set.Aliases() {
		cert, err := set.Get(alias).ParseCertificate()
		if err != nil {
			return nil, fmt.Errorf("parsing certificate %q: %w", alias, err)
		}
		certs[alias] = cert
	}
	pfx, err := keystorekit.EncodePKCS12TrustStore(certs, exportPassword)
	if err != nil {
		return nil, fmt.Errorf("exporting container %s as trust store: %w", containerID, err)
	}
	return pfx, nil
}

// ExportPKCS7 returns every distinct certificate of the container, chains
// included, as a certs-only PKCS#7 bundle.
func (s *Service) ExportPKCS7(ctx context.Context, containerID string) ([]byte, error) {
	set, err := s.read(ctx, OpExport, "", containerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var certs []*x509.Certificate
	for _, alias := range set.Aliases() {
		chain, err := set.Get(alias).ParseChain()
		if err != nil {
			return nil, fmt.Errorf("parsing chain %q: %w", alias, err)
		}
		for _, c := range chain {
			fp := keystorekit.CertFingerprint(c)
			if seen[fp] {
				continue
			}
			seen[fp] = true
			certs = append(certs, c)
		}
	}
	p7, err := keystorekit.EncodePKCS7(certs)
	if err != nil {
		return nil, fmt.Errorf("exporting container %s as PKCS#7: %w", containerID, err)
	}
	return p7, nil
}

// ExportPEM returns the chain under alias as PEM, followed by the private
// key when includeKey is set and the entry has one.
func (s *Service) ExportPEM(ctx context.Context, alias, containerID string, includeKey bool) ([]byte, error) {
	if alias == "" {
		return nil, &ValidationError{Field: "alias"}
	}
	set, err := s.read(ctx, OpExport, alias, containerID)
	if err != nil {
		return nil, err
	}
	e := set.Get(alias)
	if e == nil {
		return nil, fmt.Errorf("exporting %q: %w", alias, keystorekit.ErrAliasNotFound)
	}
	chain, err := e.ParseChain()
	if err != nil {
		return nil, fmt.Errorf("parsing chain %q: %w", alias, err)
	}
	var b strings.Builder
	for _, c := range chain {
		b.WriteString(keystorekit.CertToPEM(c))
	}
	if includeKey && e.IsKeyEntry() {
		b.WriteString(keystorekit.PKCS8ToPEM(e.PrivateKey))
	}
	return []byte(b.String()), nil
}

// ImportPKCS12 stores the key and chain of a PFX bundle under alias. Like
// StoreCertificate, an existing alias is left untouched.
func (s *Service) ImportPKCS12(ctx context.Context, alias string, pfx []byte, pfxPassword string, status Status, validated bool, containerID string) error {
	if alias == "" {
		return &ValidationError{Field: "alias"}
	}
	if len(pfx) == 0 {
		return &ValidationError{Field: "pfx"}
	}
	entry, err := keystorekit.EntryFromPKCS12(alias, pfx, pfxPassword)
	if err != nil {
		return fmt.Errorf("importing PKCS#12 as %q: %w", alias, err)
	}
	return s.storeEntry(ctx, OpImport, entry, status, validated, containerID)
}
