package internal

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sensiblebit/keystorekit"
	"gopkg.in/yaml.v3"
)

// InspectResult describes one certificate or key of a keystore entry.
type InspectResult struct {
	Alias     string `json:"alias" yaml:"alias"`
	Type      string `json:"type" yaml:"type"`
	Position  int    `json:"position,omitempty" yaml:"position,omitempty"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Serial    string `json:"serial,omitempty" yaml:"serial,omitempty"`
	NotBefore string `json:"not_before,omitempty" yaml:"not_before,omitempty"`
	NotAfter  string `json:"not_after,omitempty" yaml:"not_after,omitempty"`
	KeyAlgo   string `json:"key_algorithm,omitempty" yaml:"key_algorithm,omitempty"`
	KeySize   string `json:"key_size,omitempty" yaml:"key_size,omitempty"`
	SHA256    string `json:"sha256_fingerprint,omitempty" yaml:"sha256_fingerprint,omitempty"`
	SigAlg    string `json:"signature_algorithm,omitempty" yaml:"signature_algorithm,omitempty"`
}

// InspectEntry returns one result per chain certificate, leaf first, followed
// by one for key when it is non-nil.
func InspectEntry(alias string, chain []*x509.Certificate, key crypto.PrivateKey) []InspectResult {
	results := make([]InspectResult, 0, len(chain)+1)
	for i, cert := range chain {
		r := inspectCert(cert)
		r.Alias = alias
		r.Position = i
		results = append(results, r)
	}
	if key != nil {
		r := inspectKey(key)
		r.Alias = alias
		results = append(results, r)
	}
	return results
}

func inspectCert(cert *x509.Certificate) InspectResult {
	return InspectResult{
		Type:      "certificate",
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.String(),
		NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
		KeyAlgo:   cert.PublicKeyAlgorithm.String(),
		KeySize:   publicKeySize(cert.PublicKey),
		SHA256:    keystorekit.CertFingerprint(cert),
		SigAlg:    cert.SignatureAlgorithm.String(),
	}
}

func inspectKey(key crypto.PrivateKey) InspectResult {
	r := InspectResult{
		Type:    "private_key",
		KeyAlgo: keystorekit.KeyAlgorithmName(key),
		KeySize: "unknown",
	}
	if pub, err := keystorekit.GetPublicKey(key); err == nil {
		r.KeySize = publicKeySize(pub)
	}
	return r
}

func publicKeySize(pub any) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return k.Curve.Params().Name
	case ed25519.PublicKey:
		return "256"
	default:
		return "unknown"
	}
}

// FormatInspectResults formats inspection results as text, JSON, or YAML.
func FormatInspectResults(results []InspectResult, format string) (string, error) {
	switch format {
	case "text":
		return formatInspectText(results), nil
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshaling YAML: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use text, json, or yaml)", format)
	}
}

func formatInspectText(results []InspectResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch r.Type {
		case "certificate":
			fmt.Fprintf(&sb, "Certificate [%s #%d]:\n", r.Alias, r.Position)
			fmt.Fprintf(&sb, "  Subject:     %s\n", r.Subject)
			fmt.Fprintf(&sb, "  Issuer:      %s\n", r.Issuer)
			fmt.Fprintf(&sb, "  Serial:      %s\n", r.Serial)
			fmt.Fprintf(&sb, "  Not Before:  %s\n", r.NotBefore)
			fmt.Fprintf(&sb, "  Not After:   %s\n", r.NotAfter)
			fmt.Fprintf(&sb, "  Key:         %s %s\n", r.KeyAlgo, r.KeySize)
			fmt.Fprintf(&sb, "  Signature:   %s\n", r.SigAlg)
			fmt.Fprintf(&sb, "  SHA-256:     %s\n", r.SHA256)
		case "private_key":
			fmt.Fprintf(&sb, "Private Key [%s]:\n", r.Alias)
			fmt.Fprintf(&sb, "  Type:        %s\n", r.KeyAlgo)
			fmt.Fprintf(&sb, "  Size:        %s\n", r.KeySize)
		}
	}
	return sb.String()
}
