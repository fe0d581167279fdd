package keystorekit

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

const x509CertType = "X.509"

func newJKS() keystore.KeyStore {
	return keystore.New(keystore.WithOrderedAliases(), keystore.WithCaseExactAliases())
}

// decodeJKS loads a Java KeyStore. The same password protects the store and
// every key entry. Any unreadable entry fails the whole decode.
func decodeJKS(data []byte, password []byte) (*EntrySet, error) {
	ks := newJKS()
	if err := ks.Load(bytes.NewReader(data), bytes.Clone(password)); err != nil {
		return nil, fmt.Errorf("loading JKS: %w", err)
	}

	set := NewEntrySet()
	for _, alias := range ks.Aliases() {
		switch {
		case ks.IsPrivateKeyEntry(alias):
			entry, err := ks.GetPrivateKeyEntry(alias, bytes.Clone(password))
			if err != nil {
				return nil, fmt.Errorf("recovering private key entry %q: %w", alias, err)
			}
			if len(entry.CertificateChain) == 0 {
				return nil, fmt.Errorf("private key entry %q has no certificate chain", alias)
			}
			chain := make([][]byte, 0, len(entry.CertificateChain))
			for _, c := range entry.CertificateChain {
				chain = append(chain, c.Content)
			}
			set.entries[alias] = &Entry{
				Alias:        alias,
				Certificate:  chain[0],
				Chain:        chain,
				PrivateKey:   entry.PrivateKey,
				CreationTime: entry.CreationTime,
			}

		case ks.IsTrustedCertificateEntry(alias):
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				return nil, fmt.Errorf("reading trusted certificate entry %q: %w", alias, err)
			}
			set.entries[alias] = &Entry{
				Alias:        alias,
				Certificate:  entry.Certificate.Content,
				CreationTime: entry.CreationTime,
			}

		default:
			return nil, fmt.Errorf("entry %q has an unknown type", alias)
		}
	}
	return set, nil
}

// encodeJKS serializes set as a Java KeyStore protected by password.
func encodeJKS(set *EntrySet, password []byte) ([]byte, error) {
	ks := newJKS()
	now := time.Now()

	for _, alias := range set.Aliases() {
		e := set.entries[alias]
		created := e.CreationTime
		if created.IsZero() {
			created = now
		}

		if !e.IsKeyEntry() {
			err := ks.SetTrustedCertificateEntry(alias, keystore.TrustedCertificateEntry{
				CreationTime: created,
				Certificate:  keystore.Certificate{Type: x509CertType, Content: e.Certificate},
			})
			if err != nil {
				return nil, &EncodeError{Alias: alias, Err: err}
			}
			continue
		}

		chain := e.Chain
		if len(chain) == 0 {
			chain = [][]byte{e.Certificate}
		}
		if !bytes.Equal(chain[0], e.Certificate) {
			return nil, &EncodeError{Alias: alias, Err: fmt.Errorf("%w: chain does not start with the entry certificate", ErrInvalidEntry)}
		}
		certs := make([]keystore.Certificate, 0, len(chain))
		for _, der := range chain {
			certs = append(certs, keystore.Certificate{Type: x509CertType, Content: der})
		}
		err := ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
			CreationTime:     created,
			PrivateKey:       e.PrivateKey,
			CertificateChain: certs,
		}, bytes.Clone(password))
		if err != nil {
			return nil, &EncodeError{Alias: alias, Err: fmt.Errorf("setting private key entry: %w", err)}
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, bytes.Clone(password)); err != nil {
		return nil, fmt.Errorf("storing JKS: %w", err)
	}
	return buf.Bytes(), nil
}
