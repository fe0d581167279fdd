package keystorekit

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Entry is one aliased item of a keystore container. A certificate entry has
// only Certificate set. A key entry additionally carries a PKCS#8 private key
// and its certificate chain, leaf first; Certificate is always the leaf.
type Entry struct {
	Alias        string
	Certificate  []byte   // DER
	Chain        [][]byte // DER, leaf first; key entries only
	PrivateKey   []byte   // PKCS#8; nil for certificate entries
	CreationTime time.Time
}

// IsKeyEntry reports whether the entry holds a private key.
func (e *Entry) IsKeyEntry() bool {
	return len(e.PrivateKey) > 0
}

// ParseCertificate parses the entry's leaf certificate.
func (e *Entry) ParseCertificate() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(e.Certificate)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate for alias %q: %w", e.Alias, err)
	}
	return cert, nil
}

// ParseChain parses the entry's certificate chain. Certificate entries
// return a single-element chain.
func (e *Entry) ParseChain() ([]*x509.Certificate, error) {
	raw := e.Chain
	if len(raw) == 0 {
		raw = [][]byte{e.Certificate}
	}
	chain := make([]*x509.Certificate, 0, len(raw))
	for i, der := range raw {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parsing chain certificate %d for alias %q: %w", i, e.Alias, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func (e *Entry) clone() *Entry {
	c := &Entry{
		Alias:        e.Alias,
		Certificate:  bytes.Clone(e.Certificate),
		PrivateKey:   bytes.Clone(e.PrivateKey),
		CreationTime: e.CreationTime,
	}
	if e.Chain != nil {
		c.Chain = make([][]byte, len(e.Chain))
		for i, der := range e.Chain {
			c.Chain[i] = bytes.Clone(der)
		}
	}
	return c
}

func (e *Entry) equal(o *Entry) bool {
	if e.Alias != o.Alias || !bytes.Equal(e.Certificate, o.Certificate) || !bytes.Equal(e.PrivateKey, o.PrivateKey) {
		return false
	}
	return slices.EqualFunc(e.Chain, o.Chain, bytes.Equal)
}

// EntrySet is the decoded, in-memory form of a container. Aliases are unique
// and case-sensitive. An EntrySet is not safe for concurrent use.
type EntrySet struct {
	entries map[string]*Entry
}

// NewEntrySet returns an empty set.
func NewEntrySet() *EntrySet {
	return &EntrySet{entries: make(map[string]*Entry)}
}

// Len returns the number of entries.
func (s *EntrySet) Len() int {
	return len(s.entries)
}

// Aliases returns all aliases in sorted order.
func (s *EntrySet) Aliases() []string {
	return slices.Sorted(maps.Keys(s.entries))
}

// Contains reports whether alias resolves to any entry.
func (s *EntrySet) Contains(alias string) bool {
	_, ok := s.entries[alias]
	return ok
}

// Get returns the entry stored under alias, or nil.
func (s *EntrySet) Get(alias string) *Entry {
	return s.entries[alias]
}

// IsKeyEntry reports whether alias resolves to a key entry.
func (s *EntrySet) IsKeyEntry(alias string) bool {
	e, ok := s.entries[alias]
	return ok && e.IsKeyEntry()
}

// Add inserts e and fails if its alias is already taken.
func (s *EntrySet) Add(e *Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if _, exists := s.entries[e.Alias]; exists {
		return fmt.Errorf("alias %q: %w", e.Alias, ErrAliasExists)
	}
	s.entries[e.Alias] = e
	return nil
}

// Delete removes alias and reports whether it was present.
func (s *EntrySet) Delete(alias string) bool {
	if _, ok := s.entries[alias]; !ok {
		return false
	}
	delete(s.entries, alias)
	return true
}

// Rename moves the entry at oldAlias to newAlias. Certificate entries are
// copied as-is; key entries keep their private key and chain. It fails with
// ErrAliasExists when newAlias is taken and ErrAliasNotFound when oldAlias
// is absent.
func (s *EntrySet) Rename(oldAlias, newAlias string) error {
	e, ok := s.entries[oldAlias]
	if !ok {
		return fmt.Errorf("alias %q: %w", oldAlias, ErrAliasNotFound)
	}
	if _, exists := s.entries[newAlias]; exists {
		return fmt.Errorf("alias %q: %w", newAlias, ErrAliasExists)
	}
	moved := e.clone()
	moved.Alias = newAlias
	s.entries[newAlias] = moved
	delete(s.entries, oldAlias)
	return nil
}

// Clone returns a deep copy of the set.
func (s *EntrySet) Clone() *EntrySet {
	c := NewEntrySet()
	for alias, e := range s.entries {
		c.entries[alias] = e.clone()
	}
	return c
}

// Equal reports whether both sets hold the same aliases with the same
// certificate, chain and key bytes. Creation times are ignored.
func (s *EntrySet) Equal(o *EntrySet) bool {
	if s.Len() != o.Len() {
		return false
	}
	for alias, e := range s.entries {
		oe, ok := o.entries[alias]
		if !ok || !e.equal(oe) {
			return false
		}
	}
	return true
}

func validateEntry(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.Alias == "" {
		return fmt.Errorf("%w: empty alias", ErrInvalidEntry)
	}
	if len(e.Certificate) == 0 {
		return fmt.Errorf("%w: alias %q has no certificate", ErrInvalidEntry, e.Alias)
	}
	return nil
}
