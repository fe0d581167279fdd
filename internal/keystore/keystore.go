// Package keystore manages entries of encrypted keystore containers and keeps
// a searchable index of their contents in sync with every mutation.
package keystore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the validation state recorded for an indexed entry.
type Status string

const (
	StatusCorrect   Status = "CORRECT"
	StatusExpired   Status = "EXPIRED"
	StatusRevoked   Status = "REVOKED"
	StatusUntrusted Status = "UNTRUSTED"
	StatusUnknown   Status = "UNKNOWN"
)

// ParseStatus converts a case-insensitive status name. An empty string maps
// to StatusUnknown.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case "":
		return StatusUnknown, nil
	case StatusCorrect, StatusExpired, StatusRevoked, StatusUntrusted, StatusUnknown:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Container is a stored keystore: an encoded blob plus the encrypted password
// that opens it. Version increases by one with every persisted mutation.
type Container struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Type              string    `db:"keystore_type"`
	Blob              []byte    `db:"data"`
	EncryptedPassword []byte    `db:"encrypted_password"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// clone returns a deep copy so callers cannot mutate stored state.
func (c *Container) clone() *Container {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Blob = append([]byte(nil), c.Blob...)
	cp.EncryptedPassword = append([]byte(nil), c.EncryptedPassword...)
	return &cp
}

// IndexRow is the searchable metadata of one entry of one container.
type IndexRow struct {
	Alias         string    `db:"alias" json:"alias" yaml:"alias"`
	ContainerID   string    `db:"container_id" json:"container_id" yaml:"container_id"`
	Subject       string    `db:"subject" json:"subject" yaml:"subject"`
	Issuer        string    `db:"issuer" json:"issuer" yaml:"issuer"`
	Country       string    `db:"country" json:"country,omitempty" yaml:"country,omitempty"`
	HasPrivateKey bool      `db:"has_private_key" json:"has_private_key" yaml:"has_private_key"`
	Status        Status    `db:"status" json:"status" yaml:"status"`
	Validated     bool      `db:"validated" json:"validated" yaml:"validated"`
	Fingerprint   string    `db:"fingerprint" json:"fingerprint" yaml:"fingerprint"`
	NotAfter      time.Time `db:"not_after" json:"not_after" yaml:"not_after"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at" yaml:"updated_at"`
}

// IndexQuery filters index rows. Zero-valued fields match everything; string
// fields match as case-insensitive substrings except Country and Status,
// which match exactly.
type IndexQuery struct {
	ContainerID   string
	Subject       string
	Issuer        string
	Country       string
	Status        Status
	HasPrivateKey *bool
}

func (q IndexQuery) matches(r *IndexRow) bool {
	if q.ContainerID != "" && r.ContainerID != q.ContainerID {
		return false
	}
	if q.Subject != "" && !containsFold(r.Subject, q.Subject) {
		return false
	}
	if q.Issuer != "" && !containsFold(r.Issuer, q.Issuer) {
		return false
	}
	if q.Country != "" && !strings.EqualFold(r.Country, q.Country) {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.HasPrivateKey != nil && r.HasPrivateKey != *q.HasPrivateKey {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Metadata is what the index needs to know about a certificate.
type Metadata struct {
	Subject     string
	Issuer      string
	Country     string
	Fingerprint string
	NotAfter    time.Time
}

// ContainerStore persists container records.
type ContainerStore interface {
	GetContainer(ctx context.Context, id string) (*Container, error)
	CreateContainer(ctx context.Context, c *Container) error
	// SaveContainer writes c only if the stored version equals
	// expectedVersion, and returns ErrVersionConflict otherwise.
	SaveContainer(ctx context.Context, c *Container, expectedVersion int64) error
	ListContainers(ctx context.Context) ([]*Container, error)
}

// IndexStore persists index rows keyed by (container id, alias).
type IndexStore interface {
	UpsertIndexRow(ctx context.Context, row *IndexRow) error
	DeleteIndexRow(ctx context.Context, containerID, alias string) error
	// FindIndexRow returns nil, nil when no row exists.
	FindIndexRow(ctx context.Context, containerID, alias string) (*IndexRow, error)
	ListIndexRows(ctx context.Context, containerID string) ([]*IndexRow, error)
	SearchIndexRows(ctx context.Context, q IndexQuery) ([]*IndexRow, error)
}

// Repository combines both stores with a unit of work. Writes made through
// the Repository passed to fn commit together or not at all.
type Repository interface {
	ContainerStore
	IndexStore
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// PasswordCipher encrypts and decrypts container passwords.
type PasswordCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// MetadataExtractor derives index fields from a DER certificate.
type MetadataExtractor interface {
	Extract(certDER []byte) (Metadata, error)
}
