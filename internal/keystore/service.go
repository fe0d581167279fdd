package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sensiblebit/keystorekit"
)

// ErrKeyMismatch is returned when a private key does not belong to the
// certificate it is stored with.
var ErrKeyMismatch = keystorekit.ErrKeyMismatch

// Config wires a Service to its collaborators.
type Config struct {
	Repository Repository
	Cipher     PasswordCipher
	// Extractor defaults to X509Extractor.
	Extractor MetadataExtractor
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service performs entry mutations and reads on stored containers. Every
// mutation decodes the whole container, applies the change in memory,
// re-encodes it and persists the blob together with the matching index
// change in one unit of work. Mutations on the same container are serialized.
type Service struct {
	repo      Repository
	passwords *PasswordManager
	extractor MetadataExtractor
	locks     *containerLocks
	logger    *slog.Logger
	now       func() time.Time
}

// NewService validates cfg and returns a ready Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	pm, err := NewPasswordManager(cfg.Cipher)
	if err != nil {
		return nil, err
	}
	s := &Service{
		repo:      cfg.Repository,
		passwords: pm,
		extractor: cfg.Extractor,
		locks:     newContainerLocks(),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.extractor == nil {
		s.extractor = X509Extractor{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// session is a decoded container plus the plaintext password that opened
// it. close must be called to zero the password.
type session struct {
	container *Container
	entries   *keystorekit.EntrySet
	password  []byte
}

func (s *session) close() {
	clearBytes(s.password)
	s.password = nil
}

// open loads, decrypts and decodes a container.
func (s *Service) open(ctx context.Context, op, alias, containerID string) (*session, error) {
	c, err := s.repo.GetContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("loading container %s: %w", containerID, err)
	}
	pw, err := s.passwords.Decrypt(c)
	if err != nil {
		return nil, s.cryptoFailure(op, alias, containerID, err)
	}
	set, err := keystorekit.Decode(c.Blob, c.Type, pw)
	if err != nil {
		clearBytes(pw)
		return nil, s.cryptoFailure(op, alias, containerID, err)
	}
	return &session{container: c, entries: set, password: pw}, nil
}

// cryptoFailure wraps err as a CryptographyError, logs it and returns it.
func (s *Service) cryptoFailure(op, alias, containerID string, err error) error {
	var cryptoErr *CryptographyError
	if errors.As(err, &cryptoErr) {
		if cryptoErr.Op == "" {
			cryptoErr.Op = op
		}
		if cryptoErr.Alias == "" {
			cryptoErr.Alias = alias
		}
		if cryptoErr.ContainerID == "" {
			cryptoErr.ContainerID = containerID
		}
	} else {
		cryptoErr = &CryptographyError{Op: op, Alias: alias, ContainerID: containerID, Err: err}
	}
	s.logger.Error("keystore cryptography failure",
		"op", op,
		"alias", alias,
		"container", containerID,
		"error", cryptoErr.Err,
	)
	return cryptoErr
}

// commit encodes the session's entry set and, in one unit of work, persists
// it as the next container version and applies the index change.
func (s *Service) commit(ctx context.Context, op, alias string, sess *session, index func(tx Repository) error) error {
	blob, err := keystorekit.Encode(sess.entries, sess.container.Type, sess.password)
	if err != nil {
		return s.cryptoFailure(op, alias, sess.container.ID, err)
	}
	expected := sess.container.Version
	next := sess.container.clone()
	next.Blob = blob
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.SaveContainer(ctx, next, expected); err != nil {
			return fmt.Errorf("saving container: %w", err)
		}
		return index(tx)
	})
	if err != nil {
		return fmt.Errorf("persisting container %s: %w", sess.container.ID, err)
	}
	s.logger.Debug("container updated", "op", op, "alias", alias, "container", next.ID, "version", next.Version)
	return nil
}

// mutate runs fn under the container lock and records metrics. fn reports
// whether it persisted a change.
func (s *Service) mutate(ctx context.Context, op, containerID string, fn func() (bool, error)) (err error) {
	start := time.Now()
	changed := false
	defer func() { recordOperation(op, start, changed, err) }()

	unlock, err := s.locks.acquire(ctx, containerID)
	if err != nil {
		return fmt.Errorf("waiting for container %s: %w", containerID, err)
	}
	defer unlock()
	changed, err = fn()
	return err
}

// read decodes a container without taking the lock. The password is zeroed
// before read returns.
func (s *Service) read(ctx context.Context, op, alias, containerID string) (set *keystorekit.EntrySet, err error) {
	start := time.Now()
	defer func() { recordOperation(op, start, true, err) }()

	if containerID == "" {
		return nil, &ValidationError{Field: "containerID"}
	}
	sess, err := s.open(ctx, op, alias, containerID)
	if err != nil {
		return nil, err
	}
	sess.close()
	return sess.entries, nil
}

func (s *Service) indexRow(containerID, alias string, meta Metadata, hasKey bool, status Status, validated bool) *IndexRow {
	return &IndexRow{
		Alias:         alias,
		ContainerID:   containerID,
		Subject:       meta.Subject,
		Issuer:        meta.Issuer,
		Country:       meta.Country,
		HasPrivateKey: hasKey,
		Status:        status,
		Validated:     validated,
		Fingerprint:   meta.Fingerprint,
		NotAfter:      meta.NotAfter,
		UpdatedAt:     s.now().UTC(),
	}
}

func normalizeStatus(status Status) (Status, error) {
	st, err := ParseStatus(string(status))
	if err != nil {
		return "", &ValidationError{Field: "status", Reason: err.Error()}
	}
	return st, nil
}

// CreateContainer stores a new empty container protected by password.
func (s *Service) CreateContainer(ctx context.Context, name, typ string, password []byte) (c *Container, err error) {
	start := time.Now()
	defer func() { recordOperation(OpCreateContainer, start, err == nil, err) }()

	if name == "" {
		return nil, &ValidationError{Field: "name"}
	}
	if len(password) == 0 {
		return nil, &ValidationError{Field: "password"}
	}
	if typ == "" {
		typ = keystorekit.TypeJKS
	}
	typ = keystorekit.NormalizeType(typ)
	if !keystorekit.SupportedType(typ) {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported keystore type %q", typ)}
	}

	id := uuid.NewString()
	blob, err := keystorekit.Encode(keystorekit.NewEntrySet(), typ, password)
	if err != nil {
		return nil, s.cryptoFailure(OpCreateContainer, "", id, err)
	}
	encPW, err := s.passwords.Encrypt(password)
	if err != nil {
		return nil, s.cryptoFailure(OpCreateContainer, "", id, err)
	}

	now := s.now().UTC()
	c = &Container{
		ID:                id,
		Name:              name,
		Type:              typ,
		Blob:              blob,
		EncryptedPassword: encPW,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateContainer(ctx, c); err != nil {
		return nil, fmt.Errorf("creating container %q: %w", name, err)
	}
	s.logger.Info("container created", "container", id, "name", name, "type", typ)
	return c.clone(), nil
}

// GetContainer returns the stored container record.
func (s *Service) GetContainer(ctx context.Context, containerID string) (*Container, error) {
	if containerID == "" {
		return nil, &ValidationError{Field: "containerID"}
	}
	return s.repo.GetContainer(ctx, containerID)
}

// ListContainers returns every stored container.
func (s *Service) ListContainers(ctx context.Context) ([]*Container, error) {
	return s.repo.ListContainers(ctx)
}

// StoreCertificate adds cert under alias, paired with key when key is not
// nil. An alias that already exists is left untouched and nothing is
// persisted.
func (s *Service) StoreCertificate(ctx context.Context, alias string, cert *x509.Certificate, key crypto.PrivateKey, status Status, validated bool, containerID string) error {
	if alias == "" {
		return &ValidationError{Field: "alias"}
	}
	if cert == nil {
		return &ValidationError{Field: "certificate"}
	}
	if key == nil {
		return s.storeEntry(ctx, OpStore, keystorekit.NewCertificateEntry(alias, cert), status, validated, containerID)
	}
	entry, err := keystorekit.NewKeyEntry(alias, key, []*x509.Certificate{cert})
	if err != nil {
		return fmt.Errorf("building key entry %q: %w", alias, err)
	}
	return s.storeEntry(ctx, OpStore, entry, status, validated, containerID)
}

// StoreChain adds a key entry whose chain is given leaf first. A nil key is
// accepted only for a single certificate, which is stored as a
// certificate entry.
func (s *Service) StoreChain(ctx context.Context, alias string, chain []*x509.Certificate, key crypto.PrivateKey, status Status, validated bool, containerID string) error {
	if alias == "" {
		return &ValidationError{Field: "alias"}
	}
	if len(chain) == 0 || chain[0] == nil {
		return &ValidationError{Field: "chain"}
	}
	if key == nil {
		if len(chain) > 1 {
			return &ValidationError{Field: "key", Reason: "required for a certificate chain"}
		}
		return s.storeEntry(ctx, OpStoreChain, keystorekit.NewCertificateEntry(alias, chain[0]), status, validated, containerID)
	}
	entry, err := keystorekit.NewKeyEntry(alias, key, chain)
	if err != nil {
		return fmt.Errorf("building key entry %q: %w", alias, err)
	}
	return s.storeEntry(ctx, OpStoreChain, entry, status, validated, containerID)
}

func (s *Service) storeEntry(ctx context.Context, op string, entry *keystorekit.Entry, status Status, validated bool, containerID string) error {
	if containerID == "" {
		return &ValidationError{Field: "containerID"}
	}
	status, err := normalizeStatus(status)
	if err != nil {
		return err
	}
	alias := entry.Alias

	return s.mutate(ctx, op, containerID, func() (bool, error) {
		sess, err := s.open(ctx, op, alias, containerID)
		if err != nil {
			return false, err
		}
		defer sess.close()

		if sess.entries.Contains(alias) {
			s.logger.Info("alias already present, entry left untouched", "op", op, "alias", alias, "container", containerID)
			return false, nil
		}
		if err := sess.entries.Add(entry); err != nil {
			return false, fmt.Errorf("adding entry %q: %w", alias, err)
		}
		meta, err := s.extractor.Extract(entry.Certificate)
		if err != nil {
			return false, fmt.Errorf("extracting metadata for alias %q: %w", alias, err)
		}
		row := s.indexRow(containerID, alias, meta, entry.IsKeyEntry(), status, validated)

		err = s.commit(ctx, op, alias, sess, func(tx Repository) error {
			if err := tx.UpsertIndexRow(ctx, row); err != nil {
				return fmt.Errorf("upserting index row: %w", err)
			}
			return nil
		})
		return err == nil, err
	})
}

// UpdateCertificateAlias renames oldAlias to newAlias, carrying over the
// private key and chain of key entries. It fails with DuplicateAliasError
// when newAlias is taken and does nothing when oldAlias is absent.
func (s *Service) UpdateCertificateAlias(ctx context.Context, oldAlias, newAlias, containerID string) error {
	if oldAlias == "" {
		return &ValidationError{Field: "oldAlias"}
	}
	if newAlias == "" {
		return &ValidationError{Field: "newAlias"}
	}
	if containerID == "" {
		return &ValidationError{Field: "containerID"}
	}

	return s.mutate(ctx, OpRename, containerID, func() (bool, error) {
		sess, err := s.open(ctx, OpRename, oldAlias, containerID)
		if err != nil {
			return false, err
		}
		defer sess.close()

		if sess.entries.Contains(newAlias) {
			return false, &DuplicateAliasError{Alias: newAlias, ContainerID: containerID}
		}
		if !sess.entries.Contains(oldAlias) {
			s.logger.Info("alias not present, nothing to rename", "alias", oldAlias, "container", containerID)
			return false, nil
		}
		if err := sess.entries.Rename(oldAlias, newAlias); err != nil {
			return false, fmt.Errorf("renaming entry %q: %w", oldAlias, err)
		}
		renamed := sess.entries.Get(newAlias)
		meta, err := s.extractor.Extract(renamed.Certificate)
		if err != nil {
			return false, fmt.Errorf("extracting metadata for alias %q: %w", newAlias, err)
		}

		err = s.commit(ctx, OpRename, newAlias, sess, func(tx Repository) error {
			old, err := tx.FindIndexRow(ctx, containerID, oldAlias)
			if err != nil {
				return fmt.Errorf("finding index row %q: %w", oldAlias, err)
			}
			var row *IndexRow
			if old == nil {
				s.logger.Warn("index row missing for renamed alias, rebuilding", "alias", oldAlias, "container", containerID)
				row = s.indexRow(containerID, newAlias, meta, renamed.IsKeyEntry(), StatusUnknown, false)
			} else {
				row = old
				row.Alias = newAlias
				row.UpdatedAt = s.now().UTC()
				if err := tx.DeleteIndexRow(ctx, containerID, oldAlias); err != nil {
					return fmt.Errorf("deleting index row %q: %w", oldAlias, err)
				}
			}
			if err := tx.UpsertIndexRow(ctx, row); err != nil {
				return fmt.Errorf("upserting index row %q: %w", newAlias, err)
			}
			return nil
		})
		return err == nil, err
	})
}

// RemoveEntry deletes alias and its index row. Removing an absent alias is
// a no-op.
func (s *Service) RemoveEntry(ctx context.Context, alias, containerID string) error {
	if alias == "" {
		return &ValidationError{Field: "alias"}
	}
	if containerID == "" {
		return &ValidationError{Field: "containerID"}
	}

	return s.mutate(ctx, OpRemove, containerID, func() (bool, error) {
		sess, err := s.open(ctx, OpRemove, alias, containerID)
		if err != nil {
			return false, err
		}
		defer sess.close()

		if !sess.entries.Delete(alias) {
			s.logger.Debug("alias not present, nothing to remove", "alias", alias, "container", containerID)
			return false, nil
		}
		err = s.commit(ctx, OpRemove, alias, sess, func(tx Repository) error {
			if err := tx.DeleteIndexRow(ctx, containerID, alias); err != nil {
				return fmt.Errorf("deleting index row: %w", err)
			}
			return nil
		})
		return err == nil, err
	})
}

// GetCertificate returns the certificate stored under alias, or nil when
// the alias does not exist.
func (s *Service) GetCertificate(ctx context.Context, alias, containerID string) (*x509.Certificate, error) {
	set, err := s.read(ctx, OpGet, alias, containerID)
	if err != nil {
		return nil, err
	}
	e := set.Get(alias)
	if e == nil {
		return nil, nil
	}
	cert, err := e.ParseCertificate()
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %q: %w", alias, err)
	}
	return cert, nil
}

// GetPrivateKey returns the private key stored under alias, or nil when the
// alias does not exist or holds only a certificate.
func (s *Service) GetPrivateKey(ctx context.Context, alias, containerID string) (crypto.PrivateKey, error) {
	set, err := s.read(ctx, OpGet, alias, containerID)
	if err != nil {
		return nil, err
	}
	e := set.Get(alias)
	if e == nil || !e.IsKeyEntry() {
		return nil, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %q: %w", alias, err)
	}
	return key, nil
}

// GetCertificateChain returns the chain of a key entry, leaf first, or the
// single certificate of a certificate entry. It returns nil for an absent
// alias.
func (s *Service) GetCertificateChain(ctx context.Context, alias, containerID string) ([]*x509.Certificate, error) {
	set, err := s.read(ctx, OpGet, alias, containerID)
	if err != nil {
		return nil, err
	}
	e := set.Get(alias)
	if e == nil {
		return nil, nil
	}
	chain, err := e.ParseChain()
	if err != nil {
		return nil, fmt.Errorf("parsing chain %q: %w", alias, err)
	}
	return chain, nil
}

// ListCertificates returns the certificate of every entry in alias order.
func (s *Service) ListCertificates(ctx context.Context, containerID string) ([]*x509.Certificate, error) {
	set, err := s.read(ctx, OpList, "", containerID)
	if err != nil {
		return nil, err
	}
	certs := make([]*x509.Certificate, 0, set.Len())
	for _, alias := range set.Aliases() {
		cert, err := set.Get(alias).ParseCertificate()
		if err != nil {
			return nil, fmt.Errorf("parsing certificate %q: %w", alias, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// MapCertificates returns the certificate of every entry keyed by alias.
func (s *Service) MapCertificates(ctx context.Context, containerID string) (map[string]*x509.Certificate, error) {
	set, err := s.read(ctx, OpList, "", containerID)
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
	return certs, nil
}
