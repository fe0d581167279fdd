package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sensiblebit/keystorekit"
	"github.com/sensiblebit/keystorekit/internal"
	"github.com/sensiblebit/keystorekit/internal/cipher"
)

var testSecret = []byte("keystorekit-test-master-secret-0")

const testPassword = "changeit"

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

var serialCounter struct {
	sync.Mutex
	n int64
}

func nextSerial() *big.Int {
	serialCounter.Lock()
	defer serialCounter.Unlock()
	serialCounter.n++
	return big.NewInt(serialCounter.n)
}

// newCert creates a certificate signed by issuer, or self-signed when
// issuer is nil.
func newCert(t *testing.T, cn, country string, issuer *testCert) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Keystore Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  issuer == nil,
	}
	if country != "" {
		tmpl.Subject.Country = []string{country}
	}
	parent, signer := tmpl, key
	if issuer != nil {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return testCert{cert: cert, key: key}
}

func newTestCipher(t *testing.T) *cipher.AESCipher {
	t.Helper()
	return newCipherWithSecret(t, string(testSecret))
}

func newCipherWithSecret(t *testing.T, secret string) *cipher.AESCipher {
	t.Helper()
	c, err := cipher.NewAESCipher([]byte(secret))
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}
	return c
}

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	db, err := internal.NewDB("")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db.DB)
}

// repositories lists every Repository implementation so behavior tests run
// against each.
func repositories() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory": func(*testing.T) Repository { return NewMemStore() },
		"sqlite": newSQLiteRepo,
	}
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Helper()
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory(t))
		})
	}
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Repository: repo,
		Cipher:     newTestCipher(t),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newTestContainer(t *testing.T, svc *Service) *Container {
	t.Helper()
	c, err := svc.CreateContainer(context.Background(), "test-store", keystorekit.TypeJKS, []byte(testPassword))
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	return c
}

func containerVersion(t *testing.T, repo Repository, id string) int64 {
	t.Helper()
	c, err := repo.GetContainer(context.Background(), id)
	if err != nil {
		t.Fatalf("GetContainer: %v", err)
	}
	return c.Version
}

// decodeStored opens the stored blob directly, bypassing the service.
func decodeStored(t *testing.T, repo Repository, id string) *keystorekit.EntrySet {
	t.Helper()
	c, err := repo.GetContainer(context.Background(), id)
	if err != nil {
		t.Fatalf("GetContainer: %v", err)
	}
	set, err := keystorekit.Decode(c.Blob, c.Type, []byte(testPassword))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return set
}

var errIndexDown = errors.New("index store unavailable")

// failingIndexRepo fails every index write made inside a unit of work.
type failingIndexRepo struct {
	Repository
}

func (r failingIndexRepo) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.Repository.InTx(ctx, func(tx Repository) error {
		return fn(failingIndexRepo{tx})
	})
}

func (failingIndexRepo) UpsertIndexRow(context.Context, *IndexRow) error {
	return errIndexDown
}

func (failingIndexRepo) DeleteIndexRow(context.Context, string, string) error {
	return errIndexDown
}

// interleavingRepo runs onGet once, right after the first GetContainer
// returns, to simulate a writer that slipped in between read and write.
type interleavingRepo struct {
	Repository
	once  sync.Once
	onGet func()
}

func (r *interleavingRepo) GetContainer(ctx context.Context, id string) (*Container, error) {
	c, err := r.Repository.GetContainer(ctx, id)
	if err == nil {
		r.once.Do(r.onGet)
	}
	return c, err
}
