package keystore

import (
	"context"
	"crypto/x509"
	"errors"
	"strings"
	"testing"

	"github.com/sensiblebit/keystorekit"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

func TestExportImportPKCS12(t *testing.T) {
	t.Parallel()
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		svc := newTestService(t, repo)
		src := newTestContainer(t, svc)
		dst := newTestContainer(t, svc)
		ca := newCert(t, "Export CA", "", nil)
		leaf := newCert(t, "export.example.com", "", &ca)
		if err := svc.StoreChain(ctx, "tls", []*x509.Certificate{leaf.cert, ca.cert}, leaf.key, StatusCorrect, true, src.ID); err != nil {
			t.Fatal(err)
		}

		pfx, err := svc.ExportPKCS12(ctx, "tls", src.ID, "export-pass")
		if err != nil {
			t.Fatalf("ExportPKCS12: %v", err)
		}
		if err := svc.ImportPKCS12(ctx, "imported", pfx, "export-pass", StatusCorrect, true, dst.ID); err != nil {
			t.Fatalf("ImportPKCS12: %v", err)
		}

		chain, err := svc.GetCertificateChain(ctx, "imported", dst.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(chain) != 2 || !chain[0].Equal(leaf.cert) {
			t.Errorf("imported chain has %d certs", len(chain))
		}
		key, err := svc.GetPrivateKey(ctx, "imported", dst.ID)
		if err != nil || key == nil {
			t.Fatalf("GetPrivateKey = %v, %v", key, err)
		}
		row, _ := svc.FindIndexRow(ctx, "imported", dst.ID)
		if row == nil || !row.HasPrivateKey {
			t.Errorf("imported row = %+v", row)
		}

		if err := svc.ImportPKCS12(ctx, "bad", pfx, "wrong", StatusCorrect, true, dst.ID); err == nil {
			t.Error("expected error importing with wrong password")
		}
	})
}

func TestExportPKCS12_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, NewMemStore())
	c := newTestContainer(t, svc)
	ca := newCert(t, "Cert Only", "", nil)
	if err := svc.StoreCertificate(ctx, "ca", ca.cert, nil, StatusCorrect, true, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ExportPKCS12(ctx, "ca", c.ID, "x"); !errors.Is(err, ErrNotKeyEntry) {
		t.Errorf("cert-only export = %v, want ErrNotKeyEntry", err)
	}
	if _, err := svc.ExportPKCS12(ctx, "absent", c.ID, "x"); !errors.Is(err, keystorekit.ErrAliasNotFound) {
		t.Errorf("absent export = %v, want ErrAliasNotFound", err)
	}
}

func TestExportPKCS7AndPEM(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, NewMemStore())
	c := newTestContainer(t, svc)
	ca := newCert(t, "P7 CA", "", nil)
	leaf := newCert(t, "p7.example.com", "", &ca)
	if err := svc.StoreCertificate(ctx, "ca", ca.cert, nil, StatusCorrect, true, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.StoreChain(ctx, "leaf", []*x509.Certificate{leaf.cert, ca.cert}, leaf.key, StatusCorrect, true, c.ID); err != nil {
		t.Fatal(err)
	}

	p7, err := svc.ExportPKCS7(ctx, c.ID)
	if err != nil {
		t.Fatalf("ExportPKCS7: %v", err)
	}
	certs, err := keystorekit.DecodePKCS7(p7)
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Errorf("PKCS#7 holds %d certs, want 2 distinct", len(certs))
	}

	pemData, err := svc.ExportPEM(ctx, "leaf", c.ID, true)
	if err != nil {
		t.Fatalf("ExportPEM: %v", err)
	}
	if n := strings.Count(string(pemData), "BEGIN CERTIFICATE"); n != 2 {
		t.Errorf("PEM has %d certificates, want 2", n)
	}
	if !strings.Contains(string(pemData), "BEGIN PRIVATE KEY") {
		t.Error("PEM missing private key")
	}
	pemData, err = svc.ExportPEM(ctx, "leaf", c.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(pemData), "PRIVATE KEY") {
		t.Error("PEM includes key although not requested")
	}
}

func TestExportTrustStore(t *testing.T) {
	t.Parallel()
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		svc := newTestService(t, repo)
		c := newTestContainer(t, svc)

		if _, err := svc.ExportTrustStore(ctx, c.ID, "trust-pass"); err == nil {
			t.Error("expected error exporting an empty container")
		}

		ca := newCert(t, "Trust CA", "", nil)
		leaf := newCert(t, "trust.example.com", "", &ca)
		if err := svc.StoreCertificate(ctx, "root", ca.cert, nil, StatusCorrect, true, c.ID); err != nil {
			t.Fatal(err)
		}
		if err := svc.StoreChain(ctx, "server", []*x509.Certificate{leaf.cert, ca.cert}, leaf.key, StatusCorrect, true, c.ID); err != nil {
			t.Fatal(err)
		}

		pfx, err := svc.ExportTrustStore(ctx, c.ID, "trust-pass")
		if err != nil {
			t.Fatalf("ExportTrustStore: %v", err)
		}
		entries, err := gopkcs12.DecodeTrustStoreEntries(pfx, "trust-pass")
		if err != nil {
			t.Fatalf("DecodeTrustStoreEntries: %v", err)
		}
		got := make(map[string]*x509.Certificate, len(entries))
		for _, e := range entries {
			got[e.FriendlyName] = e.Cert
		}
		if len(got) != 2 {
			t.Fatalf("trust store has %d entries, want 2", len(got))
		}
		for alias, want := range map[string]*x509.Certificate{"root": ca.cert, "server": leaf.cert} {
			if cert, ok := got[alias]; !ok || !cert.Equal(want) {
				t.Errorf("trust store entry %q missing or wrong", alias)
			}
		}
	})
}
