package ca

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/msrv-digital/cachepilot/pkg/config"
)

func testAuthority(t *testing.T) *Authority {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.CADir = filepath.Join(t.TempDir(), "ca")
	return NewAuthority(cfg)
}

func TestEnsureRootIdempotent(t *testing.T) {
	a := testAuthority(t)

	if err := a.EnsureRoot(); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}

	first, err := os.ReadFile(a.RootCertPath())
	if err != nil {
		t.Fatal(err)
	}

	if err := a.EnsureRoot(); err != nil {
		t.Fatalf("second EnsureRoot failed: %v", err)
	}

	second, err := os.ReadFile(a.RootCertPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("EnsureRoot rotated an existing root")
	}

	cert, err := readCert(a.RootCertPath())
	if err != nil {
		t.Fatal(err)
	}
	if !cert.IsCA {
		t.Error("root certificate should be a CA")
	}

	info, err := os.Stat(a.rootKeyPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("root key mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestIssueLeaf(t *testing.T) {
	a := testAuthority(t)
	certsDir := filepath.Join(t.TempDir(), "certs")

	// No EnsureRoot beforehand: issuance must auto-heal the missing root.
	if err := a.IssueLeaf("acme", certsDir); err != nil {
		t.Fatalf("failed to issue leaf: %v", err)
	}

	leaf, err := readCert(filepath.Join(certsDir, LeafCertFile))
	if err != nil {
		t.Fatal(err)
	}

	if leaf.Subject.CommonName != "acme.cache.local" {
		t.Errorf("CN = %s, want acme.cache.local", leaf.Subject.CommonName)
	}

	hasHostname, hasLocalhost := false, false
	for _, n := range leaf.DNSNames {
		switch n {
		case "acme.cache.local":
			hasHostname = true
		case "localhost":
			hasLocalhost = true
		}
	}
	if !hasHostname || !hasLocalhost {
		t.Errorf("missing SANs, got %v", leaf.DNSNames)
	}

	hasLoopback := false
	for _, ip := range leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			hasLoopback = true
		}
	}
	if !hasLoopback {
		t.Errorf("missing 127.0.0.1 SAN, got %v", leaf.IPAddresses)
	}

	// The leaf must verify against the root.
	root, err := readCert(a.RootCertPath())
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		DNSName:   "acme.cache.local",
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		t.Errorf("leaf does not verify against root: %v", err)
	}

	// Private key stays private, root copy is world-readable.
	keyInfo, err := os.Stat(filepath.Join(certsDir, LeafKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if keyInfo.Mode().Perm() != 0600 {
		t.Errorf("leaf key mode = %o, want 0600", keyInfo.Mode().Perm())
	}
	copyInfo, err := os.Stat(filepath.Join(certsDir, RootCopyFile))
	if err != nil {
		t.Fatal(err)
	}
	if copyInfo.Mode().Perm() != 0644 {
		t.Errorf("root copy mode = %o, want 0644", copyInfo.Mode().Perm())
	}
}

func TestReissueGeneratesFreshPair(t *testing.T) {
	a := testAuthority(t)
	certsDir := filepath.Join(t.TempDir(), "certs")

	if err := a.IssueLeaf("acme", certsDir); err != nil {
		t.Fatal(err)
	}
	first, err := readCert(filepath.Join(certsDir, LeafCertFile))
	if err != nil {
		t.Fatal(err)
	}

	if err := a.IssueLeaf("acme", certsDir); err != nil {
		t.Fatal(err)
	}
	second, err := readCert(filepath.Join(certsDir, LeafCertFile))
	if err != nil {
		t.Fatal(err)
	}

	if first.SerialNumber.Cmp(second.SerialNumber) == 0 {
		t.Error("re-issuance should produce a new certificate")
	}
	if first.Issuer.CommonName != second.Issuer.CommonName {
		t.Error("re-issuance changed the issuing CA")
	}
}

func TestDaysUntilExpiryAndRenewal(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.CADir = filepath.Join(t.TempDir(), "ca")
	cfg.Certificates.LeafValidityDays = 40
	a := NewAuthority(cfg)

	certsDir := filepath.Join(t.TempDir(), "certs")
	if err := a.IssueLeaf("acme", certsDir); err != nil {
		t.Fatal(err)
	}

	certPath := filepath.Join(certsDir, LeafCertFile)
	days, err := DaysUntilExpiry(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if days < 38 || days > 40 {
		t.Errorf("days until expiry = %d, want ~40", days)
	}

	need, err := a.NeedsRenewal(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if need {
		t.Error("40-day certificate should not need renewal at a 30-day threshold")
	}

	// A short-lived certificate falls under the threshold immediately.
	cfg2 := config.Default()
	cfg2.Paths.CADir = cfg.Paths.CADir
	cfg2.Certificates.LeafValidityDays = 30
	short := NewAuthority(cfg2)
	shortDir := filepath.Join(t.TempDir(), "certs")
	if err := short.IssueLeaf("beta", shortDir); err != nil {
		t.Fatal(err)
	}
	need, err = short.NeedsRenewal(filepath.Join(shortDir, LeafCertFile))
	if err != nil {
		t.Fatal(err)
	}
	if !need {
		t.Error("30-day certificate should be within the 30-day renewal window")
	}

	// A missing certificate needs renewal rather than erroring.
	need, err = a.NeedsRenewal(filepath.Join(t.TempDir(), "missing.crt"))
	if err != nil {
		t.Fatal(err)
	}
	if !need {
		t.Error("missing certificate should report renewal needed")
	}
}
