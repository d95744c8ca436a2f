package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/log"
)

const (
	// Root CA key size: 4096 bits (long-lived, high security)
	rootKeySize = 4096
	// Leaf key size: 2048 bits (shorter-lived, faster)
	leafKeySize = 2048

	// RootKeyFile and RootCertFile live in the host-wide CA directory.
	RootKeyFile  = "ca.key"
	RootCertFile = "ca.crt"

	// Per-tenant leaf files under the tenant's certs directory.
	LeafKeyFile  = "server.key"
	LeafCertFile = "server.crt"
	// RootCopyFile is the world-readable root copy handed to clients.
	RootCopyFile = "ca.crt"
)

// Authority owns the host-local root key/certificate pair and issues
// tenant leaf certificates signed by it. The root is created lazily on
// first use and never rotated automatically.
type Authority struct {
	dir    string
	cfg    config.Certificates
	logger zerolog.Logger
}

// NewAuthority creates a certificate authority rooted at the configured
// CA directory.
func NewAuthority(cfg *config.Config) *Authority {
	return &Authority{
		dir:    cfg.Paths.CADir,
		cfg:    cfg.Certificates,
		logger: log.WithComponent("ca"),
	}
}

// Hostname returns the synthetic hostname bound into a tenant's leaf
// certificate subject.
func (a *Authority) Hostname(tenant string) string {
	return fmt.Sprintf("%s.%s", tenant, a.cfg.TenantDomain)
}

// RootCertPath returns the path of the root certificate.
func (a *Authority) RootCertPath() string {
	return filepath.Join(a.dir, RootCertFile)
}

func (a *Authority) rootKeyPath() string {
	return filepath.Join(a.dir, RootKeyFile)
}

// EnsureRoot creates the root key and self-signed certificate if they are
// absent. It is idempotent: an existing root is left untouched.
func (a *Authority) EnsureRoot() error {
	if _, err := os.Stat(a.RootCertPath()); err == nil {
		if _, err := os.Stat(a.rootKeyPath()); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(a.dir, 0750); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{a.cfg.Organization},
			CommonName:   a.cfg.Organization + " Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, a.cfg.RootValidityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	if err := writePEM(a.rootKeyPath(), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600); err != nil {
		return err
	}
	if err := writePEM(a.RootCertPath(), "CERTIFICATE", certDER, 0644); err != nil {
		return err
	}

	a.logger.Info().Str("path", a.RootCertPath()).Msg("root CA created")
	return nil
}

// IssueLeaf generates a fresh key and certificate for a tenant, signed by
// the root, and writes them into certsDir together with a world-readable
// copy of the root certificate. A missing root is created first rather
// than failing, so a partially-initialized host heals itself.
func (a *Authority) IssueLeaf(tenant, certsDir string) error {
	if err := a.EnsureRoot(); err != nil {
		return err
	}

	rootCert, rootKey, err := a.loadRoot()
	if err != nil {
		return err
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate leaf key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return err
	}

	hostname := a.Hostname(tenant)
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{a.cfg.Organization},
			CommonName:   hostname,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(0, 0, a.cfg.LeafValidityDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{hostname, "localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create leaf certificate: %w", err)
	}

	if err := os.MkdirAll(certsDir, 0750); err != nil {
		return fmt.Errorf("failed to create certs directory: %w", err)
	}
	if err := writePEM(filepath.Join(certsDir, LeafKeyFile), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600); err != nil {
		return err
	}
	if err := writePEM(filepath.Join(certsDir, LeafCertFile), "CERTIFICATE", certDER, 0644); err != nil {
		return err
	}

	rootPEM, err := os.ReadFile(a.RootCertPath())
	if err != nil {
		return fmt.Errorf("failed to read root certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(certsDir, RootCopyFile), rootPEM, 0644); err != nil {
		return fmt.Errorf("failed to write root copy: %w", err)
	}

	a.logger.Info().Str("tenant", tenant).Str("cn", hostname).Msg("leaf certificate issued")
	return nil
}

// RootCertPEM returns the PEM-encoded root certificate, creating the root
// if needed.
func (a *Authority) RootCertPEM() ([]byte, error) {
	if err := a.EnsureRoot(); err != nil {
		return nil, err
	}
	return os.ReadFile(a.RootCertPath())
}

// DaysUntilExpiry reports how many whole days remain before the
// certificate at path expires. Negative values mean already expired.
func DaysUntilExpiry(path string) (int, error) {
	cert, err := readCert(path)
	if err != nil {
		return 0, err
	}
	return int(time.Until(cert.NotAfter).Hours() / 24), nil
}

// NeedsRenewal reports whether the certificate at path is within the
// configured renewal threshold. A missing certificate needs renewal.
func (a *Authority) NeedsRenewal(path string) (bool, error) {
	days, err := DaysUntilExpiry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return days < a.cfg.RenewalThreshold, nil
}

func (a *Authority) loadRoot() (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := readCert(a.RootCertPath())
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := os.ReadFile(a.rootKeyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read root key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("invalid PEM in %s", a.rootKeyPath())
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse root key: %w", err)
	}

	return cert, key, nil
}

func readCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
