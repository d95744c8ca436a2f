package manager

import (
	"fmt"
	"strings"

	"github.com/msrv-digital/cachepilot/pkg/types"
)

// HandoverInfo bundles everything a caller needs to build a credential
// handover for the tenant's operator. Actual packaging and delivery are
// owned by an external collaborator.
type HandoverInfo struct {
	Tenant           string
	Host             string
	PublicHost       string
	PortTLS          int // 0 when the mode does not expose it
	PortPlain        int // 0 when the mode does not expose it
	Password         string
	TLSEnabled       bool
	CACertificatePEM string
	ConnectionString string
	CredentialsText  string
}

// Handover assembles the connection details for a tenant. Only ports the
// current security mode actually exposes are included.
func (m *Manager) Handover(name string) (*HandoverInfo, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}

	info := &HandoverInfo{
		Tenant:     rec.Name,
		Host:       m.cfg.Network.InternalIP,
		PublicHost: m.cfg.Network.PublicIP,
		Password:   rec.Password,
		TLSEnabled: rec.SecurityMode.RequiresTLS(),
	}

	if rec.SecurityMode.RequiresTLS() {
		info.PortTLS = rec.PortTLS

		caPEM, err := m.authority.RootCertPEM()
		if err != nil {
			return nil, err
		}
		info.CACertificatePEM = string(caPEM)
	}
	if rec.SecurityMode.RequiresPlaintext() {
		info.PortPlain = rec.PortPlain
	}

	// Prefer the encrypted endpoint whenever the mode offers one.
	if info.TLSEnabled {
		info.ConnectionString = fmt.Sprintf("rediss://:%s@%s:%d", rec.Password, info.Host, rec.PortTLS)
	} else {
		info.ConnectionString = fmt.Sprintf("redis://:%s@%s:%d", rec.Password, info.Host, rec.PortPlain)
	}

	info.CredentialsText = m.credentialsText(rec, info)
	return info, nil
}

func (m *Manager) credentialsText(rec *types.TenantRecord, info *HandoverInfo) string {
	var b strings.Builder

	b.WriteString("===========================================\n")
	b.WriteString("Cache Connection Details\n\n")
	fmt.Fprintf(&b, "Tenant: %s\n", rec.Name)
	fmt.Fprintf(&b, "Created: %s\n\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	b.WriteString("Connection:\n-----------\n")
	fmt.Fprintf(&b, "Internal Host: %s\n", info.Host)
	if info.PublicHost != "" {
		fmt.Fprintf(&b, "Public Host: %s\n", info.PublicHost)
	}
	if info.PortTLS > 0 {
		fmt.Fprintf(&b, "TLS Port: %d\n", info.PortTLS)
	}
	if info.PortPlain > 0 {
		fmt.Fprintf(&b, "Plaintext Port: %d\n", info.PortPlain)
	}
	fmt.Fprintf(&b, "Password: %s\n\n", info.Password)

	if info.TLSEnabled {
		b.WriteString("TLS: Enabled\nCA Certificate: Required (distributed alongside)\n\n")
	} else {
		b.WriteString("TLS: Disabled\n\n")
	}

	b.WriteString("Memory Limits:\n--------------\n")
	fmt.Fprintf(&b, "Engine Maxmemory: %d MB\n", rec.MaxMemoryMB)
	fmt.Fprintf(&b, "Container Limit: %d MB\n", rec.ContainerMemoryMB)

	if m.cfg.Organization.Name != "" {
		b.WriteString("\nContact:\n--------\n")
		fmt.Fprintf(&b, "%s\n", m.cfg.Organization.Name)
		if m.cfg.Organization.ContactName != "" {
			fmt.Fprintf(&b, "%s\n", m.cfg.Organization.ContactName)
		}
		if m.cfg.Organization.ContactEmail != "" {
			fmt.Fprintf(&b, "Email: %s\n", m.cfg.Organization.ContactEmail)
		}
	}

	return b.String()
}
