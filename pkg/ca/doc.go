/*
Package ca implements the local certificate authority for tenant TLS.

CachePilot runs its own root CA on the host. Each tenant gets a leaf
certificate signed by that root, bound to a synthetic hostname derived
from the tenant name. Clients install the root certificate once and can
then verify every tenant endpoint.

# Architecture

	┌──────────────────── CERTIFICATE AUTHORITY ───────────────┐
	│                                                           │
	│  CA directory (host-wide)                                 │
	│    ca.key   root private key, RSA 4096, mode 0600         │
	│    ca.crt   root certificate, ~10 years, mode 0644        │
	│                                                           │
	│  Tenant certs directory (per tenant)                      │
	│    server.key   leaf private key, RSA 2048, mode 0600     │
	│    server.crt   leaf certificate, mode 0644               │
	│    ca.crt       copy of the root for container mounts     │
	│                                                           │
	│  Leaf subject: <tenant>.<domain>                          │
	│  Leaf SANs:    <tenant>.<domain>, localhost, 127.0.0.1    │
	└───────────────────────────────────────────────────────────┘

EnsureRoot is idempotent: an existing root is never overwritten, so
re-running initialization cannot invalidate certificates already handed
to clients. IssueLeaf calls EnsureRoot first, which heals a missing or
deleted CA directory instead of failing the tenant operation.

# Renewal

NeedsRenewal reports whether a certificate is inside the configured
renewal threshold. Issuing a new leaf generates a fresh key pair; the
old pair is overwritten. A renewed tenant must be restarted for the
engine to load the new files, which the manager handles.

# Usage

	authority := ca.NewAuthority(cfg)

	if err := authority.EnsureRoot(); err != nil {
		return err
	}
	if err := authority.IssueLeaf("acme", certsDir); err != nil {
		return err
	}

	need, err := authority.NeedsRenewal(filepath.Join(certsDir, ca.LeafCertFile))
*/
package ca
