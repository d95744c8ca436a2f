/*
Package manager orchestrates every tenant-facing operation in CachePilot.

The manager package is the control plane of CachePilot. It owns the full
provisioning pipeline and keeps four kinds of state consistent with each
other: the tenant record on disk, the allocated port leases, the issued
TLS certificates, and the running container.

# Architecture

Every operation flows through the same pipeline:

	┌─────────────────────── MANAGER ────────────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────┐             │
	│  │              Validation                    │             │
	│  │  - tenant name, security mode              │             │
	│  │  - memory ordering (container >= engine)   │             │
	│  │  - rejected before any state changes       │             │
	│  └──────────────────┬────────────────────────┘             │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────┐             │
	│  │           Port Leases (pkg/ports)          │             │
	│  │  - lease held from allocation until the    │             │
	│  │    record is persisted                     │             │
	│  └──────────────────┬────────────────────────┘             │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────┐             │
	│  │        Certificates (pkg/ca)               │             │
	│  │  - leaf issued on create, renewed when     │             │
	│  │    inside the renewal window               │             │
	│  └──────────────────┬────────────────────────┘             │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────┐             │
	│  │      Generated Artifacts (pkg/confgen)     │             │
	│  │  - engine config, compose manifest,        │             │
	│  │    optional GUI proxy config               │             │
	│  │  - whole files, regenerated every time     │             │
	│  └──────────────────┬────────────────────────┘             │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────┐             │
	│  │         Record Store (pkg/tenant)          │             │
	│  │  - flat-file record, single source of      │             │
	│  │    truth for reconstruction                │             │
	│  └──────────────────┬────────────────────────┘             │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────┐             │
	│  │        Container (pkg/runtime)             │             │
	│  │  - compose up / restart / health wait      │             │
	│  │  - health timeout demoted to a warning     │             │
	│  └───────────────────────────────────────────┘             │
	└─────────────────────────────────────────────────────────────┘

# Operations

  - Create: provision a tenant end to end
  - SetMode: switch between encrypted-only, dual and plaintext-only
  - SetMemory: resize engine and container memory ceilings
  - RotatePassword: replace the password and restart
  - RenewCertificates: re-issue the leaf inside the renewal window
  - Start / Stop / Restart: container lifecycle
  - Remove: tear down and delete, freeing the tenant's ports
  - Status: record plus live container and engine health
  - Handover: client-facing credentials bundle

# Failure Semantics

Validation failures happen before any side effect. A health-wait timeout
after a successful apply is reported as a warning on the Result, not an
error: the container exists and may still converge. An absent container
after apply is an error.

Mode switches keep previously allocated ports on the record even when
the new mode no longer uses them. Switching back later restores the same
endpoints, which clients may have allow-listed.

# Usage

	cfg, err := config.Load("/etc/cachepilot/config.yml")
	if err != nil {
		log.Fatal(err.Error())
	}

	m := manager.New(cfg)
	defer m.Close()

	res, err := m.Create(ctx, manager.CreateRequest{
		Name:              "acme",
		Mode:              types.ModeEncryptedOnly,
		MaxMemoryMB:       256,
		ContainerMemoryMB: 512,
	})
	if err != nil {
		return err
	}
	if res.Warning != "" {
		fmt.Println("warning:", res.Warning)
	}

	info, err := m.Handover("acme")
	if err != nil {
		return err
	}
	fmt.Print(info.CredentialsText)

# Integration Points

This package integrates with:

  - pkg/tenant: record persistence
  - pkg/ports: lease-based port allocation
  - pkg/ca: certificate issuance and renewal
  - pkg/confgen: artifact generation
  - pkg/runtime: container lifecycle through docker compose
  - pkg/events: operation events for subscribers
  - pkg/metrics: operation counters and durations
*/
package manager
