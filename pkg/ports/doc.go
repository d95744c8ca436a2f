/*
Package ports allocates tenant listener ports from two disjoint ranges.

Encrypted listeners come from the TLS range, plaintext listeners from
the plaintext range. The two never overlap, so a port number alone tells
an operator which kind of endpoint it is. Dual-mode tenants get a
plaintext port at a fixed offset from their TLS port whenever that slot
is free, keeping the pair visually related.

# Architecture

Allocation is backed by a lease table in a bbolt database:

	┌──────────────────── PORT ALLOCATOR ──────────────────────┐
	│                                                           │
	│  Begin()                                                  │
	│    ├─ opens the lease database (exclusive file lock,      │
	│    │  serializes every concurrent provisioning process)   │
	│    └─ reconciles leases against the record store:         │
	│         - ports held by existing records stay leased,     │
	│           including slots their current mode disables     │
	│         - leases with no surviving record are purged      │
	│                                                           │
	│  Allocate(space, owner)                                   │
	│    └─ lowest free port in the range, claimed in one       │
	│       write transaction                                   │
	│                                                           │
	│  AllocatePlaintextFor(tlsPort, owner)                     │
	│    └─ prefers tlsPort+offset, falls back to lowest free   │
	│                                                           │
	│  Close()                                                  │
	│    └─ releases the lock; callers hold the lease open      │
	│       until the tenant record is on disk                  │
	└───────────────────────────────────────────────────────────┘

The window between picking a port and persisting the record that claims
it is covered by the database lock: a second process cannot open the
lease table, so it cannot pick the same port.

Reconciliation at Begin makes removed tenants' ports reusable without a
separate release step, and cleans up leases left behind by a create that
failed between allocation and persistence.

# Usage

	alloc := ports.NewAllocator(cfg, store)

	lease, err := alloc.Begin()
	if err != nil {
		return err
	}
	defer lease.Close()

	tlsPort, err := lease.Allocate(types.PortSpaceTLS, "acme")
	if err != nil {
		return err
	}
	plainPort, err := lease.AllocatePlaintextFor(tlsPort, "acme")
	if err != nil {
		return err
	}

	// persist the record, then
	lease.Close()

ErrPoolExhausted is returned when a range has no free port left.
*/
package ports
