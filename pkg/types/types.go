package types

import (
	"time"
)

// SecurityMode defines the network exposure policy of a tenant.
type SecurityMode string

const (
	// ModeEncryptedOnly exposes only the TLS listener.
	ModeEncryptedOnly SecurityMode = "encrypted-only"

	// ModeDual exposes both the TLS and the plaintext listener.
	ModeDual SecurityMode = "dual"

	// ModePlaintextOnly exposes only the plaintext listener.
	ModePlaintextOnly SecurityMode = "plaintext-only"
)

// SecurityModes lists all legal modes.
var SecurityModes = []SecurityMode{ModeEncryptedOnly, ModeDual, ModePlaintextOnly}

// Valid reports whether the mode is one of the three legal values.
func (m SecurityMode) Valid() bool {
	switch m {
	case ModeEncryptedOnly, ModeDual, ModePlaintextOnly:
		return true
	}
	return false
}

// RequiresTLS reports whether the mode exposes the TLS listener.
func (m SecurityMode) RequiresTLS() bool {
	return m == ModeEncryptedOnly || m == ModeDual
}

// RequiresPlaintext reports whether the mode exposes the plaintext listener.
func (m SecurityMode) RequiresPlaintext() bool {
	return m == ModeDual || m == ModePlaintextOnly
}

// PersistenceMode defines how a tenant's engine persists data.
type PersistenceMode string

const (
	// PersistenceEphemeral disables persistence entirely.
	PersistenceEphemeral PersistenceMode = "ephemeral"

	// PersistenceDurable enables periodic snapshots plus an append-only log.
	PersistenceDurable PersistenceMode = "durable"
)

// Valid reports whether the persistence mode is a legal value.
func (p PersistenceMode) Valid() bool {
	return p == PersistenceEphemeral || p == PersistenceDurable
}

// PortSpace identifies one of the two host port namespaces.
type PortSpace string

const (
	PortSpaceTLS       PortSpace = "tls"
	PortSpacePlaintext PortSpace = "plaintext"
)

// TenantRecord is the persisted state of one tenant. It is the single
// source of truth: ports, certificates, generated configuration and the
// running container are all derived from it.
type TenantRecord struct {
	Name              string
	SecurityMode      SecurityMode
	PortTLS           int // 0 when the slot is unallocated
	PortPlain         int // 0 when the slot is unallocated
	Password          string
	MaxMemoryMB       int
	ContainerMemoryMB int
	PersistenceMode   PersistenceMode
	InsightPort       int // 0 disables the web GUI companion
	CreatedAt         time.Time
	BackupEnabled     bool
	BackupSchedule    string

	// Extra holds keys owned by out-of-scope subsystems. They are
	// preserved verbatim when the record file is rewritten.
	Extra map[string]string
}

// ActivePorts returns the host ports the current security mode exposes.
// Stale ports retained in unused slots are not included.
func (r *TenantRecord) ActivePorts() []int {
	var ports []int
	if r.SecurityMode.RequiresTLS() && r.PortTLS > 0 {
		ports = append(ports, r.PortTLS)
	}
	if r.SecurityMode.RequiresPlaintext() && r.PortPlain > 0 {
		ports = append(ports, r.PortPlain)
	}
	return ports
}

// Clone returns a deep copy of the record.
func (r *TenantRecord) Clone() *TenantRecord {
	out := *r
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// ContainerState reflects what the container runtime reports for a tenant.
type ContainerState string

const (
	ContainerStateRunning ContainerState = "running"
	ContainerStateStopped ContainerState = "stopped"
	ContainerStateAbsent  ContainerState = "absent"
	ContainerStateUnknown ContainerState = "unknown"
)
