package types

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError describes a rejected input. Operations return it before
// any side effect has happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

var tenantNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// MinMemoryMB is the smallest engine memory ceiling accepted.
const MinMemoryMB = 16

// RecommendedOverheadMB is the suggested gap between the container limit
// and the engine memory ceiling.
const RecommendedOverheadMB = 128

// ValidateTenantName checks the tenant naming rules: lowercase
// alphanumerics and hyphens, 1-63 characters, no leading/trailing hyphen
// and no consecutive hyphens.
func ValidateTenantName(name string) error {
	if name == "" {
		return NewValidationError("name", "must not be empty")
	}
	if len(name) > 63 {
		return NewValidationError("name", "must be at most 63 characters")
	}
	if !tenantNameRe.MatchString(name) {
		return NewValidationError("name", "must be lowercase alphanumerics and hyphens, not starting or ending with a hyphen")
	}
	if strings.Contains(name, "--") {
		return NewValidationError("name", "must not contain consecutive hyphens")
	}
	return nil
}

// ValidateMemoryLimits checks the memory ordering invariant
// container_memory_mb >= max_memory_mb.
func ValidateMemoryLimits(maxMemoryMB, containerMemoryMB int) error {
	if maxMemoryMB < MinMemoryMB {
		return NewValidationError("max_memory_mb", fmt.Sprintf("must be at least %d MB", MinMemoryMB))
	}
	if containerMemoryMB < maxMemoryMB {
		return NewValidationError("container_memory_mb",
			fmt.Sprintf("must be >= max_memory_mb (%d < %d)", containerMemoryMB, maxMemoryMB))
	}
	return nil
}

// Validate checks the full record against the data model invariants.
func (r *TenantRecord) Validate() error {
	if err := ValidateTenantName(r.Name); err != nil {
		return err
	}
	if !r.SecurityMode.Valid() {
		return NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", r.SecurityMode))
	}
	if !r.PersistenceMode.Valid() {
		return NewValidationError("persistence_mode", fmt.Sprintf("unknown mode %q", r.PersistenceMode))
	}
	if r.Password == "" {
		return NewValidationError("password", "must not be empty")
	}
	if err := ValidateMemoryLimits(r.MaxMemoryMB, r.ContainerMemoryMB); err != nil {
		return err
	}
	if r.SecurityMode.RequiresTLS() && r.PortTLS == 0 {
		return NewValidationError("port_tls", fmt.Sprintf("mode %s requires a TLS port", r.SecurityMode))
	}
	if r.SecurityMode.RequiresPlaintext() && r.PortPlain == 0 {
		return NewValidationError("port_plain", fmt.Sprintf("mode %s requires a plaintext port", r.SecurityMode))
	}
	return nil
}
