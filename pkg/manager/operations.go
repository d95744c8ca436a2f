package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msrv-digital/cachepilot/pkg/events"
	"github.com/msrv-digital/cachepilot/pkg/metrics"
	"github.com/msrv-digital/cachepilot/pkg/runtime"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// CreateRequest carries the parameters for provisioning a tenant.
type CreateRequest struct {
	Name              string
	Mode              types.SecurityMode
	MaxMemoryMB       int
	ContainerMemoryMB int
	// Password is generated when empty.
	Password        string
	PersistenceMode types.PersistenceMode
	InsightPort     int
	BackupEnabled   bool
	BackupSchedule  string
}

// Result is the outcome of a mutating operation. Warning is set when the
// operation succeeded but the container did not confirm readiness in
// time; the process may still converge on its own.
type Result struct {
	Record  *types.TenantRecord
	Warning string
}

// Create provisions a new tenant: allocates the ports its mode requires,
// issues a leaf certificate, generates configuration and manifest,
// persists the record and starts the container.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	start := time.Now()
	res, err := m.create(ctx, req)
	metrics.ObserveOperation("create", err, time.Since(start).Seconds())
	return res, err
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (*Result, error) {
	if err := types.ValidateTenantName(req.Name); err != nil {
		return nil, err
	}
	if m.store.Exists(req.Name) {
		return nil, fmt.Errorf("%w: %s", ErrTenantExists, req.Name)
	}

	mode := req.Mode
	if mode == "" {
		mode = types.ModeEncryptedOnly
	}
	if !mode.Valid() {
		return nil, types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", mode))
	}
	persistence := req.PersistenceMode
	if persistence == "" {
		persistence = types.PersistenceDurable
	}
	if !persistence.Valid() {
		return nil, types.NewValidationError("persistence_mode", fmt.Sprintf("unknown mode %q", persistence))
	}
	if err := types.ValidateMemoryLimits(req.MaxMemoryMB, req.ContainerMemoryMB); err != nil {
		return nil, err
	}

	password := req.Password
	if password == "" {
		var err error
		if password, err = generatePassword(); err != nil {
			return nil, err
		}
	}

	rec := &types.TenantRecord{
		Name:              req.Name,
		SecurityMode:      mode,
		Password:          password,
		MaxMemoryMB:       req.MaxMemoryMB,
		ContainerMemoryMB: req.ContainerMemoryMB,
		PersistenceMode:   persistence,
		InsightPort:       req.InsightPort,
		CreatedAt:         time.Now().UTC(),
		BackupEnabled:     req.BackupEnabled,
		BackupSchedule:    req.BackupSchedule,
	}

	// Port namespace is held from allocation until the record is on disk.
	lease, err := m.allocator.Begin()
	if err != nil {
		return nil, err
	}
	defer lease.Close()

	if mode.RequiresTLS() {
		if rec.PortTLS, err = lease.Allocate(types.PortSpaceTLS, rec.Name); err != nil {
			return nil, err
		}
	}
	if mode.RequiresPlaintext() {
		if mode == types.ModeDual {
			rec.PortPlain, err = lease.AllocatePlaintextFor(rec.PortTLS, rec.Name)
		} else {
			rec.PortPlain, err = lease.Allocate(types.PortSpacePlaintext, rec.Name)
		}
		if err != nil {
			return nil, err
		}
	}

	// The leaf is issued regardless of mode so a later switch to an
	// encrypted mode does not require fresh issuance.
	if err := m.authority.IssueLeaf(rec.Name, m.certsDir(rec.Name)); err != nil {
		return nil, err
	}

	if err := m.writeGenerated(rec); err != nil {
		return nil, err
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	lease.Close()

	warning, err := m.applyAndWait(ctx, rec.Name, false)
	if err != nil {
		return nil, err
	}

	m.refreshTenantGauge()
	m.publish(events.EventTenantCreated, rec.Name, fmt.Sprintf("tenant created in mode %s", mode))
	m.publish(events.EventHandoverOutdated, rec.Name, "credentials changed")
	m.logger.Info().Str("tenant", rec.Name).Str("mode", string(mode)).Msg("tenant created")

	return &Result{Record: rec, Warning: warning}, nil
}

// SetMode transitions a tenant to a target security mode. A transition
// to the current mode is a no-op: no new ports, no certificate reissue,
// no restart.
func (m *Manager) SetMode(ctx context.Context, name string, mode types.SecurityMode) (*Result, error) {
	start := time.Now()
	res, err := m.setMode(ctx, name, mode)
	metrics.ObserveOperation("set_mode", err, time.Since(start).Seconds())
	return res, err
}

func (m *Manager) setMode(ctx context.Context, name string, mode types.SecurityMode) (*Result, error) {
	if !mode.Valid() {
		return nil, types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", mode))
	}

	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}
	if rec.SecurityMode == mode {
		m.logger.Debug().Str("tenant", name).Str("mode", string(mode)).Msg("already in requested mode")
		return &Result{Record: rec}, nil
	}

	previous := rec.SecurityMode
	rec.SecurityMode = mode

	// Allocate only the ports the target mode needs and the record does
	// not already hold; slots no longer required are retained stale and
	// simply not referenced by the generated artifacts.
	lease, err := m.allocator.Begin()
	if err != nil {
		return nil, err
	}
	defer lease.Close()

	if mode.RequiresTLS() && rec.PortTLS == 0 {
		if rec.PortTLS, err = lease.Allocate(types.PortSpaceTLS, rec.Name); err != nil {
			return nil, err
		}
	}
	if mode.RequiresPlaintext() && rec.PortPlain == 0 {
		if rec.PortTLS != 0 {
			rec.PortPlain, err = lease.AllocatePlaintextFor(rec.PortTLS, rec.Name)
		} else {
			rec.PortPlain, err = lease.Allocate(types.PortSpacePlaintext, rec.Name)
		}
		if err != nil {
			return nil, err
		}
	}

	// Heal a missing leaf (e.g. after a restore from an old layout)
	// instead of handing the engine a dangling TLS file reference.
	if mode.RequiresTLS() {
		if _, err := os.Stat(m.leafCertPath(name)); os.IsNotExist(err) {
			if err := m.authority.IssueLeaf(name, m.certsDir(name)); err != nil {
				return nil, err
			}
		}
	}

	if err := m.writeGenerated(rec); err != nil {
		return nil, err
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	lease.Close()

	warning, err := m.applyAndWait(ctx, name, true)
	if err != nil {
		return nil, err
	}

	m.refreshTenantGauge()
	m.publish(events.EventModeChanged, name, fmt.Sprintf("security mode %s -> %s", previous, mode))
	m.publish(events.EventHandoverOutdated, name, "exposure changed")
	m.logger.Info().Str("tenant", name).Str("from", string(previous)).Str("to", string(mode)).
		Msg("security mode changed")

	return &Result{Record: rec, Warning: warning}, nil
}

// SetMemory resizes a tenant's engine and container memory ceilings. The
// ordering invariant container >= engine is checked before anything is
// rewritten.
func (m *Manager) SetMemory(ctx context.Context, name string, maxMemoryMB, containerMemoryMB int) (*Result, error) {
	start := time.Now()
	res, err := m.setMemory(ctx, name, maxMemoryMB, containerMemoryMB)
	metrics.ObserveOperation("set_memory", err, time.Since(start).Seconds())
	return res, err
}

func (m *Manager) setMemory(ctx context.Context, name string, maxMemoryMB, containerMemoryMB int) (*Result, error) {
	if err := types.ValidateMemoryLimits(maxMemoryMB, containerMemoryMB); err != nil {
		return nil, err
	}

	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}

	rec.MaxMemoryMB = maxMemoryMB
	rec.ContainerMemoryMB = containerMemoryMB

	if err := m.writeGenerated(rec); err != nil {
		return nil, err
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	warning, err := m.applyAndWait(ctx, name, true)
	if err != nil {
		return nil, err
	}

	m.publish(events.EventMemoryResized, name,
		fmt.Sprintf("memory set to %d/%d MB", maxMemoryMB, containerMemoryMB))
	m.logger.Info().Str("tenant", name).Int("maxmemory_mb", maxMemoryMB).
		Int("container_mb", containerMemoryMB).Msg("memory resized")

	return &Result{Record: rec, Warning: warning}, nil
}

// RotatePassword replaces the tenant's password with a fresh random one
// and restarts the engine with the regenerated configuration.
func (m *Manager) RotatePassword(ctx context.Context, name string) (*Result, error) {
	start := time.Now()
	res, err := m.rotatePassword(ctx, name)
	metrics.ObserveOperation("rotate_password", err, time.Since(start).Seconds())
	return res, err
}

func (m *Manager) rotatePassword(ctx context.Context, name string) (*Result, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}

	if rec.Password, err = generatePassword(); err != nil {
		return nil, err
	}

	if err := m.writeGenerated(rec); err != nil {
		return nil, err
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	warning, err := m.applyAndWait(ctx, name, true)
	if err != nil {
		return nil, err
	}

	m.publish(events.EventPasswordRotated, name, "password rotated")
	m.publish(events.EventHandoverOutdated, name, "credentials changed")
	m.logger.Info().Str("tenant", name).Msg("password rotated")

	return &Result{Record: rec, Warning: warning}, nil
}

// Remove tears down a tenant's containers and deletes its directory. The
// tenant's ports are freed implicitly once the record disappears.
func (m *Manager) Remove(ctx context.Context, name string) error {
	start := time.Now()
	err := m.remove(ctx, name)
	metrics.ObserveOperation("remove", err, time.Since(start).Seconds())
	return err
}

func (m *Manager) remove(ctx context.Context, name string) error {
	if _, err := m.store.Get(name); err != nil {
		return err
	}

	if err := m.controller.Down(ctx, name, m.store.Dir(name)); err != nil {
		// A tenant that was never successfully started has nothing to
		// tear down; removal must still succeed so a failed create can
		// be cleaned up.
		m.logger.Warn().Err(err).Str("tenant", name).Msg("container teardown failed, removing record anyway")
	}

	if err := m.store.Delete(name); err != nil {
		return err
	}

	m.refreshTenantGauge()
	m.publish(events.EventTenantRemoved, name, "tenant removed")
	m.logger.Info().Str("tenant", name).Msg("tenant removed")
	return nil
}

// RenewCertificates re-issues the tenant's leaf when it is inside the
// renewal window, restarts the container so the engine loads the new
// files, and flags the handover bundle for regeneration.
func (m *Manager) RenewCertificates(ctx context.Context, name string, force bool) (*Result, bool, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return nil, false, err
	}

	if !force {
		need, err := m.authority.NeedsRenewal(m.leafCertPath(name))
		if err != nil {
			return nil, false, err
		}
		if !need {
			return &Result{Record: rec}, false, nil
		}
	}

	if err := m.authority.IssueLeaf(name, m.certsDir(name)); err != nil {
		return nil, false, err
	}
	metrics.CertRenewals.Inc()

	// Certificates are mounted, not baked into the manifest: a restart
	// is required for the engine to pick up the new files.
	warning, err := m.applyAndWait(ctx, name, true)
	if err != nil {
		return nil, true, err
	}

	m.publish(events.EventCertRenewed, name, "leaf certificate re-issued")
	m.publish(events.EventHandoverOutdated, name, "CA bundle changed")
	m.logger.Info().Str("tenant", name).Msg("certificate renewed")

	return &Result{Record: rec, Warning: warning}, true, nil
}

// Start starts a stopped tenant.
func (m *Manager) Start(ctx context.Context, name string) (*Result, error) {
	return m.lifecycle(ctx, name, "start", m.controller.Start)
}

// Stop stops a running tenant without removing anything.
func (m *Manager) Stop(ctx context.Context, name string) error {
	if _, err := m.store.Get(name); err != nil {
		return err
	}
	err := m.controller.Stop(ctx, name, m.store.Dir(name))
	metrics.ObserveOperation("stop", err, 0)
	return err
}

// Restart restarts a tenant's containers.
func (m *Manager) Restart(ctx context.Context, name string) (*Result, error) {
	return m.lifecycle(ctx, name, "restart", m.controller.Restart)
}

func (m *Manager) lifecycle(ctx context.Context, name, op string,
	fn func(context.Context, string, string) error) (*Result, error) {

	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, name, m.store.Dir(name)); err != nil {
		metrics.ObserveOperation(op, err, 0)
		return nil, err
	}

	warning := ""
	if err := m.controller.WaitHealthy(ctx, name); err != nil {
		if !errors.Is(err, runtime.ErrHealthTimeout) {
			metrics.ObserveOperation(op, err, 0)
			return nil, err
		}
		warning = err.Error()
		metrics.HealthWaitTimeouts.Inc()
	}

	metrics.ObserveOperation(op, nil, 0)
	return &Result{Record: rec, Warning: warning}, nil
}

// applyAndWait re-applies the manifest, optionally restarts so mounted
// artifacts are re-read, and waits for readiness. A health timeout is
// demoted to a warning; an absent container stays fatal.
func (m *Manager) applyAndWait(ctx context.Context, name string, restart bool) (string, error) {
	dir := m.store.Dir(name)

	if err := m.controller.Apply(ctx, name, dir); err != nil {
		return "", err
	}
	if restart {
		if err := m.controller.Restart(ctx, name, dir); err != nil {
			return "", err
		}
	}

	if err := m.controller.WaitHealthy(ctx, name); err != nil {
		if errors.Is(err, runtime.ErrHealthTimeout) {
			metrics.HealthWaitTimeouts.Inc()
			m.publish(events.EventHealthTimeout, name, err.Error())
			m.logger.Warn().Str("tenant", name).Msg("health wait timed out, container may still converge")
			return err.Error(), nil
		}
		return "", err
	}
	return "", nil
}
