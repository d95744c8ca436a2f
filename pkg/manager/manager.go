package manager

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/ca"
	"github.com/msrv-digital/cachepilot/pkg/confgen"
	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/events"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/metrics"
	"github.com/msrv-digital/cachepilot/pkg/ports"
	"github.com/msrv-digital/cachepilot/pkg/runtime"
	"github.com/msrv-digital/cachepilot/pkg/tenant"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ErrTenantExists is returned when a create names an existing tenant.
var ErrTenantExists = errors.New("tenant already exists")

// Manager orchestrates every tenant operation. The tenant record is the
// single source of truth; ports, certificates, generated configuration
// and the running container are all kept consistent with it.
type Manager struct {
	cfg        *config.Config
	store      *tenant.Store
	allocator  *ports.Allocator
	authority  *ca.Authority
	controller *runtime.Controller
	broker     *events.Broker
	logger     zerolog.Logger
}

// New creates a fully wired manager.
func New(cfg *config.Config) *Manager {
	return NewWithController(cfg, runtime.NewController(cfg))
}

// NewWithController creates a manager with a custom lifecycle controller.
func NewWithController(cfg *config.Config, controller *runtime.Controller) *Manager {
	store := tenant.NewStore(cfg)
	broker := events.NewBroker()
	broker.Start()

	return &Manager{
		cfg:        cfg,
		store:      store,
		allocator:  ports.NewAllocator(cfg, store),
		authority:  ca.NewAuthority(cfg),
		controller: controller,
		broker:     broker,
		logger:     log.WithComponent("manager"),
	}
}

// Store exposes the record store for read-only collaborators.
func (m *Manager) Store() *tenant.Store {
	return m.store
}

// Controller exposes the lifecycle controller for collaborators such as
// the backup subsystem.
func (m *Manager) Controller() *runtime.Controller {
	return m.controller
}

// Events exposes the operation event broker.
func (m *Manager) Events() *events.Broker {
	return m.broker
}

// Close releases the manager's background resources.
func (m *Manager) Close() {
	m.broker.Stop()
}

// List returns all tenant records.
func (m *Manager) List() ([]*types.TenantRecord, error) {
	return m.store.List()
}

// Get returns one tenant record.
func (m *Manager) Get(name string) (*types.TenantRecord, error) {
	return m.store.Get(name)
}

func (m *Manager) certsDir(name string) string {
	return filepath.Join(m.store.Dir(name), "certs")
}

func (m *Manager) leafCertPath(name string) string {
	return filepath.Join(m.certsDir(name), ca.LeafCertFile)
}

func (m *Manager) tenantCACertPath(name string) string {
	return filepath.Join(m.certsDir(name), ca.RootCopyFile)
}

// writeGenerated regenerates every derived file for a record: engine
// config, container manifest and, when enabled, the GUI proxy config.
// Whole files only; nothing is patched in place.
func (m *Manager) writeGenerated(rec *types.TenantRecord) error {
	out, err := confgen.Generate(rec, m.cfg.Runtime)
	if err != nil {
		return err
	}

	dir := m.store.Dir(rec.Name)
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The engine config carries the password; keep it out of reach.
	if err := os.WriteFile(filepath.Join(dir, confgen.EngineConfigFile), []byte(out.EngineConfig), 0600); err != nil {
		return fmt.Errorf("failed to write engine config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, confgen.ManifestFile), []byte(out.Manifest), 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if out.ProxyConfig != "" {
		if err := os.WriteFile(filepath.Join(dir, confgen.ProxyConfigFile), []byte(out.ProxyConfig), 0644); err != nil {
			return fmt.Errorf("failed to write proxy config: %w", err)
		}
	}
	return nil
}

func (m *Manager) publish(eventType events.EventType, name, message string) {
	m.broker.Publish(&events.Event{
		Type:    eventType,
		Tenant:  name,
		Message: message,
	})
}

// refreshTenantGauge recounts tenants by security mode after membership
// or mode changes.
func (m *Manager) refreshTenantGauge() {
	records, err := m.store.List()
	if err != nil {
		return
	}
	metrics.TenantsTotal.Reset()
	for _, rec := range records {
		metrics.TenantsTotal.WithLabelValues(string(rec.SecurityMode)).Inc()
	}
}

// generatePassword returns a random URL-safe password.
func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
