package manager

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msrv-digital/cachepilot/pkg/ca"
	"github.com/msrv-digital/cachepilot/pkg/confgen"
	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/events"
	"github.com/msrv-digital/cachepilot/pkg/runtime"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// stubRunner answers docker invocations without a container runtime.
type stubRunner struct {
	calls        []string
	stateStatus  string
	healthStatus string
}

func (s *stubRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	s.calls = append(s.calls, call)

	switch {
	case strings.Contains(call, "{{.State.Health.Status}}"):
		status := s.healthStatus
		if status == "" {
			status = "healthy"
		}
		return []byte(status + "\n"), nil
	case strings.Contains(call, "{{.State.Status}}"):
		status := s.stateStatus
		if status == "" {
			status = "running"
		}
		return []byte(status + "\n"), nil
	}
	return nil, nil
}

func (s *stubRunner) composeCalls() []string {
	var out []string
	for _, c := range s.calls {
		if strings.HasPrefix(c, "docker compose") {
			out = append(out, c)
		}
	}
	return out
}

func testManager(t *testing.T) (*Manager, *stubRunner) {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.TenantsDir = filepath.Join(base, "tenants")
	cfg.Paths.CADir = filepath.Join(base, "ca")
	cfg.Paths.BackupsDir = filepath.Join(base, "backups")
	cfg.Paths.LeaseDB = filepath.Join(base, "ports.db")
	cfg.Runtime.HealthTimeout = 100 * time.Millisecond
	cfg.Runtime.HealthPoll = 10 * time.Millisecond

	runner := &stubRunner{}
	m := NewWithController(cfg, runtime.NewControllerWithRunner(cfg, runner))
	t.Cleanup(m.Close)
	return m, runner
}

func createAcme(t *testing.T, m *Manager, mode types.SecurityMode) *Result {
	t.Helper()
	res, err := m.Create(context.Background(), CreateRequest{
		Name:              "acme",
		Mode:              mode,
		MaxMemoryMB:       256,
		ContainerMemoryMB: 512,
	})
	require.NoError(t, err)
	return res
}

func TestCreateEncryptedOnly(t *testing.T) {
	m, runner := testManager(t)
	res := createAcme(t, m, types.ModeEncryptedOnly)

	rec := res.Record
	assert.Equal(t, types.ModeEncryptedOnly, rec.SecurityMode)
	assert.GreaterOrEqual(t, rec.PortTLS, 16380)
	assert.LessOrEqual(t, rec.PortTLS, 16479)
	assert.Zero(t, rec.PortPlain)
	assert.NotEmpty(t, rec.Password)

	// Round-trip: the persisted record matches what was requested.
	stored, err := m.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, rec.SecurityMode, stored.SecurityMode)
	assert.Equal(t, rec.PortTLS, stored.PortTLS)
	assert.Equal(t, []int{rec.PortTLS}, stored.ActivePorts())

	// Leaf certificate is bound to the synthetic hostname.
	data, err := os.ReadFile(filepath.Join(m.certsDir("acme"), ca.LeafCertFile))
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "acme.cache.local", leaf.Subject.CommonName)

	// Manifest binds only the encrypted port.
	manifest, err := os.ReadFile(filepath.Join(m.Store().Dir("acme"), confgen.ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "16380:16380")
	assert.NotContains(t, string(manifest), "26380")

	// The container was brought up.
	require.NotEmpty(t, runner.composeCalls())
	assert.Contains(t, runner.composeCalls()[0], "up -d")
}

func TestSwitchEncryptedOnlyToDual(t *testing.T) {
	m, _ := testManager(t)
	created := createAcme(t, m, types.ModeEncryptedOnly)
	tlsPort := created.Record.PortTLS

	res, err := m.SetMode(context.Background(), "acme", types.ModeDual)
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, tlsPort, rec.PortTLS, "encrypted port must not change on switch")
	assert.NotZero(t, rec.PortPlain, "a plaintext port must be newly allocated")

	conf, err := os.ReadFile(filepath.Join(m.Store().Dir("acme"), confgen.EngineConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "tls-port")
	assert.NotContains(t, string(conf), "port 0\n")
}

func TestSetModeIdempotent(t *testing.T) {
	m, runner := testManager(t)
	created := createAcme(t, m, types.ModeEncryptedOnly)
	callsAfterCreate := len(runner.calls)

	res, err := m.SetMode(context.Background(), "acme", types.ModeEncryptedOnly)
	require.NoError(t, err)

	assert.Equal(t, created.Record.PortTLS, res.Record.PortTLS)
	assert.Zero(t, res.Record.PortPlain)
	assert.Equal(t, callsAfterCreate, len(runner.calls), "no-op transition must not touch the runtime")
}

func TestResizeRejectedBeforeSideEffects(t *testing.T) {
	m, _ := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)

	confPath := filepath.Join(m.Store().Dir("acme"), confgen.EngineConfigFile)
	before, err := os.ReadFile(confPath)
	require.NoError(t, err)

	_, err = m.SetMemory(context.Background(), "acme", 256, 100)
	require.Error(t, err)

	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)

	after, err := os.ReadFile(confPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "no files may be rewritten on rejection")

	stored, err := m.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, 512, stored.ContainerMemoryMB)
}

func TestResize(t *testing.T) {
	m, _ := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)

	res, err := m.SetMemory(context.Background(), "acme", 300, 600)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Record.MaxMemoryMB)

	conf, err := os.ReadFile(filepath.Join(m.Store().Dir("acme"), confgen.EngineConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "maxmemory 300mb")
}

func TestRotatePassword(t *testing.T) {
	m, _ := testManager(t)
	created := createAcme(t, m, types.ModeEncryptedOnly)
	oldPassword := created.Record.Password

	res, err := m.RotatePassword(context.Background(), "acme")
	require.NoError(t, err)
	assert.NotEqual(t, oldPassword, res.Record.Password)
	assert.NotEmpty(t, res.Record.Password)

	conf, err := os.ReadFile(filepath.Join(m.Store().Dir("acme"), confgen.EngineConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "requirepass "+res.Record.Password)
	assert.NotContains(t, string(conf), oldPassword)
}

func TestPortUniquenessAcrossTenants(t *testing.T) {
	m, _ := testManager(t)

	seen := make(map[int]bool)
	for _, name := range []string{"acme", "beta", "gamma"} {
		res, err := m.Create(context.Background(), CreateRequest{
			Name:              name,
			Mode:              types.ModeDual,
			MaxMemoryMB:       64,
			ContainerMemoryMB: 192,
		})
		require.NoError(t, err)

		for _, port := range []int{res.Record.PortTLS, res.Record.PortPlain} {
			assert.False(t, seen[port], "port %d allocated twice", port)
			seen[port] = true
		}
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	m, _ := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)

	_, err := m.Create(context.Background(), CreateRequest{
		Name:              "acme",
		MaxMemoryMB:       64,
		ContainerMemoryMB: 192,
	})
	assert.ErrorIs(t, err, ErrTenantExists)
}

func TestRemoveFreesPorts(t *testing.T) {
	m, runner := testManager(t)
	created := createAcme(t, m, types.ModeEncryptedOnly)
	port := created.Record.PortTLS

	require.NoError(t, m.Remove(context.Background(), "acme"))
	assert.False(t, m.Store().Exists("acme"))

	found := false
	for _, c := range runner.composeCalls() {
		if strings.Contains(c, "down") {
			found = true
		}
	}
	assert.True(t, found, "removal must tear the containers down")

	// The freed port is reusable immediately.
	res, err := m.Create(context.Background(), CreateRequest{
		Name:              "beta",
		Mode:              types.ModeEncryptedOnly,
		MaxMemoryMB:       64,
		ContainerMemoryMB: 192,
	})
	require.NoError(t, err)
	assert.Equal(t, port, res.Record.PortTLS)
}

func TestHealthTimeoutIsWarningNotFailure(t *testing.T) {
	m, runner := testManager(t)
	runner.healthStatus = "starting"

	res := createAcme(t, m, types.ModeEncryptedOnly)
	assert.NotEmpty(t, res.Warning, "health timeout should surface as a warning")
	assert.True(t, m.Store().Exists("acme"), "operation still succeeds")
}

func TestHandover(t *testing.T) {
	m, _ := testManager(t)
	created := createAcme(t, m, types.ModeEncryptedOnly)

	info, err := m.Handover("acme")
	require.NoError(t, err)

	assert.Equal(t, created.Record.PortTLS, info.PortTLS)
	assert.Zero(t, info.PortPlain, "handover must not reference a disabled listener")
	assert.True(t, info.TLSEnabled)
	assert.Contains(t, info.ConnectionString, "rediss://")
	assert.Contains(t, info.CACertificatePEM, "BEGIN CERTIFICATE")
	assert.Contains(t, info.CredentialsText, created.Record.Password)
}

func TestRenewCertificatesSkipsFreshLeaf(t *testing.T) {
	m, runner := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)
	calls := len(runner.calls)

	_, renewed, err := m.RenewCertificates(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.False(t, renewed, "a 3-year leaf is far from the renewal window")
	assert.Equal(t, calls, len(runner.calls), "no restart without renewal")
}

func TestRenewCertificatesForced(t *testing.T) {
	m, _ := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)

	firstCert, err := os.ReadFile(filepath.Join(m.certsDir("acme"), ca.LeafCertFile))
	require.NoError(t, err)

	_, renewed, err := m.RenewCertificates(context.Background(), "acme", true)
	require.NoError(t, err)
	assert.True(t, renewed)

	secondCert, err := os.ReadFile(filepath.Join(m.certsDir("acme"), ca.LeafCertFile))
	require.NoError(t, err)
	assert.NotEqual(t, string(firstCert), string(secondCert))
}

func TestStatusProbesListenerBeforeEngine(t *testing.T) {
	m, _ := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)

	st, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, types.ContainerStateRunning, st.Container)
	// Nothing listens on the allocated port in this test, so the TCP
	// probe fails and the authenticated PING is never attempted.
	assert.False(t, st.PortReachable)
	assert.False(t, st.EngineAlive)
	assert.Contains(t, st.EngineMessage, "connection failed")
}

func TestStatusStoppedContainerSkipsProbe(t *testing.T) {
	m, runner := testManager(t)
	createAcme(t, m, types.ModeEncryptedOnly)
	runner.stateStatus = "exited"

	st, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, types.ContainerStateStopped, st.Container)
	assert.False(t, st.PortReachable)
	assert.False(t, st.EngineAlive)
	assert.Empty(t, st.EngineMessage)
}

func TestOperationsPublishEventTrail(t *testing.T) {
	m, _ := testManager(t)
	sub := m.Events().Subscribe()

	createAcme(t, m, types.ModeEncryptedOnly)
	_, err := m.SetMode(context.Background(), "acme", types.ModeDual)
	require.NoError(t, err)
	m.Close()

	var seen []events.EventType
	for e := range sub {
		assert.Equal(t, "acme", e.Tenant)
		seen = append(seen, e.Type)
	}
	assert.Contains(t, seen, events.EventTenantCreated)
	assert.Contains(t, seen, events.EventModeChanged)
}

func TestOperationsOnMissingTenant(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	_, err := m.SetMode(ctx, "ghost", types.ModeDual)
	assert.Error(t, err)
	_, err = m.RotatePassword(ctx, "ghost")
	assert.Error(t, err)
	err = m.Remove(ctx, "ghost")
	assert.Error(t, err)
}

func TestCreateRejectsBadInput(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Name: "Bad_Name", MaxMemoryMB: 64, ContainerMemoryMB: 192})
	assert.Error(t, err)

	_, err = m.Create(ctx, CreateRequest{Name: "ok", Mode: "sideways", MaxMemoryMB: 64, ContainerMemoryMB: 192})
	assert.Error(t, err)

	_, err = m.Create(ctx, CreateRequest{Name: "ok", MaxMemoryMB: 512, ContainerMemoryMB: 256})
	assert.Error(t, err)

	// Nothing was left behind by the rejected attempts.
	records, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}
