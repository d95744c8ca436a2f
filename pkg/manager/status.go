package manager

import (
	"context"
	"time"

	"github.com/msrv-digital/cachepilot/pkg/ca"
	"github.com/msrv-digital/cachepilot/pkg/health"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// TenantStatus combines the persisted record with what the runtime and
// the engine itself report.
type TenantStatus struct {
	Record         *types.TenantRecord
	Container      types.ContainerState
	PortReachable  bool
	EngineAlive    bool
	EngineMessage  string
	CertDaysLeft   int
	CertNeedsRenew bool
}

// Status inspects one tenant: container state, a live authenticated PING
// on the listener its mode enables, and certificate expiry.
func (m *Manager) Status(ctx context.Context, name string) (*TenantStatus, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}

	status := &TenantStatus{Record: rec}

	status.Container, err = m.controller.State(ctx, name)
	if err != nil {
		return nil, err
	}

	if status.Container == types.ContainerStateRunning {
		m.probeEngine(ctx, rec, status)
	}

	if days, err := ca.DaysUntilExpiry(m.leafCertPath(name)); err == nil {
		status.CertDaysLeft = days
		status.CertNeedsRenew, _ = m.authority.NeedsRenewal(m.leafCertPath(name))
	}

	return status, nil
}

// probeEngine checks the listener from the client's side: a cheap TCP
// probe first, then the authenticated PING only when the port answers
// at all. A closed port and a refused password report differently.
func (m *Manager) probeEngine(ctx context.Context, rec *types.TenantRecord, status *TenantStatus) {
	name := rec.Name
	addr, err := health.ClientAddr(rec, m.cfg.Network.InternalIP)
	if err != nil {
		status.EngineMessage = err.Error()
		return
	}

	tcp := health.NewTCPChecker(addr).WithTimeout(2 * time.Second)
	if result := tcp.Check(ctx); !result.Healthy {
		status.EngineMessage = result.Message
		return
	}
	status.PortReachable = true

	checker, err := health.ForRecord(rec, m.cfg.Network.InternalIP,
		m.tenantCACertPath(name), m.authority.Hostname(name))
	if err != nil {
		status.EngineMessage = err.Error()
		return
	}
	result := checker.Check(ctx)
	status.EngineAlive = result.Healthy
	status.EngineMessage = result.Message
}
