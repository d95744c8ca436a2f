package health

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/msrv-digital/cachepilot/pkg/types"
)

func TestTCPCheckerHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got: %s", result.Message)
	}
}

func TestTCPCheckerUnhealthy(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := NewTCPChecker(addr).WithTimeout(500 * time.Millisecond)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a closed port")
	}
	if !strings.Contains(result.Message, "connection failed") {
		t.Errorf("unexpected message: %s", result.Message)
	}
}

func TestRedisCheckerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := NewRedisChecker(addr, "pw")
	checker.Timeout = 500 * time.Millisecond

	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for an unreachable engine")
	}
}

func TestClientAddr(t *testing.T) {
	rec := &types.TenantRecord{
		Name:         "acme",
		SecurityMode: types.ModeEncryptedOnly,
		PortTLS:      16380,
		PortPlain:    26380,
	}

	addr, err := ClientAddr(rec, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1:16380" {
		t.Errorf("encrypted-only should dial the TLS port, got %s", addr)
	}

	rec.SecurityMode = types.ModeDual
	if addr, _ = ClientAddr(rec, "127.0.0.1"); addr != "127.0.0.1:26380" {
		t.Errorf("dual should dial the plaintext port, got %s", addr)
	}

	rec.SecurityMode = "bogus"
	if _, err := ClientAddr(rec, "127.0.0.1"); err == nil {
		t.Error("unknown mode should be rejected")
	}
}

func TestForRecordSelectsListener(t *testing.T) {
	rec := &types.TenantRecord{
		Name:         "acme",
		SecurityMode: types.ModePlaintextOnly,
		PortTLS:      16380,
		PortPlain:    26380,
		Password:     "pw",
	}

	checker, err := ForRecord(rec, "127.0.0.1", "", "acme.cache.local")
	if err != nil {
		t.Fatal(err)
	}
	if checker.Addr != "127.0.0.1:26380" {
		t.Errorf("plaintext-only should probe the plaintext port, got %s", checker.Addr)
	}
	if checker.TLS != nil {
		t.Error("plaintext probe must not use TLS")
	}

	rec.SecurityMode = types.ModeDual
	checker, err = ForRecord(rec, "127.0.0.1", "", "acme.cache.local")
	if err != nil {
		t.Fatal(err)
	}
	if checker.Addr != "127.0.0.1:26380" || checker.TLS != nil {
		t.Errorf("dual should probe plaintext, got %s TLS=%v", checker.Addr, checker.TLS != nil)
	}

	rec.SecurityMode = "bogus"
	if _, err := ForRecord(rec, "127.0.0.1", "", ""); err == nil {
		t.Error("unknown mode should be rejected")
	}
}
