package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/msrv-digital/cachepilot/pkg/types"
)

// RedisChecker performs an authenticated PING against a tenant's engine,
// over TLS or plaintext depending on how it was built.
type RedisChecker struct {
	Addr     string
	Password string
	TLS      *tls.Config
	Timeout  time.Duration
}

// NewRedisChecker creates a plaintext PING checker.
func NewRedisChecker(addr, password string) *RedisChecker {
	return &RedisChecker{
		Addr:     addr,
		Password: password,
		Timeout:  5 * time.Second,
	}
}

// WithTLS enables TLS verification against the given CA certificate,
// expecting serverName on the presented leaf.
func (r *RedisChecker) WithTLS(caCertPath, serverName string) (*RedisChecker, error) {
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCertPath)
	}
	r.TLS = &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
	}
	return r, nil
}

// Check performs the PING.
func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()

	client := redis.NewClient(&redis.Options{
		Addr:        r.Addr,
		Password:    r.Password,
		TLSConfig:   r.TLS,
		DialTimeout: r.Timeout,
		ReadTimeout: r.Timeout,
	})
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   pong,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// ClientAddr returns the endpoint a client of this record would dial:
// the encrypted listener when it is the only one, plaintext otherwise.
func ClientAddr(rec *types.TenantRecord, host string) (string, error) {
	switch rec.SecurityMode {
	case types.ModeEncryptedOnly:
		return fmt.Sprintf("%s:%d", host, rec.PortTLS), nil
	case types.ModeDual, types.ModePlaintextOnly:
		return fmt.Sprintf("%s:%d", host, rec.PortPlain), nil
	default:
		return "", types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", rec.SecurityMode))
	}
}

// ForRecord builds the checker matching a record's security mode: TLS
// when only the encrypted listener exists, plaintext otherwise.
func ForRecord(rec *types.TenantRecord, host, caCertPath, serverName string) (*RedisChecker, error) {
	addr, err := ClientAddr(rec, host)
	if err != nil {
		return nil, err
	}
	if rec.SecurityMode == types.ModeEncryptedOnly {
		return NewRedisChecker(addr, rec.Password).WithTLS(caCertPath, serverName)
	}
	return NewRedisChecker(addr, rec.Password), nil
}
