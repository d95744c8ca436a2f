package confgen

import (
	"fmt"
	"strings"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// Container-side mount points. The manifest binds the tenant's generated
// files onto these paths.
const (
	EngineConfigPath = "/usr/local/etc/redis/redis.conf"
	DataPath         = "/data"
	CertsPath        = "/tls"
)

// Generated file names inside the tenant directory.
const (
	EngineConfigFile = "redis.conf"
	ManifestFile     = "docker-compose.yml"
	ProxyConfigFile  = "insight-proxy.conf"
)

// Commands disabled in every generated engine config. Tenants share a
// host, so configuration reload, shutdown, snapshot triggers and debug
// are renamed away as defense in depth.
var disabledCommands = []string{"CONFIG", "SHUTDOWN", "SAVE", "BGSAVE", "DEBUG"}

// Output holds every artifact derived from one tenant record.
type Output struct {
	EngineConfig string
	Manifest     string
	// ProxyConfig is non-empty only when the web GUI companion is enabled.
	ProxyConfig string
}

// Generate derives the engine configuration and the container manifest
// from a tenant record. It is a pure function: same record, same output,
// no side effects. The record must already satisfy its mode's port
// requirements.
func Generate(rec *types.TenantRecord, rcfg config.Runtime) (*Output, error) {
	if !rec.SecurityMode.Valid() {
		return nil, types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", rec.SecurityMode))
	}

	engineConf, err := engineConfig(rec)
	if err != nil {
		return nil, err
	}

	manifest, err := manifest(rec, rcfg)
	if err != nil {
		return nil, err
	}

	out := &Output{
		EngineConfig: engineConf,
		Manifest:     manifest,
	}
	if rec.InsightPort > 0 {
		out.ProxyConfig = proxyConfig(rec)
	}
	return out, nil
}

// engineConfig renders the cache engine configuration. The single most
// important property here: no port and no transport appears unless the
// security mode enabled it.
func engineConfig(rec *types.TenantRecord) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Generated for tenant %s. Do not edit; the whole file is regenerated.\n", rec.Name)
	b.WriteString("bind 0.0.0.0\n")
	b.WriteString("protected-mode yes\n")

	switch rec.SecurityMode {
	case types.ModeEncryptedOnly:
		b.WriteString("port 0\n")
		writeTLSSection(&b, rec.PortTLS)
	case types.ModeDual:
		fmt.Fprintf(&b, "port %d\n", rec.PortPlain)
		writeTLSSection(&b, rec.PortTLS)
	case types.ModePlaintextOnly:
		fmt.Fprintf(&b, "port %d\n", rec.PortPlain)
	default:
		return "", types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", rec.SecurityMode))
	}

	fmt.Fprintf(&b, "requirepass %s\n", rec.Password)

	fmt.Fprintf(&b, "maxmemory %dmb\n", rec.MaxMemoryMB)
	b.WriteString("maxmemory-policy allkeys-lru\n")

	for _, cmd := range disabledCommands {
		fmt.Fprintf(&b, "rename-command %s \"\"\n", cmd)
	}

	fmt.Fprintf(&b, "dir %s\n", DataPath)
	switch rec.PersistenceMode {
	case types.PersistenceDurable:
		b.WriteString("save 900 1\n")
		b.WriteString("save 300 10\n")
		b.WriteString("save 60 10000\n")
		b.WriteString("appendonly yes\n")
		b.WriteString("appendfsync everysec\n")
	case types.PersistenceEphemeral:
		b.WriteString("save \"\"\n")
		b.WriteString("appendonly no\n")
	default:
		return "", types.NewValidationError("persistence_mode", fmt.Sprintf("unknown mode %q", rec.PersistenceMode))
	}

	return b.String(), nil
}

func writeTLSSection(b *strings.Builder, tlsPort int) {
	fmt.Fprintf(b, "tls-port %d\n", tlsPort)
	fmt.Fprintf(b, "tls-cert-file %s/server.crt\n", CertsPath)
	fmt.Fprintf(b, "tls-key-file %s/server.key\n", CertsPath)
	fmt.Fprintf(b, "tls-ca-cert-file %s/ca.crt\n", CertsPath)
	b.WriteString("tls-auth-clients no\n")
}

// proxyConfig renders the nginx reverse-proxy configuration in front of
// the web GUI companion.
func proxyConfig(rec *types.TenantRecord) string {
	return fmt.Sprintf(`server {
    listen 80;
    server_name _;

    location / {
        proxy_pass http://%s:5540;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_read_timeout 86400;
        proxy_buffering off;
    }
}
`, InsightServiceName(rec.Name))
}

// EngineContainerName returns the cache engine container name.
func EngineContainerName(tenant string) string {
	return "redis-" + tenant
}

// InsightServiceName returns the web GUI container name.
func InsightServiceName(tenant string) string {
	return "insight-" + tenant
}

// ProxyServiceName returns the GUI reverse-proxy container name.
func ProxyServiceName(tenant string) string {
	return "proxy-" + tenant
}
