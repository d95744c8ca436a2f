package confgen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

func record(mode types.SecurityMode) *types.TenantRecord {
	return &types.TenantRecord{
		Name:              "acme",
		SecurityMode:      mode,
		PortTLS:           16380,
		PortPlain:         26380,
		Password:          "hunter2",
		MaxMemoryMB:       256,
		ContainerMemoryMB: 512,
		PersistenceMode:   types.PersistenceEphemeral,
	}
}

func generate(t *testing.T, rec *types.TenantRecord) *Output {
	t.Helper()
	out, err := Generate(rec, config.Default().Runtime)
	require.NoError(t, err)
	return out
}

func TestListenersMatchModeExactly(t *testing.T) {
	tests := []struct {
		mode      types.SecurityMode
		plaintext bool
		tls       bool
	}{
		{types.ModeEncryptedOnly, false, true},
		{types.ModeDual, true, true},
		{types.ModePlaintextOnly, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			out := generate(t, record(tt.mode))
			conf := out.EngineConfig

			if tt.plaintext {
				assert.Contains(t, conf, "port 26380\n", "plaintext listener should be enabled")
			} else {
				assert.Contains(t, conf, "port 0\n", "plaintext listener should be disabled")
				assert.NotContains(t, conf, "26380", "disabled listener's port must not appear anywhere")
			}

			if tt.tls {
				assert.Contains(t, conf, "tls-port 16380\n")
				assert.Contains(t, conf, "tls-cert-file /tls/server.crt\n")
			} else {
				assert.NotContains(t, conf, "tls-port", "TLS section must be absent")
				assert.NotContains(t, conf, "16380", "disabled listener's port must not appear anywhere")
			}

			assert.Contains(t, conf, "requirepass hunter2\n", "auth is required in every mode")
		})
	}
}

func TestManifestBindsOnlyModePorts(t *testing.T) {
	for _, mode := range types.SecurityModes {
		t.Run(string(mode), func(t *testing.T) {
			out := generate(t, record(mode))

			var file ComposeFile
			require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))

			engine := file.Services["cache"]
			require.NotNil(t, engine)

			var want []string
			if mode.RequiresTLS() {
				want = append(want, "16380:16380")
			}
			if mode.RequiresPlaintext() {
				want = append(want, "26380:26380")
			}
			assert.Equal(t, want, engine.Ports)
		})
	}
}

func TestReadinessProbeUsesEnabledListener(t *testing.T) {
	// encrypted-only: the probe must speak TLS on the TLS port.
	out := generate(t, record(types.ModeEncryptedOnly))
	var file ComposeFile
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	test := strings.Join(file.Services["cache"].Healthcheck.Test, " ")
	assert.Contains(t, test, "--tls")
	assert.Contains(t, test, "16380")
	assert.NotContains(t, test, "26380")

	// plaintext-only: no TLS flags, plaintext port.
	out = generate(t, record(types.ModePlaintextOnly))
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	test = strings.Join(file.Services["cache"].Healthcheck.Test, " ")
	assert.NotContains(t, test, "--tls")
	assert.Contains(t, test, "26380")

	// dual: the plaintext listener is probed.
	out = generate(t, record(types.ModeDual))
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	test = strings.Join(file.Services["cache"].Healthcheck.Test, " ")
	assert.NotContains(t, test, "--tls")
	assert.Contains(t, test, "26380")
}

func TestFixedPolicy(t *testing.T) {
	out := generate(t, record(types.ModeDual))
	conf := out.EngineConfig

	assert.Contains(t, conf, "maxmemory 256mb\n")
	assert.Contains(t, conf, "maxmemory-policy allkeys-lru\n")
	for _, cmd := range []string{"CONFIG", "SHUTDOWN", "SAVE", "BGSAVE", "DEBUG"} {
		assert.Contains(t, conf, fmt.Sprintf("rename-command %s \"\"\n", cmd))
	}

	var file ComposeFile
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	assert.Equal(t, "512m", file.Services["cache"].MemLimit)
	assert.Equal(t, "redis-acme", file.Services["cache"].ContainerName)
}

func TestPersistenceModes(t *testing.T) {
	rec := record(types.ModeDual)
	rec.PersistenceMode = types.PersistenceEphemeral
	out := generate(t, rec)
	assert.Contains(t, out.EngineConfig, "save \"\"\n")
	assert.Contains(t, out.EngineConfig, "appendonly no\n")

	rec.PersistenceMode = types.PersistenceDurable
	out = generate(t, rec)
	assert.Contains(t, out.EngineConfig, "save 900 1\n")
	assert.Contains(t, out.EngineConfig, "appendonly yes\n")
	assert.NotContains(t, out.EngineConfig, "appendonly no")
}

func TestDeterministic(t *testing.T) {
	rec := record(types.ModeDual)
	first := generate(t, rec)
	second := generate(t, rec)
	assert.Equal(t, first.EngineConfig, second.EngineConfig)
	assert.Equal(t, first.Manifest, second.Manifest)
}

func TestInsightCompanion(t *testing.T) {
	rec := record(types.ModeEncryptedOnly)
	out := generate(t, rec)
	var file ComposeFile
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	assert.Len(t, file.Services, 1, "no companion services without an insight port")
	assert.Empty(t, out.ProxyConfig)

	rec.InsightPort = 8443
	out = generate(t, rec)
	require.NoError(t, yaml.Unmarshal([]byte(out.Manifest), &file))
	require.Len(t, file.Services, 3)
	assert.Equal(t, "insight-acme", file.Services["insight"].ContainerName)
	assert.Equal(t, []string{"8443:80"}, file.Services["insight-proxy"].Ports)
	assert.Contains(t, out.ProxyConfig, "proxy_pass http://insight-acme:5540;")
}

func TestUnknownModeRejected(t *testing.T) {
	rec := record(types.ModeDual)
	rec.SecurityMode = "everything"
	_, err := Generate(rec, config.Default().Runtime)
	require.Error(t, err)

	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}
