package confgen

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ComposeFile is the typed container manifest. It is marshalled as a
// whole; nothing ever patches the YAML in place.
type ComposeFile struct {
	Services map[string]*ComposeService `yaml:"services"`
}

// ComposeService describes one service in the manifest.
type ComposeService struct {
	Image         string             `yaml:"image"`
	ContainerName string             `yaml:"container_name"`
	Command       []string           `yaml:"command,omitempty"`
	Restart       string             `yaml:"restart"`
	MemLimit      string             `yaml:"mem_limit,omitempty"`
	Ports         []string           `yaml:"ports,omitempty"`
	Volumes       []string           `yaml:"volumes,omitempty"`
	DependsOn     []string           `yaml:"depends_on,omitempty"`
	Healthcheck   *ComposeHealthcheck `yaml:"healthcheck,omitempty"`
}

// ComposeHealthcheck is the readiness probe of a service.
type ComposeHealthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

func manifest(rec *types.TenantRecord, rcfg config.Runtime) (string, error) {
	probe, err := readinessProbe(rec)
	if err != nil {
		return "", err
	}

	engine := &ComposeService{
		Image:         rcfg.EngineImage,
		ContainerName: EngineContainerName(rec.Name),
		Command:       []string{"redis-server", EngineConfigPath},
		Restart:       "unless-stopped",
		MemLimit:      fmt.Sprintf("%dm", rec.ContainerMemoryMB),
		Volumes: []string{
			"./data:" + DataPath,
			"./certs:" + CertsPath + ":ro",
			"./" + EngineConfigFile + ":" + EngineConfigPath + ":ro",
		},
		Healthcheck: &ComposeHealthcheck{
			Test:        probe,
			Interval:    "5s",
			Timeout:     "3s",
			Retries:     5,
			StartPeriod: "10s",
		},
	}

	// Only the ports the security mode implies are bound on the host.
	if rec.SecurityMode.RequiresTLS() {
		engine.Ports = append(engine.Ports, fmt.Sprintf("%d:%d", rec.PortTLS, rec.PortTLS))
	}
	if rec.SecurityMode.RequiresPlaintext() {
		engine.Ports = append(engine.Ports, fmt.Sprintf("%d:%d", rec.PortPlain, rec.PortPlain))
	}

	file := &ComposeFile{
		Services: map[string]*ComposeService{
			"cache": engine,
		},
	}

	if rec.InsightPort > 0 {
		file.Services["insight"] = &ComposeService{
			Image:         rcfg.InsightImage,
			ContainerName: InsightServiceName(rec.Name),
			Restart:       "unless-stopped",
			DependsOn:     []string{"cache"},
		}
		file.Services["insight-proxy"] = &ComposeService{
			Image:         rcfg.ProxyImage,
			ContainerName: ProxyServiceName(rec.Name),
			Restart:       "unless-stopped",
			Ports:         []string{fmt.Sprintf("%d:80", rec.InsightPort)},
			Volumes:       []string{"./" + ProxyConfigFile + ":/etc/nginx/conf.d/default.conf:ro"},
			DependsOn:     []string{"insight"},
		}
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return string(data), nil
}

// readinessProbe selects the probe command for the listener the mode
// actually enables. Probing a disabled listener would report perpetual
// failure, so encrypted-only probes over TLS and every mode with a
// plaintext listener probes that one.
func readinessProbe(rec *types.TenantRecord) ([]string, error) {
	switch rec.SecurityMode {
	case types.ModeEncryptedOnly:
		return []string{
			"CMD", "redis-cli",
			"--tls",
			"--cacert", CertsPath + "/ca.crt",
			"-p", fmt.Sprintf("%d", rec.PortTLS),
			"-a", rec.Password,
			"ping",
		}, nil
	case types.ModeDual, types.ModePlaintextOnly:
		return []string{
			"CMD", "redis-cli",
			"-p", fmt.Sprintf("%d", rec.PortPlain),
			"-a", rec.Password,
			"ping",
		}, nil
	default:
		return nil, types.NewValidationError("security_mode", fmt.Sprintf("unknown mode %q", rec.SecurityMode))
	}
}
