package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. It is loaded once at startup
// and threaded through every component constructor; nothing re-reads it.
type Config struct {
	Paths        Paths        `yaml:"paths"`
	Ports        Ports        `yaml:"ports"`
	Certificates Certificates `yaml:"certificates"`
	Runtime      Runtime      `yaml:"runtime"`
	Network      Network      `yaml:"network"`
	Organization Organization `yaml:"organization"`
}

// Paths holds the host directory layout.
type Paths struct {
	TenantsDir string `yaml:"tenants_dir"`
	CADir      string `yaml:"ca_dir"`
	BackupsDir string `yaml:"backups_dir"`
	LeaseDB    string `yaml:"lease_db"`
}

// Ports configures the two port address spaces. The plaintext default for
// dual mode is the TLS port plus Offset; when that collides the allocator
// falls back to scanning the plaintext range.
type Ports struct {
	TLSStart   int `yaml:"tls_start"`
	TLSEnd     int `yaml:"tls_end"`
	PlainStart int `yaml:"plain_start"`
	PlainEnd   int `yaml:"plain_end"`
	Offset     int `yaml:"offset"`
}

// Certificates configures the local certificate authority.
type Certificates struct {
	RootValidityDays int    `yaml:"root_validity_days"`
	LeafValidityDays int    `yaml:"leaf_validity_days"`
	RenewalThreshold int    `yaml:"renewal_threshold_days"`
	TenantDomain     string `yaml:"tenant_domain"`
	Organization     string `yaml:"organization"`
}

// Runtime configures the container runtime collaborator.
type Runtime struct {
	EngineImage   string        `yaml:"engine_image"`
	InsightImage  string        `yaml:"insight_image"`
	ProxyImage    string        `yaml:"proxy_image"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	HealthPoll    time.Duration `yaml:"health_poll"`
}

// Network holds the addresses handed to tenants.
type Network struct {
	InternalIP string `yaml:"internal_ip"`
	PublicIP   string `yaml:"public_ip"`
}

// Organization identifies the operator on credential handovers.
type Organization struct {
	Name         string `yaml:"name"`
	ContactName  string `yaml:"contact_name"`
	ContactEmail string `yaml:"contact_email"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: Paths{
			TenantsDir: "/var/cachepilot/tenants",
			CADir:      "/var/cachepilot/ca",
			BackupsDir: "/var/cachepilot/backups",
			LeaseDB:    "/var/cachepilot/ports.db",
		},
		Ports: Ports{
			TLSStart:   16380,
			TLSEnd:     16479,
			PlainStart: 26380,
			PlainEnd:   26479,
			Offset:     10000,
		},
		Certificates: Certificates{
			RootValidityDays: 3650,
			LeafValidityDays: 1095,
			RenewalThreshold: 30,
			TenantDomain:     "cache.local",
			Organization:     "CachePilot",
		},
		Runtime: Runtime{
			EngineImage:   "redis:7-alpine",
			InsightImage:  "redis/redisinsight:latest",
			ProxyImage:    "nginx:alpine",
			HealthTimeout: 60 * time.Second,
			HealthPoll:    time.Second,
		},
		Network: Network{
			InternalIP: "127.0.0.1",
			PublicIP:   "",
		},
		Organization: Organization{
			Name: "Organization",
		},
	}
}

// Load reads system.yaml from path and overlays it on the defaults.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ports.TLSStart <= 0 || c.Ports.TLSEnd < c.Ports.TLSStart {
		return fmt.Errorf("invalid TLS port range [%d, %d]", c.Ports.TLSStart, c.Ports.TLSEnd)
	}
	if c.Ports.PlainStart <= 0 || c.Ports.PlainEnd < c.Ports.PlainStart {
		return fmt.Errorf("invalid plaintext port range [%d, %d]", c.Ports.PlainStart, c.Ports.PlainEnd)
	}
	if c.Certificates.LeafValidityDays <= c.Certificates.RenewalThreshold {
		return fmt.Errorf("leaf validity (%dd) must exceed the renewal threshold (%dd)",
			c.Certificates.LeafValidityDays, c.Certificates.RenewalThreshold)
	}
	return nil
}
