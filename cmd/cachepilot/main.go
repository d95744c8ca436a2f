package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/manager"
	"github.com/msrv-digital/cachepilot/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgPath  string
	logLevel string
	jsonLog  bool
	verbose  bool

	cfg *config.Config

	// trailDone collects the event-trail printers so main can wait for
	// them to finish before the process exits.
	trailDone []chan struct{}
)

func main() {
	err := rootCmd.Execute()
	for _, done := range trailDone {
		<-done
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cachepilot",
	Short: "CachePilot - Multi-tenant cache server provisioning",
	Long: `CachePilot provisions isolated, password-protected cache server
instances with per-tenant TLS certificates from a local CA, conflict-free
port allocation and a choice of security exposure modes
(encrypted-only, dual, plaintext-only).`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: jsonLog,
			Output:     os.Stderr,
		})

		metrics.Register(prometheus.DefaultRegisterer)

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"CachePilot version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/cachepilot/config.yml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print the lifecycle event trail")

	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(caCmd)
	rootCmd.AddCommand(backupCmd)
}

// newManager wires a manager against the loaded configuration. Callers
// must Close it.
func newManager() *manager.Manager {
	m := manager.New(cfg)
	if verbose {
		watchEvents(m)
	}
	return m
}

// watchEvents prints the manager's lifecycle events to stderr until the
// broker shuts down and closes the subscription.
func watchEvents(m *manager.Manager) {
	sub := m.Events().Subscribe()
	done := make(chan struct{})
	trailDone = append(trailDone, done)
	go func() {
		defer close(done)
		for e := range sub {
			fmt.Fprintf(os.Stderr, "%s %s %s: %s\n",
				e.Timestamp.Format("15:04:05"), e.Type, e.Tenant, e.Message)
		}
	}()
}
