package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msrv-digital/cachepilot/pkg/backup"
	"github.com/msrv-digital/cachepilot/pkg/manager"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage cache tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Provision a new tenant",
	Long: `Provision a new tenant: allocate ports for the chosen security mode,
issue a TLS certificate, generate the engine configuration and start
the container.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		maxMemory, _ := cmd.Flags().GetInt("maxmemory")
		containerMemory, _ := cmd.Flags().GetInt("container-memory")
		persistence, _ := cmd.Flags().GetString("persistence")
		insightPort, _ := cmd.Flags().GetInt("insight-port")
		schedule, _ := cmd.Flags().GetString("backup-schedule")

		if schedule != "" {
			if err := backup.ValidateSchedule(schedule); err != nil {
				return err
			}
		}

		m := newManager()
		defer m.Close()

		res, err := m.Create(cmd.Context(), manager.CreateRequest{
			Name:              args[0],
			Mode:              types.SecurityMode(mode),
			MaxMemoryMB:       maxMemory,
			ContainerMemoryMB: containerMemory,
			PersistenceMode:   types.PersistenceMode(persistence),
			InsightPort:       insightPort,
			BackupEnabled:     schedule != "",
			BackupSchedule:    schedule,
		})
		if err != nil {
			return err
		}

		rec := res.Record
		fmt.Printf("✓ Tenant '%s' created\n", rec.Name)
		fmt.Printf("  Mode: %s\n", rec.SecurityMode)
		if rec.PortTLS != 0 {
			fmt.Printf("  TLS port: %d\n", rec.PortTLS)
		}
		if rec.PortPlain != 0 {
			fmt.Printf("  Plain port: %d\n", rec.PortPlain)
		}
		fmt.Printf("  Memory: %d MB engine / %d MB container\n", rec.MaxMemoryMB, rec.ContainerMemoryMB)
		printWarning(res.Warning)
		fmt.Println()
		fmt.Printf("Run 'cachepilot tenant handover %s' for client credentials.\n", rec.Name)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		records, err := m.List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No tenants.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODE\tTLS PORT\tPLAIN PORT\tMEMORY\tCREATED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d MB\t%s\n",
				rec.Name, rec.SecurityMode,
				portCell(rec.PortTLS), portCell(rec.PortPlain),
				rec.MaxMemoryMB, rec.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var tenantStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show a tenant's record, container and engine health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		st, err := m.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rec := st.Record
		fmt.Printf("Tenant: %s\n", rec.Name)
		fmt.Printf("  Mode: %s\n", rec.SecurityMode)
		fmt.Printf("  TLS port: %s\n", portCell(rec.PortTLS))
		fmt.Printf("  Plain port: %s\n", portCell(rec.PortPlain))
		fmt.Printf("  Memory: %d MB engine / %d MB container\n", rec.MaxMemoryMB, rec.ContainerMemoryMB)
		fmt.Printf("  Persistence: %s\n", rec.PersistenceMode)
		fmt.Printf("  Container: %s\n", st.Container)
		if st.Container == types.ContainerStateRunning {
			if st.PortReachable {
				fmt.Println("  Listener: reachable")
			} else {
				fmt.Println("  Listener: unreachable")
			}
		}
		if st.EngineAlive {
			fmt.Println("  Engine: responding")
		} else {
			fmt.Printf("  Engine: not responding (%s)\n", st.EngineMessage)
		}
		if st.CertDaysLeft >= 0 {
			fmt.Printf("  Certificate: %d days left", st.CertDaysLeft)
			if st.CertNeedsRenew {
				fmt.Print(" (renewal due)")
			}
			fmt.Println()
		}
		return nil
	},
}

var tenantSetModeCmd = &cobra.Command{
	Use:   "set-mode NAME MODE",
	Short: "Switch a tenant's security mode",
	Long: `Switch a tenant between encrypted-only, dual and plaintext-only.
Previously allocated ports are retained across switches, so switching
back restores the same endpoints.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		res, err := m.SetMode(cmd.Context(), args[0], types.SecurityMode(args[1]))
		if err != nil {
			return err
		}

		fmt.Printf("✓ Tenant '%s' is now %s\n", args[0], res.Record.SecurityMode)
		printWarning(res.Warning)
		return nil
	},
}

var tenantSetMemoryCmd = &cobra.Command{
	Use:   "set-memory NAME",
	Short: "Resize a tenant's memory ceilings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxMemory, _ := cmd.Flags().GetInt("maxmemory")
		containerMemory, _ := cmd.Flags().GetInt("container-memory")

		m := newManager()
		defer m.Close()

		res, err := m.SetMemory(cmd.Context(), args[0], maxMemory, containerMemory)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Tenant '%s' resized to %d MB engine / %d MB container\n",
			args[0], res.Record.MaxMemoryMB, res.Record.ContainerMemoryMB)
		printWarning(res.Warning)
		return nil
	},
}

var tenantRotateCmd = &cobra.Command{
	Use:   "rotate-password NAME",
	Short: "Replace a tenant's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		res, err := m.RotatePassword(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("✓ Password rotated for tenant '%s'\n", args[0])
		printWarning(res.Warning)
		fmt.Printf("Run 'cachepilot tenant handover %s' for the new credentials.\n", args[0])
		return nil
	},
}

var tenantStartCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Start a stopped tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		res, err := m.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Tenant '%s' started\n", args[0])
		printWarning(res.Warning)
		return nil
	},
}

var tenantStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a tenant without removing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		if err := m.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant '%s' stopped\n", args[0])
		return nil
	},
}

var tenantRestartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "Restart a tenant's containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		res, err := m.Restart(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Tenant '%s' restarted\n", args[0])
		printWarning(res.Warning)
		return nil
	},
}

var tenantRemoveCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a tenant and its containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("removal deletes the tenant's data directory; re-run with --yes to confirm")
		}

		m := newManager()
		defer m.Close()

		if err := m.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant '%s' removed\n", args[0])
		return nil
	},
}

var tenantHandoverCmd = &cobra.Command{
	Use:   "handover NAME",
	Short: "Print client connection credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		defer m.Close()

		info, err := m.Handover(args[0])
		if err != nil {
			return err
		}

		fmt.Print(info.CredentialsText)
		return nil
	},
}

func printWarning(warning string) {
	if warning != "" {
		fmt.Printf("! Warning: %s\n", warning)
	}
}

func portCell(port int) string {
	if port == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", port)
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantStatusCmd)
	tenantCmd.AddCommand(tenantSetModeCmd)
	tenantCmd.AddCommand(tenantSetMemoryCmd)
	tenantCmd.AddCommand(tenantRotateCmd)
	tenantCmd.AddCommand(tenantStartCmd)
	tenantCmd.AddCommand(tenantStopCmd)
	tenantCmd.AddCommand(tenantRestartCmd)
	tenantCmd.AddCommand(tenantRemoveCmd)
	tenantCmd.AddCommand(tenantHandoverCmd)

	tenantCreateCmd.Flags().String("mode", "encrypted-only", "Security mode (encrypted-only|dual|plaintext-only)")
	tenantCreateCmd.Flags().Int("maxmemory", 256, "Engine memory ceiling in MB")
	tenantCreateCmd.Flags().Int("container-memory", 512, "Container memory limit in MB")
	tenantCreateCmd.Flags().String("persistence", "durable", "Persistence mode (durable|ephemeral)")
	tenantCreateCmd.Flags().Int("insight-port", 0, "Publish a browser UI on this port (0 disables)")
	tenantCreateCmd.Flags().String("backup-schedule", "", "Cron schedule for automatic backups")

	tenantSetMemoryCmd.Flags().Int("maxmemory", 0, "Engine memory ceiling in MB")
	tenantSetMemoryCmd.Flags().Int("container-memory", 0, "Container memory limit in MB")
	tenantSetMemoryCmd.MarkFlagRequired("maxmemory")
	tenantSetMemoryCmd.MarkFlagRequired("container-memory")

	tenantRemoveCmd.Flags().Bool("yes", false, "Confirm removal")
}
