package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msrv-digital/cachepilot/pkg/ca"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the local certificate authority",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the root CA if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		authority := ca.NewAuthority(cfg)
		if err := authority.EnsureRoot(); err != nil {
			return err
		}

		days, err := ca.DaysUntilExpiry(authority.RootCertPath())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Root CA ready at %s (%d days left)\n", authority.RootCertPath(), days)
		return nil
	},
}

var caStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show root and per-tenant certificate expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		authority := ca.NewAuthority(cfg)

		days, err := ca.DaysUntilExpiry(authority.RootCertPath())
		if os.IsNotExist(err) {
			fmt.Println("Root CA not initialized. Run 'cachepilot ca init'.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Root CA: %s (%d days left)\n\n", authority.RootCertPath(), days)

		m := newManager()
		defer m.Close()

		records, err := m.List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TENANT\tCERTIFICATE\tDAYS LEFT\tRENEWAL")
		for _, rec := range records {
			leaf := filepath.Join(m.Store().Dir(rec.Name), "certs", ca.LeafCertFile)
			leafDays, err := ca.DaysUntilExpiry(leaf)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\t-\tmissing\n", rec.Name, leaf)
				continue
			}
			renewal := "ok"
			if need, _ := authority.NeedsRenewal(leaf); need {
				renewal = "due"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.Name, leaf, leafDays, renewal)
		}
		return w.Flush()
	},
}

var caRenewCmd = &cobra.Command{
	Use:   "renew [NAME]",
	Short: "Renew tenant certificates inside the renewal window",
	Long: `Renew the leaf certificate of one tenant, or of every tenant with
--all. Only certificates inside the renewal window are re-issued unless
--force is given. Renewed tenants are restarted so the engine loads the
new files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		all, _ := cmd.Flags().GetBool("all")

		if all == (len(args) == 1) {
			return fmt.Errorf("name a tenant or pass --all, not both")
		}

		m := newManager()
		defer m.Close()

		names := args
		if all {
			records, err := m.List()
			if err != nil {
				return err
			}
			for _, rec := range records {
				names = append(names, rec.Name)
			}
		}

		for _, name := range names {
			res, renewed, err := m.RenewCertificates(cmd.Context(), name, force)
			if err != nil {
				return fmt.Errorf("renewing %s: %w", name, err)
			}
			if !renewed {
				fmt.Printf("- %s: certificate not due yet\n", name)
				continue
			}
			fmt.Printf("✓ %s: certificate renewed\n", name)
			printWarning(res.Warning)
		}
		return nil
	},
}

func init() {
	caCmd.AddCommand(caInitCmd)
	caCmd.AddCommand(caStatusCmd)
	caCmd.AddCommand(caRenewCmd)

	caRenewCmd.Flags().Bool("force", false, "Renew even outside the renewal window")
	caRenewCmd.Flags().Bool("all", false, "Renew every tenant")
}
