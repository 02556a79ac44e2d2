package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/internal/topology"
	"github.com/vietdv277/netlab/internal/ui"
)

var teardownYes bool

var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete the lab topology",
	Long: `Terminate the lab instances, then delete the security groups, route tables,
subnets, internet gateway and VPC. Resources are found by name, so teardown
works without the output of a previous create. Missing resources are reported
as warnings, and running teardown twice is safe.

Examples:
  netlab teardown
  netlab teardown --yes`,
	Args: cobra.NoArgs,
	RunE: runTeardown,
}

func init() {
	teardownCmd.Flags().BoolVarP(&teardownYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(teardownCmd)
}

func runTeardown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	if !teardownYes {
		if !stdinIsTerminal() {
			return ui.ErrNotInteractive
		}
		ok, err := ui.Confirm(os.Stdin, cmd.OutOrStdout(), "Delete the lab topology?", teardownTargets(cfg))
		if err != nil {
			return err
		}
		if !ok {
			log.Warn(ctx, "Teardown cancelled")
			return nil
		}
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	ctx = log.With(ctx, "region", client.Region())
	report, err := topology.Teardown(ctx, client, cfg)
	ui.PrintTeardownReport(cmd.OutOrStdout(), report)
	if err != nil {
		return fmt.Errorf("teardown finished with errors: %w", err)
	}
	log.Success(ctx, "Teardown complete", "deleted", report.Deleted())
	return nil
}

func teardownTargets(cfg *config.Config) []string {
	return []string{
		fmt.Sprintf("instances %s, %s, %s", cfg.BastionInstanceName, cfg.NATInstanceName, cfg.PrivateInstanceName),
		fmt.Sprintf("security groups %s, %s, %s", cfg.PrivateSecurityGroup, cfg.NATSecurityGroup, cfg.BastionSecurityGroup),
		fmt.Sprintf("VPC %s with its route tables, subnets and internet gateway", cfg.VPCName),
	}
}
