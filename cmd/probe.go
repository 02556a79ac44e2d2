package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/internal/topology"
	"github.com/vietdv277/netlab/internal/ui"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check credentials and list VPCs, subnets and instances",
	Long: `Verify that the credentials work by listing every VPC, subnet and instance
in the region. The probe only reads; failures are logged and the remaining
sections still run.

Examples:
  netlab probe
  netlab probe --log-file probe.log`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	ctx = log.With(ctx, "region", client.Region())
	report := topology.Probe(ctx, client)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	ui.PrintProbeReport(out, report)
	return nil
}
