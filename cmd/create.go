package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/internal/topology"
	"github.com/vietdv277/netlab/internal/ui"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision the lab topology",
	Long: `Create the VPC, subnets, internet gateway, security groups, instances and
route tables, in that order. Each resource is waited on until it is ready.

A failure stops the run without deleting what was already created; run
'netlab teardown' to clean up.

Examples:
  netlab create
  netlab create --config lab.yaml --credentials ~/aws.cfg`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
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
	topo, err := topology.Create(ctx, client, cfg)
	if err != nil {
		return err
	}

	ui.PrintTopology(cmd.OutOrStdout(), topo)
	return nil
}
