package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/log"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Long: `Print the settings after applying defaults, the settings file and
NETLAB_* environment variables.

Examples:
  netlab config show
  NETLAB_VPC_CIDR=10.1.0.0/16 netlab config show`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file",
	Long: `Write the built-in defaults to the settings file (--config, or
~/.netlab/config.yaml) so they can be edited.

Examples:
  netlab config init
  netlab config init --config lab.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))

	if err := cfg.Validate(); err != nil {
		log.Warn(cmd.Context(), "Settings are not valid", "error", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	log.Success(cmd.Context(), "Settings written", "path", path)
	return nil
}
