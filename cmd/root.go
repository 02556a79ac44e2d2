package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/log"
)

var (
	// Global flags
	configFile      string
	credentialsFile string
	awsProfile      string

	closeLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "netlab",
	Short: "netlab - provision and tear down a bastion/NAT lab network on AWS",
	Long: `netlab builds a small AWS network for experiments: a VPC with a public and a
private subnet, an internet gateway, and three instances acting as bastion,
NAT and private host. Teardown finds everything again by name, so it works
after a failed or interrupted creation run.

Commands:
  netlab create              # Provision the topology
  netlab teardown            # Delete it again
  netlab probe               # Check credentials and list VPCs, subnets, instances
  netlab config show         # Print the effective settings
  netlab config init         # Write the default settings file`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops any wait in progress.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "settings file (default ~/.netlab/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&credentialsFile, "credentials", config.DefaultCredentialsFile, "AWS credentials file")
	rootCmd.PersistentFlags().StringVarP(&awsProfile, "profile", "p", "", "use this AWS shared config profile instead of the credentials file")
	rootCmd.PersistentFlags().String("log-file", "", "also append log lines to this file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Bind flags to viper
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	// Read from environment variables (NETLAB_DEBUG, NETLAB_LOG_FILE)
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	ctx, closer, err := log.Setup(cmd.Context(), log.Options{
		Writer:  cmd.OutOrStdout(),
		LogFile: viper.GetString("log_file"),
		Debug:   viper.GetBool("debug"),
	})
	if err != nil {
		return err
	}
	closeLog = closer
	cmd.SetContext(ctx)
	return nil
}

// loadSettings reads and validates the settings file
func loadSettings() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient builds an AWS client from the credentials file, or from the shared
// config profile when --profile is set. Either way the credentials region
// replaces the settings region.
func newClient(ctx context.Context, cfg *config.Config) (*aws.Client, error) {
	if awsProfile != "" {
		return newProfileClient(ctx, cfg)
	}

	creds, err := config.LoadCredentials(credentialsFile)
	if err != nil {
		return nil, err
	}

	if cfg.Region != creds.Region {
		log.Debug(ctx, "Using credentials region", "region", creds.Region, "settings_region", cfg.Region)
	}
	cfg.Region = creds.Region

	client, err := aws.NewClient(ctx,
		aws.WithRegion(creds.Region),
		aws.WithStaticCredentials(creds.AccessKeyID, creds.SecretAccessKey),
		aws.WithPolling(cfg.PollInterval, cfg.WaitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS client: %w", err)
	}
	return client, nil
}

func newProfileClient(ctx context.Context, cfg *config.Config) (*aws.Client, error) {
	client, err := aws.NewClient(ctx,
		aws.WithProfile(awsProfile),
		aws.WithPolling(cfg.PollInterval, cfg.WaitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS client for profile %s: %w", awsProfile, err)
	}
	if client.Region() == "" {
		return nil, fmt.Errorf("%w: profile %s has no region", config.ErrMissingCredential, awsProfile)
	}

	log.Debug(ctx, "Using shared config profile", "profile", awsProfile, "region", client.Region())
	cfg.Region = client.Region()
	return client, nil
}
