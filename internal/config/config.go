package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Built-in topology defaults
const (
	DefaultRegion            = "il-central-1"
	DefaultVPCCIDR           = "10.0.0.0/16"
	DefaultPublicSubnetCIDR  = "10.0.1.0/24"
	DefaultPrivateSubnetCIDR = "10.0.2.0/24"
	DefaultInstanceType      = "t2.micro"
	DefaultKeyName           = "key01"
	DefaultAMIID             = "ami-0c02fb55956c7d316"
	DefaultVPCName           = "lab-vpc"
	DefaultPublicSubnetName  = "public-subnet"
	DefaultPrivateSubnetName = "private-subnet"
	DefaultBastionSG         = "sg-bastion"
	DefaultNATSG             = "sg-nat"
	DefaultPrivateSG         = "sg-private"
	DefaultBastionName       = "bastion"
	DefaultNATName           = "nat"
	DefaultPrivateName       = "private"
	DefaultSSHIngressCIDR    = "0.0.0.0/0"
	DefaultWaitTimeout       = 10 * time.Minute
	DefaultPollInterval      = 5 * time.Second
)

// EnvPrefix is the prefix for environment variable overrides (NETLAB_VPC_CIDR, ...)
const EnvPrefix = "NETLAB"

// Config holds the static topology settings
type Config struct {
	Region           string `mapstructure:"region" yaml:"region"`
	AvailabilityZone string `mapstructure:"availability_zone" yaml:"availability_zone,omitempty"`

	VPCCIDR           string `mapstructure:"vpc_cidr" yaml:"vpc_cidr"`
	PublicSubnetCIDR  string `mapstructure:"public_subnet_cidr" yaml:"public_subnet_cidr"`
	PrivateSubnetCIDR string `mapstructure:"private_subnet_cidr" yaml:"private_subnet_cidr"`

	InstanceType string `mapstructure:"instance_type" yaml:"instance_type"`
	KeyName      string `mapstructure:"key_name" yaml:"key_name"`
	AMIID        string `mapstructure:"ami_id" yaml:"ami_id"`

	VPCName           string `mapstructure:"vpc_name" yaml:"vpc_name"`
	PublicSubnetName  string `mapstructure:"public_subnet_name" yaml:"public_subnet_name"`
	PrivateSubnetName string `mapstructure:"private_subnet_name" yaml:"private_subnet_name"`

	BastionSecurityGroup string `mapstructure:"bastion_security_group" yaml:"bastion_security_group"`
	NATSecurityGroup     string `mapstructure:"nat_security_group" yaml:"nat_security_group"`
	PrivateSecurityGroup string `mapstructure:"private_security_group" yaml:"private_security_group"`

	BastionInstanceName string `mapstructure:"bastion_instance_name" yaml:"bastion_instance_name"`
	NATInstanceName     string `mapstructure:"nat_instance_name" yaml:"nat_instance_name"`
	PrivateInstanceName string `mapstructure:"private_instance_name" yaml:"private_instance_name"`

	SSHIngressCIDR string `mapstructure:"ssh_ingress_cidr" yaml:"ssh_ingress_cidr"`

	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"-"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"-"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Region:               DefaultRegion,
		VPCCIDR:              DefaultVPCCIDR,
		PublicSubnetCIDR:     DefaultPublicSubnetCIDR,
		PrivateSubnetCIDR:    DefaultPrivateSubnetCIDR,
		InstanceType:         DefaultInstanceType,
		KeyName:              DefaultKeyName,
		AMIID:                DefaultAMIID,
		VPCName:              DefaultVPCName,
		PublicSubnetName:     DefaultPublicSubnetName,
		PrivateSubnetName:    DefaultPrivateSubnetName,
		BastionSecurityGroup: DefaultBastionSG,
		NATSecurityGroup:     DefaultNATSG,
		PrivateSecurityGroup: DefaultPrivateSG,
		BastionInstanceName:  DefaultBastionName,
		NATInstanceName:      DefaultNATName,
		PrivateInstanceName:  DefaultPrivateName,
		SSHIngressCIDR:       DefaultSSHIngressCIDR,
		WaitTimeout:          DefaultWaitTimeout,
		PollInterval:         DefaultPollInterval,
	}
}

// Zone returns the availability zone subnets are placed in. Defaults to the
// region's "a" zone.
func (c *Config) Zone() string {
	if c.AvailabilityZone != "" {
		return c.AvailabilityZone
	}
	return c.Region + "a"
}

// InstanceNames returns the instance Name tags in launch order
func (c *Config) InstanceNames() []string {
	return []string{c.BastionInstanceName, c.NATInstanceName, c.PrivateInstanceName}
}

// SecurityGroupNames returns the security group names in creation order
func (c *Config) SecurityGroupNames() []string {
	return []string{c.BastionSecurityGroup, c.NATSecurityGroup, c.PrivateSecurityGroup}
}

// MarshalYAML writes durations in their human-readable form.
func (c Config) MarshalYAML() (any, error) {
	type plain Config
	return struct {
		Settings     plain  `yaml:",inline"`
		WaitTimeout  string `yaml:"wait_timeout"`
		PollInterval string `yaml:"poll_interval"`
	}{
		Settings:     plain(c),
		WaitTimeout:  c.WaitTimeout.String(),
		PollInterval: c.PollInterval.String(),
	}, nil
}

// GetConfigDir returns the config directory path (~/.netlab)
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netlab"
	}
	return filepath.Join(home, ".netlab")
}

// GetConfigPath returns the default settings file path (~/.netlab/config.yaml)
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load reads settings from defaults, the settings file and NETLAB_* environment
// variables, in increasing priority. An empty path searches the default config
// directory and tolerates a missing file; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(GetConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("region", d.Region)
	v.SetDefault("availability_zone", d.AvailabilityZone)
	v.SetDefault("vpc_cidr", d.VPCCIDR)
	v.SetDefault("public_subnet_cidr", d.PublicSubnetCIDR)
	v.SetDefault("private_subnet_cidr", d.PrivateSubnetCIDR)
	v.SetDefault("instance_type", d.InstanceType)
	v.SetDefault("key_name", d.KeyName)
	v.SetDefault("ami_id", d.AMIID)
	v.SetDefault("vpc_name", d.VPCName)
	v.SetDefault("public_subnet_name", d.PublicSubnetName)
	v.SetDefault("private_subnet_name", d.PrivateSubnetName)
	v.SetDefault("bastion_security_group", d.BastionSecurityGroup)
	v.SetDefault("nat_security_group", d.NATSecurityGroup)
	v.SetDefault("private_security_group", d.PrivateSecurityGroup)
	v.SetDefault("bastion_instance_name", d.BastionInstanceName)
	v.SetDefault("nat_instance_name", d.NATInstanceName)
	v.SetDefault("private_instance_name", d.PrivateInstanceName)
	v.SetDefault("ssh_ingress_cidr", d.SSHIngressCIDR)
	v.SetDefault("wait_timeout", d.WaitTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
}

// Save writes the settings as YAML, creating the parent directory if needed
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
