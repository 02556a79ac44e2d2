package config

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "subnet outside VPC",
			mutate:  func(c *Config) { c.PrivateSubnetCIDR = "10.1.2.0/24" },
			wantErr: "private subnet 10.1.2.0/24 is not within VPC 10.0.0.0/16",
		},
		{
			name:    "subnet larger than VPC",
			mutate:  func(c *Config) { c.VPCCIDR = "10.0.1.0/24"; c.PublicSubnetCIDR = "10.0.0.0/16" },
			wantErr: "public subnet 10.0.0.0/16 is not within VPC",
		},
		{
			name:    "overlapping subnets",
			mutate:  func(c *Config) { c.PrivateSubnetCIDR = "10.0.1.128/25" },
			wantErr: "overlaps",
		},
		{
			name:    "host bits set",
			mutate:  func(c *Config) { c.VPCCIDR = "10.0.0.1/16" },
			wantErr: "has host bits set",
		},
		{
			name:    "not a CIDR",
			mutate:  func(c *Config) { c.PublicSubnetCIDR = "public" },
			wantErr: `public_subnet_cidr "public" is not a CIDR block`,
		},
		{
			name:    "prefix too small",
			mutate:  func(c *Config) { c.VPCCIDR = "10.0.0.0/8" },
			wantErr: "must be between /16 and /28",
		},
		{
			name:    "ipv6",
			mutate:  func(c *Config) { c.VPCCIDR = "2001:db8::/56" },
			wantErr: "must be IPv4",
		},
		{
			name:    "duplicate security group names",
			mutate:  func(c *Config) { c.PrivateSecurityGroup = c.BastionSecurityGroup },
			wantErr: `security group name "sg-bastion" is not unique`,
		},
		{
			name:    "empty vpc name",
			mutate:  func(c *Config) { c.VPCName = " " },
			wantErr: "vpc_name must not be empty",
		},
		{
			name:    "empty bastion security group",
			mutate:  func(c *Config) { c.BastionSecurityGroup = "" },
			wantErr: "bastion_security_group must not be empty",
		},
		{
			name:    "empty nat security group",
			mutate:  func(c *Config) { c.NATSecurityGroup = "" },
			wantErr: "nat_security_group must not be empty",
		},
		{
			name:    "empty private security group",
			mutate:  func(c *Config) { c.PrivateSecurityGroup = "  " },
			wantErr: "private_security_group must not be empty",
		},
		{
			name:    "empty bastion instance name",
			mutate:  func(c *Config) { c.BastionInstanceName = "" },
			wantErr: "bastion_instance_name must not be empty",
		},
		{
			name:    "empty nat instance name",
			mutate:  func(c *Config) { c.NATInstanceName = "" },
			wantErr: "nat_instance_name must not be empty",
		},
		{
			name:    "empty private instance name",
			mutate:  func(c *Config) { c.PrivateInstanceName = "" },
			wantErr: "private_instance_name must not be empty",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.WaitTimeout = 0 },
			wantErr: "wait_timeout must be positive",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// Every /24 pair carved from a /16 is accepted when distinct and rejected
// when equal.
func TestCheckSubnets_Carved(t *testing.T) {
	vpc := netip.MustParsePrefix("10.0.0.0/16")
	for a := 0; a < 256; a += 17 {
		for b := 0; b < 256; b += 23 {
			public := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, byte(a), 0}), 24)
			private := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, byte(b), 0}), 24)
			err := CheckSubnets(vpc, public, private)
			if a == b {
				assert.Error(t, err, "%s/%s", public, private)
			} else {
				assert.NoError(t, err, "%s/%s", public, private)
			}
		}
	}
}
