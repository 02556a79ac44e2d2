package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// AWS accepts VPC and subnet IPv4 blocks between /16 and /28.
const (
	minPrefixBits = 16
	maxPrefixBits = 28
)

// Validate checks the settings before any API call is made
func (c *Config) Validate() error {
	var problems []string

	vpc, err := parseBlock("vpc_cidr", c.VPCCIDR)
	if err != nil {
		problems = append(problems, err.Error())
	}
	public, err := parseBlock("public_subnet_cidr", c.PublicSubnetCIDR)
	if err != nil {
		problems = append(problems, err.Error())
	}
	private, err := parseBlock("private_subnet_cidr", c.PrivateSubnetCIDR)
	if err != nil {
		problems = append(problems, err.Error())
	}

	if vpc.IsValid() && public.IsValid() && private.IsValid() {
		if err := CheckSubnets(vpc, public, private); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if _, err := netip.ParsePrefix(c.SSHIngressCIDR); err != nil {
		problems = append(problems, fmt.Sprintf("ssh_ingress_cidr %q is not a CIDR block", c.SSHIngressCIDR))
	}

	required := []struct{ key, value string }{
		{"region", c.Region},
		{"instance_type", c.InstanceType},
		{"ami_id", c.AMIID},
		{"vpc_name", c.VPCName},
		{"public_subnet_name", c.PublicSubnetName},
		{"private_subnet_name", c.PrivateSubnetName},
		{"bastion_security_group", c.BastionSecurityGroup},
		{"nat_security_group", c.NATSecurityGroup},
		{"private_security_group", c.PrivateSecurityGroup},
		{"bastion_instance_name", c.BastionInstanceName},
		{"nat_instance_name", c.NATInstanceName},
		{"private_instance_name", c.PrivateInstanceName},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, r.key+" must not be empty")
		}
	}

	if dup := firstDuplicate(c.SecurityGroupNames()); dup != "" {
		problems = append(problems, fmt.Sprintf("security group name %q is not unique", dup))
	}
	if dup := firstDuplicate(c.InstanceNames()); dup != "" {
		problems = append(problems, fmt.Sprintf("instance name %q is not unique", dup))
	}

	if c.WaitTimeout <= 0 {
		problems = append(problems, "wait_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// CheckSubnets verifies that both subnets lie inside the VPC block and do not
// overlap each other.
func CheckSubnets(vpc, public, private netip.Prefix) error {
	for _, s := range []struct {
		name  string
		block netip.Prefix
	}{{"public", public}, {"private", private}} {
		if s.block.Bits() < vpc.Bits() || !vpc.Contains(s.block.Addr()) {
			return fmt.Errorf("%s subnet %s is not within VPC %s", s.name, s.block, vpc)
		}
	}
	if public.Overlaps(private) {
		return fmt.Errorf("public subnet %s overlaps private subnet %s", public, private)
	}
	return nil
}

func parseBlock(key, cidr string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%s %q is not a CIDR block", key, cidr)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("%s %q must be IPv4", key, cidr)
	}
	if p.Masked() != p {
		return netip.Prefix{}, fmt.Errorf("%s %q has host bits set (did you mean %s?)", key, cidr, p.Masked())
	}
	if p.Bits() < minPrefixBits || p.Bits() > maxPrefixBits {
		return netip.Prefix{}, fmt.Errorf("%s %q must be between /%d and /%d", key, cidr, minPrefixBits, maxPrefixBits)
	}
	return p, nil
}

func firstDuplicate(values []string) string {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return ""
}
