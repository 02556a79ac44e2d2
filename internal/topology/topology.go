// Package topology provisions, tears down and inspects the lab network: a
// VPC with a public and a private subnet, an internet gateway, a bastion, a
// NAT instance and a private host.
//
// Create threads resource IDs from one step to the next. Teardown never uses
// them: it resolves everything by Name tag or group name, so it works after a
// crashed or partial creation run and is safe to repeat.
package topology

import (
	"errors"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/config"
)

// ErrTopologyExists is returned by Create when a VPC with the configured name
// is already present
var ErrTopologyExists = errors.New("topology already exists, run teardown first")

// Topology holds the IDs of every resource Create provisioned
type Topology struct {
	RunID string

	VPCID             string
	PublicSubnetID    string
	PrivateSubnetID   string
	InternetGatewayID string

	BastionSecurityGroupID string
	NATSecurityGroupID     string
	PrivateSecurityGroupID string

	BastionInstanceID string
	NATInstanceID     string
	PrivateInstanceID string

	PublicRouteTableID  string
	PrivateRouteTableID string
}

// InstanceIDs returns the instance IDs in launch order
func (t *Topology) InstanceIDs() []string {
	return []string{t.BastionInstanceID, t.NATInstanceID, t.PrivateInstanceID}
}

// SecurityGroupIDs returns the security group IDs in creation order
func (t *Topology) SecurityGroupIDs() []string {
	return []string{t.BastionSecurityGroupID, t.NATSecurityGroupID, t.PrivateSecurityGroupID}
}

// gatewayName is the Name tag of the lab's internet gateway
func gatewayName(cfg *config.Config) string {
	return cfg.VPCName + "-igw"
}

// withPolling applies the configured wait settings to the client
func withPolling(client *aws.Client, cfg *config.Config) *aws.Client {
	return client.With(aws.WithPolling(cfg.PollInterval, cfg.WaitTimeout))
}
