package topology

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/pkg/types"
)

const sshPort = 22

// Create provisions the lab topology in dependency order, waiting for each
// resource to become ready before anything references it. The first failure
// aborts the run; resources created so far are left in place for Teardown.
func Create(ctx context.Context, client *aws.Client, cfg *config.Config) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	existing, err := client.FindVPCsByName(ctx, cfg.VPCName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up VPC %s: %w", cfg.VPCName, err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: VPC %s (%s)", ErrTopologyExists, cfg.VPCName, existing[0].ID)
	}

	topo := &Topology{RunID: uuid.NewString()}
	client = withPolling(client, cfg).With(aws.WithTags(map[string]string{aws.TagKeyRunID: topo.RunID}))
	ctx = log.With(ctx, "run", topo.RunID)

	steps := []struct {
		name string
		run  func(context.Context, *aws.Client, *config.Config, *Topology) error
	}{
		{"vpc", createVPC},
		{"subnets", createSubnets},
		{"internet gateway", createInternetGateway},
		{"security groups", createSecurityGroups},
		{"instances", launchInstances},
		{"route tables", createRouteTables},
	}
	for _, step := range steps {
		if err := step.run(ctx, client, cfg, topo); err != nil {
			log.Error(ctx, "Creation aborted", "step", step.name, "error", err)
			return topo, err
		}
	}

	log.Success(ctx, "Topology created", "vpc", topo.VPCID,
		"instances", topo.InstanceIDs(), "security_groups", topo.SecurityGroupIDs())
	return topo, nil
}

func createVPC(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	log.Info(ctx, "Creating VPC...", "name", cfg.VPCName, "cidr", cfg.VPCCIDR)
	id, err := client.CreateVPC(ctx, cfg.VPCName, cfg.VPCCIDR)
	if err != nil {
		return err
	}
	topo.VPCID = id

	if err := client.WaitVPCAvailable(ctx, id); err != nil {
		return err
	}
	log.Success(ctx, "VPC created", "id", id)
	return nil
}

func createSubnets(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	subnets := []struct {
		kind string
		name string
		cidr string
		id   *string
	}{
		{"public", cfg.PublicSubnetName, cfg.PublicSubnetCIDR, &topo.PublicSubnetID},
		{"private", cfg.PrivateSubnetName, cfg.PrivateSubnetCIDR, &topo.PrivateSubnetID},
	}

	for _, s := range subnets {
		log.Info(ctx, "Creating "+s.kind+" subnet...", "name", s.name, "cidr", s.cidr, "zone", cfg.Zone())
		id, err := client.CreateSubnet(ctx, topo.VPCID, s.name, s.cidr, cfg.Zone())
		if err != nil {
			return err
		}
		*s.id = id

		if err := client.WaitSubnetAvailable(ctx, id); err != nil {
			return err
		}
		log.Success(ctx, "Subnet created", "name", s.name, "id", id)
	}
	return nil
}

func createInternetGateway(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	log.Info(ctx, "Creating internet gateway...")
	id, err := client.CreateInternetGateway(ctx, gatewayName(cfg))
	if err != nil {
		return err
	}
	topo.InternetGatewayID = id

	if err := client.AttachInternetGateway(ctx, topo.VPCID, id); err != nil {
		return err
	}
	log.Success(ctx, "Internet gateway attached", "id", id, "vpc", topo.VPCID)
	return nil
}

// BastionIngress allows SSH from the configured source range
func BastionIngress(cfg *config.Config) []types.IngressRule {
	return []types.IngressRule{{
		Protocol:    "tcp",
		FromPort:    sshPort,
		ToPort:      sshPort,
		SourceCIDR:  cfg.SSHIngressCIDR,
		Description: "SSH",
	}}
}

// NATIngress allows all traffic from inside the VPC
func NATIngress(cfg *config.Config) []types.IngressRule {
	return []types.IngressRule{{
		Protocol:    types.AllProtocols,
		SourceCIDR:  cfg.VPCCIDR,
		Description: "VPC traffic",
	}}
}

// PrivateIngress allows SSH from members of the bastion group only
func PrivateIngress(bastionGroupID string) []types.IngressRule {
	return []types.IngressRule{{
		Protocol:      "tcp",
		FromPort:      sshPort,
		ToPort:        sshPort,
		SourceGroupID: bastionGroupID,
		Description:   "SSH from bastion",
	}}
}

func createSecurityGroups(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	// The private group references the bastion group, so order matters
	groups := []struct {
		name        string
		description string
		rules       func() []types.IngressRule
		id          *string
	}{
		{cfg.BastionSecurityGroup, "Bastion SSH access", func() []types.IngressRule { return BastionIngress(cfg) }, &topo.BastionSecurityGroupID},
		{cfg.NATSecurityGroup, "NAT traffic", func() []types.IngressRule { return NATIngress(cfg) }, &topo.NATSecurityGroupID},
		{cfg.PrivateSecurityGroup, "Private instance SSH access", func() []types.IngressRule { return PrivateIngress(topo.BastionSecurityGroupID) }, &topo.PrivateSecurityGroupID},
	}

	for _, g := range groups {
		log.Info(ctx, "Creating security group...", "name", g.name)
		id, err := client.CreateSecurityGroup(ctx, topo.VPCID, g.name, g.description)
		if err != nil {
			return err
		}
		*g.id = id

		if err := client.AuthorizeIngress(ctx, id, g.rules()); err != nil {
			return err
		}
		log.Success(ctx, "Security group created", "name", g.name, "id", id)
	}
	return nil
}

func launchInstances(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	instances := []struct {
		name     string
		subnetID string
		groupID  string
		publicIP bool
		id       *string
	}{
		{cfg.BastionInstanceName, topo.PublicSubnetID, topo.BastionSecurityGroupID, true, &topo.BastionInstanceID},
		{cfg.NATInstanceName, topo.PublicSubnetID, topo.NATSecurityGroupID, true, &topo.NATInstanceID},
		{cfg.PrivateInstanceName, topo.PrivateSubnetID, topo.PrivateSecurityGroupID, false, &topo.PrivateInstanceID},
	}

	for _, inst := range instances {
		log.Info(ctx, "Launching instance...", "name", inst.name)
		id, err := client.RunInstance(ctx, aws.RunInstanceInput{
			Name:             inst.name,
			ImageID:          cfg.AMIID,
			InstanceType:     cfg.InstanceType,
			KeyName:          cfg.KeyName,
			SubnetID:         inst.subnetID,
			SecurityGroupIDs: []string{inst.groupID},
			PublicIP:         inst.publicIP,
		})
		if err != nil {
			return err
		}
		*inst.id = id

		if err := client.WaitInstanceState(ctx, id, aws.InstanceStateRunning); err != nil {
			return err
		}
		log.Success(ctx, "Instance running", "name", inst.name, "id", id)
	}

	if err := client.DisableSourceDestCheck(ctx, topo.NATInstanceID); err != nil {
		return err
	}
	log.Success(ctx, "Source/destination check disabled", "instance", topo.NATInstanceID)
	return nil
}

func createRouteTables(ctx context.Context, client *aws.Client, cfg *config.Config, topo *Topology) error {
	tables := []struct {
		name     string
		subnetID string
		target   aws.RouteTarget
		id       *string
	}{
		{cfg.PublicSubnetName + "-rt", topo.PublicSubnetID, aws.RouteTarget{GatewayID: topo.InternetGatewayID}, &topo.PublicRouteTableID},
		{cfg.PrivateSubnetName + "-rt", topo.PrivateSubnetID, aws.RouteTarget{InstanceID: topo.NATInstanceID}, &topo.PrivateRouteTableID},
	}

	for _, rt := range tables {
		log.Info(ctx, "Creating route table...", "subnet", rt.subnetID)
		id, err := client.CreateRouteTable(ctx, topo.VPCID, rt.name)
		if err != nil {
			return err
		}
		*rt.id = id

		if err := client.CreateRoute(ctx, id, types.DefaultRouteCIDR, rt.target); err != nil {
			return err
		}
		if _, err := client.AssociateRouteTable(ctx, id, rt.subnetID); err != nil {
			return err
		}
		log.Success(ctx, "Route table associated", "id", id, "subnet", rt.subnetID)
	}
	return nil
}
