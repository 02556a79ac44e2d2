package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	pkgtypes "github.com/vietdv277/netlab/pkg/types"
)

var (
	ErrVPCCreate = errors.New("failed VPC creation")
	ErrNilVPCID  = errors.New("received no error in VPC create, but the VPC ID returned was nil")
	ErrVPCDelete = errors.New("failed to delete VPC")
)

// ListVPCs returns all VPCs
func (c *Client) ListVPCs(ctx context.Context) ([]pkgtypes.VPC, error) {
	return c.describeVPCs(ctx, &ec2.DescribeVpcsInput{})
}

// FindVPCsByName returns the VPCs whose Name tag matches name
func (c *Client) FindVPCsByName(ctx context.Context, name string) ([]pkgtypes.VPC, error) {
	return c.describeVPCs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{nameFilter(name)},
	})
}

// DescribeVPC returns detailed information about a specific VPC, or nil when
// it does not exist
func (c *Client) DescribeVPC(ctx context.Context, vpcID string) (*pkgtypes.VPC, error) {
	vpcs, err := c.describeVPCs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{vpcID},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(vpcs) == 0 {
		return nil, nil
	}

	return &vpcs[0], nil
}

func (c *Client) describeVPCs(ctx context.Context, input *ec2.DescribeVpcsInput) ([]pkgtypes.VPC, error) {
	var vpcs []pkgtypes.VPC
	paginator := ec2.NewDescribeVpcsPaginator(c.EC2, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range output.Vpcs {
			vpcs = append(vpcs, toVPC(v))
		}
	}
	return vpcs, nil
}

// CreateVPC creates a tagged VPC and returns its ID
func (c *Client) CreateVPC(ctx context.Context, name, cidr string) (string, error) {
	result, err := c.EC2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(cidr),
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeVpc, name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVPCCreate, err)
	}
	if result.Vpc == nil || result.Vpc.VpcId == nil {
		return "", ErrNilVPCID
	}
	return *result.Vpc.VpcId, nil
}

// WaitVPCAvailable blocks until the VPC reports the "available" state
func (c *Client) WaitVPCAvailable(ctx context.Context, vpcID string) error {
	return c.waitFor(ctx, "vpc", vpcID, string(ec2types.VpcStateAvailable), func(ctx context.Context) (string, error) {
		vpc, err := c.DescribeVPC(ctx, vpcID)
		if err != nil || vpc == nil {
			return "", err
		}
		return vpc.State, nil
	})
}

// DeleteVPC deletes a VPC. Subnets, attached gateways, non-main route tables
// and non-default security groups must already be gone.
func (c *Client) DeleteVPC(ctx context.Context, vpcID string) error {
	_, err := c.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: aws.String(vpcID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVPCDelete, err)
	}
	return nil
}

var (
	ErrSubnetCreate = errors.New("failed to create subnet")
	ErrNilSubnetID  = errors.New("received no error in subnet create, but the subnet ID returned was nil")
	ErrSubnetDelete = errors.New("failed to delete subnet")
)

// ListSubnets returns all subnets, optionally filtered by VPC ID
func (c *Client) ListSubnets(ctx context.Context, vpcID string) ([]pkgtypes.Subnet, error) {
	input := &ec2.DescribeSubnetsInput{}

	if vpcID != "" {
		input.Filters = []ec2types.Filter{vpcFilter(vpcID)}
	}

	var subnets []pkgtypes.Subnet
	paginator := ec2.NewDescribeSubnetsPaginator(c.EC2, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range output.Subnets {
			subnets = append(subnets, toSubnet(s))
		}
	}

	return subnets, nil
}

// CreateSubnet creates a tagged subnet in the given availability zone
func (c *Client) CreateSubnet(ctx context.Context, vpcID, name, cidr, zone string) (string, error) {
	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(vpcID),
		CidrBlock:         aws.String(cidr),
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeSubnet, name),
	}

	// Only set AvailabilityZone if provided
	if zone != "" {
		input.AvailabilityZone = aws.String(zone)
	}

	result, err := c.EC2.CreateSubnet(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetCreate, err)
	}
	if result.Subnet == nil || result.Subnet.SubnetId == nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetCreate, ErrNilSubnetID)
	}
	return *result.Subnet.SubnetId, nil
}

// WaitSubnetAvailable blocks until the subnet reports the "available" state
func (c *Client) WaitSubnetAvailable(ctx context.Context, subnetID string) error {
	return c.waitFor(ctx, "subnet", subnetID, string(ec2types.SubnetStateAvailable), func(ctx context.Context) (string, error) {
		output, err := c.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{subnetID}})
		if err != nil {
			return "", err
		}
		if len(output.Subnets) == 0 {
			return "", nil
		}
		return string(output.Subnets[0].State), nil
	})
}

// DeleteSubnet deletes a subnet
func (c *Client) DeleteSubnet(ctx context.Context, subnetID string) error {
	_, err := c.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: aws.String(subnetID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubnetDelete, err)
	}
	return nil
}

// toVPC converts an EC2 VPC to our VPC type
func toVPC(v ec2types.Vpc) pkgtypes.VPC {
	return pkgtypes.VPC{
		ID:        deref(v.VpcId),
		Name:      tagValue(v.Tags, TagKeyName),
		CIDR:      deref(v.CidrBlock),
		State:     string(v.State),
		IsDefault: derefBool(v.IsDefault),
		OwnerID:   deref(v.OwnerId),
	}
}

// toSubnet converts an EC2 Subnet to our Subnet type
func toSubnet(s ec2types.Subnet) pkgtypes.Subnet {
	return pkgtypes.Subnet{
		ID:           deref(s.SubnetId),
		Name:         tagValue(s.Tags, TagKeyName),
		VPCID:        deref(s.VpcId),
		CIDR:         deref(s.CidrBlock),
		AZ:           deref(s.AvailabilityZone),
		AvailableIPs: int(derefInt32(s.AvailableIpAddressCount)),
		State:        string(s.State),
	}
}
