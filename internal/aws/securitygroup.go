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
	ErrSecurityGroupCreate    = errors.New("failed to create security group")
	ErrNilSecurityGroupID     = errors.New("received no error in security group create, but the group ID returned was nil")
	ErrSecurityGroupAuthorize = errors.New("failed to authorize security group ingress")
	ErrSecurityGroupDelete    = errors.New("failed to delete security group")
	ErrInvalidIngressRule     = errors.New("ingress rule needs exactly one of a source CIDR or a source group")
)

// CreateSecurityGroup creates a tagged security group in a VPC
func (c *Client) CreateSecurityGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	result, err := c.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String(description),
		VpcId:             aws.String(vpcID),
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeSecurityGroup, name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSecurityGroupCreate, err)
	}
	if result.GroupId == nil {
		return "", ErrNilSecurityGroupID
	}
	return *result.GroupId, nil
}

// AuthorizeIngress adds inbound rules to a security group
func (c *Client) AuthorizeIngress(ctx context.Context, groupID string, rules []pkgtypes.IngressRule) error {
	if len(rules) == 0 {
		return nil
	}

	permissions := make([]ec2types.IpPermission, 0, len(rules))
	for _, r := range rules {
		if (r.SourceCIDR == "") == (r.SourceGroupID == "") {
			return fmt.Errorf("%w: %+v", ErrInvalidIngressRule, r)
		}

		perm := ec2types.IpPermission{
			IpProtocol: aws.String(r.Protocol),
		}
		// Ports are meaningless for "all traffic"
		if r.Protocol != pkgtypes.AllProtocols {
			perm.FromPort = aws.Int32(r.FromPort)
			perm.ToPort = aws.Int32(r.ToPort)
		}

		if r.SourceCIDR != "" {
			rng := ec2types.IpRange{CidrIp: aws.String(r.SourceCIDR)}
			if r.Description != "" {
				rng.Description = aws.String(r.Description)
			}
			perm.IpRanges = []ec2types.IpRange{rng}
		} else {
			pair := ec2types.UserIdGroupPair{GroupId: aws.String(r.SourceGroupID)}
			if r.Description != "" {
				pair.Description = aws.String(r.Description)
			}
			perm.UserIdGroupPairs = []ec2types.UserIdGroupPair{pair}
		}

		permissions = append(permissions, perm)
	}

	_, err := c.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: permissions,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityGroupAuthorize, err)
	}
	return nil
}

// FindSecurityGroups returns the groups with the given names. An empty vpcID
// searches every VPC.
func (c *Client) FindSecurityGroups(ctx context.Context, vpcID string, names ...string) ([]pkgtypes.SecurityGroup, error) {
	filters := []ec2types.Filter{filter("group-name", names...)}
	if vpcID != "" {
		filters = append(filters, vpcFilter(vpcID))
	}

	var groups []pkgtypes.SecurityGroup
	paginator := ec2.NewDescribeSecurityGroupsPaginator(c.EC2, &ec2.DescribeSecurityGroupsInput{
		Filters: filters,
	})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, sg := range output.SecurityGroups {
			groups = append(groups, toSecurityGroup(sg))
		}
	}
	return groups, nil
}

// DeleteSecurityGroup deletes a security group. Groups still referenced by
// another group's rules or attached to an instance fail with a dependency
// violation.
func (c *Client) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	_, err := c.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityGroupDelete, err)
	}
	return nil
}

func toSecurityGroup(sg ec2types.SecurityGroup) pkgtypes.SecurityGroup {
	group := pkgtypes.SecurityGroup{
		ID:          deref(sg.GroupId),
		Name:        deref(sg.GroupName),
		Description: deref(sg.Description),
		VPCID:       deref(sg.VpcId),
	}
	for _, p := range sg.IpPermissions {
		base := pkgtypes.IngressRule{
			Protocol: deref(p.IpProtocol),
			FromPort: derefInt32(p.FromPort),
			ToPort:   derefInt32(p.ToPort),
		}
		for _, r := range p.IpRanges {
			rule := base
			rule.SourceCIDR = deref(r.CidrIp)
			rule.Description = deref(r.Description)
			group.Ingress = append(group.Ingress, rule)
		}
		for _, pair := range p.UserIdGroupPairs {
			rule := base
			rule.SourceGroupID = deref(pair.GroupId)
			rule.Description = deref(pair.Description)
			group.Ingress = append(group.Ingress, rule)
		}
	}
	return group
}
