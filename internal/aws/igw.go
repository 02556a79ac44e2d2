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
	ErrInternetGatewayCreate = errors.New("failed to create internet gateway")
	ErrNilInternetGatewayID  = errors.New("received no error in internet gateway create, but the internet gateway ID returned was nil")
	ErrInternetGatewayAttach = errors.New("failed to attach internet gateway to VPC")
	ErrInternetGatewayDetach = errors.New("failed to detach internet gateway")
	ErrInternetGatewayDelete = errors.New("failed to delete internet gateway")
)

// CreateInternetGateway creates a tagged, detached internet gateway
func (c *Client) CreateInternetGateway(ctx context.Context, name string) (string, error) {
	result, err := c.EC2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeInternetGateway, name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInternetGatewayCreate, err)
	}
	if result.InternetGateway == nil || result.InternetGateway.InternetGatewayId == nil {
		return "", ErrNilInternetGatewayID
	}
	return *result.InternetGateway.InternetGatewayId, nil
}

// AttachInternetGateway attaches a gateway to a VPC
func (c *Client) AttachInternetGateway(ctx context.Context, vpcID, igwID string) error {
	_, err := c.EC2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		VpcId:             aws.String(vpcID),
		InternetGatewayId: aws.String(igwID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayAttach, err)
	}
	return nil
}

// DetachInternetGateway detaches a gateway from a VPC
func (c *Client) DetachInternetGateway(ctx context.Context, vpcID, igwID string) error {
	_, err := c.EC2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
		VpcId:             aws.String(vpcID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayDetach, err)
	}
	return nil
}

// DeleteInternetGateway deletes a detached gateway
func (c *Client) DeleteInternetGateway(ctx context.Context, igwID string) error {
	_, err := c.EC2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayDelete, err)
	}
	return nil
}

// ListInternetGateways returns the gateways attached to a VPC
func (c *Client) ListInternetGateways(ctx context.Context, vpcID string) ([]pkgtypes.InternetGateway, error) {
	var gateways []pkgtypes.InternetGateway
	paginator := ec2.NewDescribeInternetGatewaysPaginator(c.EC2, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{filter("attachment.vpc-id", vpcID)},
	})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, igw := range output.InternetGateways {
			gateways = append(gateways, toInternetGateway(igw))
		}
	}
	return gateways, nil
}

// FindInternetGatewaysByName returns the gateways whose Name tag matches one of
// names, attached or not
func (c *Client) FindInternetGatewaysByName(ctx context.Context, names ...string) ([]pkgtypes.InternetGateway, error) {
	var gateways []pkgtypes.InternetGateway
	paginator := ec2.NewDescribeInternetGatewaysPaginator(c.EC2, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{nameFilter(names...)},
	})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, igw := range output.InternetGateways {
			gateways = append(gateways, toInternetGateway(igw))
		}
	}
	return gateways, nil
}

func toInternetGateway(igw ec2types.InternetGateway) pkgtypes.InternetGateway {
	gw := pkgtypes.InternetGateway{
		ID:   deref(igw.InternetGatewayId),
		Name: tagValue(igw.Tags, TagKeyName),
	}
	if len(igw.Attachments) > 0 {
		gw.VPCID = deref(igw.Attachments[0].VpcId)
		gw.State = string(igw.Attachments[0].State)
	}
	return gw
}
