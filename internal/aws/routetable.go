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
	ErrRouteTableCreate       = errors.New("failed to create route table")
	ErrNilRouteTableID        = errors.New("received no error in route table create, but the route table ID returned was nil")
	ErrRouteTableRouteCreate  = errors.New("failed to add route to route table")
	ErrRouteTableAssociate    = errors.New("failed to associate route table with subnet")
	ErrRouteTableDisassociate = errors.New("failed to disassociate route table")
	ErrRouteTableDelete       = errors.New("failed to delete route table")
)

// RouteTarget is the next hop of a route. Exactly one field must be set.
type RouteTarget struct {
	GatewayID  string
	InstanceID string
}

// CreateRouteTable creates a tagged route table in a VPC
func (c *Client) CreateRouteTable(ctx context.Context, vpcID, name string) (string, error) {
	result, err := c.EC2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(vpcID),
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeRouteTable, name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouteTableCreate, err)
	}
	if result.RouteTable == nil || result.RouteTable.RouteTableId == nil {
		return "", ErrNilRouteTableID
	}
	return *result.RouteTable.RouteTableId, nil
}

// CreateRoute adds a route for destCIDR through target
func (c *Client) CreateRoute(ctx context.Context, rtbID, destCIDR string, target RouteTarget) error {
	if (target.GatewayID == "") == (target.InstanceID == "") {
		return fmt.Errorf("%w: exactly one route target is required", ErrRouteTableRouteCreate)
	}

	input := &ec2.CreateRouteInput{
		RouteTableId:         aws.String(rtbID),
		DestinationCidrBlock: aws.String(destCIDR),
	}
	if target.GatewayID != "" {
		input.GatewayId = aws.String(target.GatewayID)
	} else {
		input.InstanceId = aws.String(target.InstanceID)
	}

	result, err := c.EC2.CreateRoute(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteTableRouteCreate, err)
	}
	if result.Return == nil || !*result.Return {
		return ErrRouteTableRouteCreate
	}
	return nil
}

// AssociateRouteTable binds a route table to a subnet and returns the
// association ID
func (c *Client) AssociateRouteTable(ctx context.Context, rtbID, subnetID string) (string, error) {
	result, err := c.EC2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(rtbID),
		SubnetId:     aws.String(subnetID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouteTableAssociate, err)
	}
	return deref(result.AssociationId), nil
}

// DisassociateRouteTable removes a subnet association
func (c *Client) DisassociateRouteTable(ctx context.Context, associationID string) error {
	_, err := c.EC2.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
		AssociationId: aws.String(associationID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteTableDisassociate, err)
	}
	return nil
}

// DeleteRouteTable deletes a route table with no subnet associations
func (c *Client) DeleteRouteTable(ctx context.Context, rtbID string) error {
	_, err := c.EC2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{
		RouteTableId: aws.String(rtbID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteTableDelete, err)
	}
	return nil
}

// ListRouteTables returns every route table in a VPC, including the main one.
// An empty vpcID lists the route tables of every VPC.
func (c *Client) ListRouteTables(ctx context.Context, vpcID string) ([]pkgtypes.RouteTable, error) {
	input := &ec2.DescribeRouteTablesInput{}
	if vpcID != "" {
		input.Filters = []ec2types.Filter{vpcFilter(vpcID)}
	}

	var tables []pkgtypes.RouteTable
	paginator := ec2.NewDescribeRouteTablesPaginator(c.EC2, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, rt := range output.RouteTables {
			tables = append(tables, toRouteTable(rt))
		}
	}
	return tables, nil
}

func toRouteTable(rt ec2types.RouteTable) pkgtypes.RouteTable {
	table := pkgtypes.RouteTable{
		ID:    deref(rt.RouteTableId),
		Name:  tagValue(rt.Tags, TagKeyName),
		VPCID: deref(rt.VpcId),
	}
	for _, r := range rt.Routes {
		table.Routes = append(table.Routes, pkgtypes.Route{
			DestinationCIDR: deref(r.DestinationCidrBlock),
			GatewayID:       deref(r.GatewayId),
			InstanceID:      deref(r.InstanceId),
		})
	}
	for _, a := range rt.Associations {
		main := derefBool(a.Main)
		if main {
			table.Main = true
		}
		table.Associations = append(table.Associations, pkgtypes.RouteTableAssociation{
			ID:       deref(a.RouteTableAssociationId),
			SubnetID: deref(a.SubnetId),
			Main:     main,
		})
	}
	return table
}
