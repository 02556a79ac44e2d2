package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietdv277/netlab/internal/aws/awstest"
	pkgtypes "github.com/vietdv277/netlab/pkg/types"
)

func newTestClient(opts ...ClientOption) (*awstest.EC2, *Client) {
	fake := awstest.NewEC2()
	opts = append([]ClientOption{WithPolling(time.Millisecond, time.Second)}, opts...)
	return fake, NewFromAPI(fake, awstest.NewSTS(), opts...)
}

func TestWith_CopiesTags(t *testing.T) {
	_, base := newTestClient(WithTags(map[string]string{"team": "net"}))
	child := base.With(WithTags(map[string]string{TagKeyRunID: "run-1"}))

	assert.Len(t, base.defaultTags, 1)
	assert.Len(t, child.defaultTags, 2)
	assert.Same(t, base.EC2, child.EC2)
}

func TestTagSpecification(t *testing.T) {
	_, c := newTestClient(WithTags(map[string]string{TagKeyRunID: "run-1"}))

	specs := c.tagSpecification(ec2types.ResourceTypeVpc, "lab-vpc")
	require.Len(t, specs, 1)
	assert.Equal(t, ec2types.ResourceTypeVpc, specs[0].ResourceType)
	assert.Equal(t, "lab-vpc", tagValue(specs[0].Tags, TagKeyName))
	assert.Equal(t, "netlab", tagValue(specs[0].Tags, TagKeyProject))
	assert.Equal(t, "run-1", tagValue(specs[0].Tags, TagKeyRunID))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		dependency bool
	}{
		{"vpc not found", &smithy.GenericAPIError{Code: "InvalidVpcID.NotFound"}, true, false},
		{"group not found", &smithy.GenericAPIError{Code: "InvalidGroup.NotFound"}, true, false},
		{"dependency", &smithy.GenericAPIError{Code: CodeDependencyViolation}, false, true},
		{"wrapped", fmt.Errorf("%w: %w", ErrVPCDelete, &smithy.GenericAPIError{Code: "InvalidVpcID.NotFound"}), true, false},
		{"plain", errors.New("InvalidVpcID.NotFound"), false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.dependency, IsDependencyViolation(tt.err))
		})
	}
}

func TestVPCLifecycle(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	id, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)
	require.NoError(t, c.WaitVPCAvailable(ctx, id))

	vpc, err := c.DescribeVPC(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, vpc)
	assert.Equal(t, pkgtypes.VPC{
		ID:      id,
		Name:    "lab-vpc",
		CIDR:    "10.0.0.0/16",
		State:   "available",
		OwnerID: awstest.DefaultAccount,
	}, *vpc)

	found, err := c.FindVPCsByName(ctx, "lab-vpc")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = c.FindVPCsByName(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, c.DeleteVPC(ctx, id))

	vpc, err = c.DescribeVPC(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, vpc)

	err = c.DeleteVPC(ctx, id)
	require.ErrorIs(t, err, ErrVPCDelete)
	assert.True(t, IsNotFound(err))
}

func TestSubnets(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	vpcID, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)

	id, err := c.CreateSubnet(ctx, vpcID, "public-subnet", "10.0.1.0/24", "il-central-1a")
	require.NoError(t, err)
	require.NoError(t, c.WaitSubnetAvailable(ctx, id))

	_, err = c.CreateSubnet(ctx, vpcID, "outside", "10.1.0.0/24", "")
	require.ErrorIs(t, err, ErrSubnetCreate)

	subnets, err := c.ListSubnets(ctx, vpcID)
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	assert.Equal(t, "public-subnet", subnets[0].Name)
	assert.Equal(t, "il-central-1a", subnets[0].AZ)
	assert.Equal(t, 251, subnets[0].AvailableIPs)

	// A VPC with a subnet cannot be deleted
	err = c.DeleteVPC(ctx, vpcID)
	assert.True(t, IsDependencyViolation(err))

	require.NoError(t, c.DeleteSubnet(ctx, id))
	require.NoError(t, c.DeleteVPC(ctx, vpcID))
}

func TestInternetGateway(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	vpcID, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)
	igwID, err := c.CreateInternetGateway(ctx, "lab-igw")
	require.NoError(t, err)
	require.NoError(t, c.AttachInternetGateway(ctx, vpcID, igwID))

	gateways, err := c.ListInternetGateways(ctx, vpcID)
	require.NoError(t, err)
	assert.Equal(t, []pkgtypes.InternetGateway{{ID: igwID, Name: "lab-igw", VPCID: vpcID, State: "attached"}}, gateways)

	assert.True(t, IsDependencyViolation(c.DeleteInternetGateway(ctx, igwID)))

	require.NoError(t, c.DetachInternetGateway(ctx, vpcID, igwID))
	err = c.DetachInternetGateway(ctx, vpcID, igwID)
	assert.Equal(t, CodeGatewayNotAttached, ErrorCode(err))

	gateways, err = c.ListInternetGateways(ctx, vpcID)
	require.NoError(t, err)
	assert.Empty(t, gateways)

	// Detached gateways are still found by name
	gateways, err = c.FindInternetGatewaysByName(ctx, "lab-igw")
	require.NoError(t, err)
	assert.Equal(t, []pkgtypes.InternetGateway{{ID: igwID, Name: "lab-igw"}}, gateways)

	require.NoError(t, c.DeleteInternetGateway(ctx, igwID))
}

func TestRouteTables(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	vpcID, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)
	subnetID, err := c.CreateSubnet(ctx, vpcID, "public-subnet", "10.0.1.0/24", "")
	require.NoError(t, err)
	igwID, err := c.CreateInternetGateway(ctx, "lab-igw")
	require.NoError(t, err)
	require.NoError(t, c.AttachInternetGateway(ctx, vpcID, igwID))

	rtbID, err := c.CreateRouteTable(ctx, vpcID, "public-rt")
	require.NoError(t, err)

	err = c.CreateRoute(ctx, rtbID, pkgtypes.DefaultRouteCIDR, RouteTarget{})
	require.ErrorIs(t, err, ErrRouteTableRouteCreate)
	err = c.CreateRoute(ctx, rtbID, pkgtypes.DefaultRouteCIDR, RouteTarget{GatewayID: igwID, InstanceID: "i-1"})
	require.ErrorIs(t, err, ErrRouteTableRouteCreate)

	require.NoError(t, c.CreateRoute(ctx, rtbID, pkgtypes.DefaultRouteCIDR, RouteTarget{GatewayID: igwID}))
	assocID, err := c.AssociateRouteTable(ctx, rtbID, subnetID)
	require.NoError(t, err)
	assert.NotEmpty(t, assocID)

	tables, err := c.ListRouteTables(ctx, vpcID)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	var custom pkgtypes.RouteTable
	for _, rt := range tables {
		if !rt.Main {
			custom = rt
		}
	}
	assert.Equal(t, "public-rt", custom.Name)
	route, ok := custom.DefaultRoute()
	require.True(t, ok)
	assert.Equal(t, igwID, route.GatewayID)
	assert.Equal(t, []pkgtypes.RouteTableAssociation{{ID: assocID, SubnetID: subnetID}}, custom.Associations)

	assert.True(t, IsDependencyViolation(c.DeleteRouteTable(ctx, rtbID)))
	require.NoError(t, c.DisassociateRouteTable(ctx, assocID))
	require.NoError(t, c.DeleteRouteTable(ctx, rtbID))
}

func TestSecurityGroups(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	vpcID, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)

	bastionID, err := c.CreateSecurityGroup(ctx, vpcID, "sg-bastion", "Bastion SSH access")
	require.NoError(t, err)
	require.NoError(t, c.AuthorizeIngress(ctx, bastionID, []pkgtypes.IngressRule{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceCIDR: "0.0.0.0/0"},
	}))

	privateID, err := c.CreateSecurityGroup(ctx, vpcID, "sg-private", "Private instance SSH access")
	require.NoError(t, err)

	err = c.AuthorizeIngress(ctx, privateID, []pkgtypes.IngressRule{{Protocol: "tcp", FromPort: 22, ToPort: 22}})
	require.ErrorIs(t, err, ErrInvalidIngressRule)

	require.NoError(t, c.AuthorizeIngress(ctx, privateID, []pkgtypes.IngressRule{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceGroupID: bastionID, Description: "SSH from bastion"},
	}))

	groups, err := c.FindSecurityGroups(ctx, vpcID, "sg-private")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []pkgtypes.IngressRule{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceGroupID: bastionID, Description: "SSH from bastion"},
	}, groups[0].Ingress)

	// An empty VPC ID searches everywhere
	groups, err = c.FindSecurityGroups(ctx, "", "sg-bastion", "sg-private")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	// The bastion group is referenced by the private group
	assert.True(t, IsDependencyViolation(c.DeleteSecurityGroup(ctx, bastionID)))
	require.NoError(t, c.DeleteSecurityGroup(ctx, privateID))
	require.NoError(t, c.DeleteSecurityGroup(ctx, bastionID))
}

func TestInstances(t *testing.T) {
	ctx := t.Context()
	_, c := newTestClient()

	vpcID, err := c.CreateVPC(ctx, "lab-vpc", "10.0.0.0/16")
	require.NoError(t, err)
	subnetID, err := c.CreateSubnet(ctx, vpcID, "private-subnet", "10.0.2.0/24", "il-central-1a")
	require.NoError(t, err)
	sgID, err := c.CreateSecurityGroup(ctx, vpcID, "sg-private", "private")
	require.NoError(t, err)

	_, err = c.RunInstance(ctx, RunInstanceInput{Name: "private"})
	require.ErrorIs(t, err, ErrMissingLaunchConfig)

	id, err := c.RunInstance(ctx, RunInstanceInput{
		Name:             "private",
		ImageID:          "ami-123",
		InstanceType:     "t2.micro",
		SubnetID:         subnetID,
		SecurityGroupIDs: []string{sgID},
	})
	require.NoError(t, err)
	require.NoError(t, c.WaitInstanceState(ctx, id, InstanceStateRunning))
	require.NoError(t, c.DisableSourceDestCheck(ctx, id))

	instances, err := c.ListInstances(ctx, &ListInstanceInput{Names: []string{"private"}, States: LiveInstanceStates})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	inst := instances[0]
	assert.Equal(t, id, inst.ID)
	assert.Equal(t, "running", inst.State)
	assert.Equal(t, "10.0.2.4", inst.PrivateIP)
	assert.Empty(t, inst.PublicIP)
	assert.Equal(t, []string{sgID}, inst.SecurityGroupIDs)
	assert.Equal(t, "il-central-1a", inst.AZ)
	assert.False(t, inst.SourceDestCheck)

	// The group is in use by a live instance
	assert.True(t, IsDependencyViolation(c.DeleteSecurityGroup(ctx, sgID)))

	require.NoError(t, c.TerminateInstances(ctx, []string{id}))
	require.NoError(t, c.WaitInstanceState(ctx, id, InstanceStateTerminated))

	instances, err = c.ListInstances(ctx, &ListInstanceInput{Names: []string{"private"}, States: LiveInstanceStates})
	require.NoError(t, err)
	assert.Empty(t, instances)

	require.NoError(t, c.DeleteSecurityGroup(ctx, sgID))
	require.NoError(t, c.TerminateInstances(ctx, nil))
}

func TestWaitInstanceState_GoneCountsAsTerminated(t *testing.T) {
	_, c := newTestClient()
	assert.NoError(t, c.WaitInstanceState(t.Context(), "i-doesnotexist", InstanceStateTerminated))
}

// stuckVPCs never lets a VPC leave the pending state
type stuckVPCs struct {
	*awstest.EC2
}

func (stuckVPCs) DescribeVpcs(context.Context, *ec2.DescribeVpcsInput, ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: []ec2types.Vpc{{VpcId: aws.String("vpc-1"), State: ec2types.VpcStatePending}}}, nil
}

func TestWait_Timeout(t *testing.T) {
	c := NewFromAPI(stuckVPCs{awstest.NewEC2()}, nil, WithPolling(time.Millisecond, 20*time.Millisecond))

	err := c.WaitVPCAvailable(t.Context(), "vpc-1")
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Contains(t, err.Error(), `vpc vpc-1 is "pending"`)
}

func TestWait_Cancelled(t *testing.T) {
	c := NewFromAPI(stuckVPCs{awstest.NewEC2()}, nil, WithPolling(time.Millisecond, time.Minute))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := c.WaitVPCAvailable(ctx, "vpc-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWaitTimeout)
}

func TestGetCallerIdentity(t *testing.T) {
	_, c := newTestClient()

	identity, err := c.GetCallerIdentity(t.Context())
	require.NoError(t, err)
	assert.Equal(t, awstest.DefaultAccount, identity.Account)

	_, err = NewFromAPI(awstest.NewEC2(), nil).GetCallerIdentity(t.Context())
	assert.ErrorIs(t, err, ErrNoIdentityClient)
}
