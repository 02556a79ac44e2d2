package topology

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/aws/awstest"
	"github.com/vietdv277/netlab/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PollInterval = time.Millisecond
	cfg.WaitTimeout = 2 * time.Second
	return cfg
}

func newTestClient() (*awstest.EC2, *awstest.STS, *aws.Client) {
	fake := awstest.NewEC2()
	identity := awstest.NewSTS()
	return fake, identity, aws.NewFromAPI(fake, identity)
}

// callIndex returns the position of the first call starting with prefix, or -1
func callIndex(calls []string, prefix string) int {
	return slices.IndexFunc(calls, func(c string) bool { return strings.HasPrefix(c, prefix) })
}

func lastCallIndex(calls []string, prefix string) int {
	for i := len(calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(calls[i], prefix) {
			return i
		}
	}
	return -1
}

func TestCreate_DefaultTopology(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	assert.Equal(t, awstest.Counts{
		VPCs:             1,
		Subnets:          2,
		InternetGateways: 1,
		AttachedGateways: 1,
		RouteTables:      2,
		SecurityGroups:   3,
		Instances:        3,
	}, fake.Counts())

	assert.NotEmpty(t, topo.RunID)
	for _, id := range append(topo.InstanceIDs(), topo.SecurityGroupIDs()...) {
		assert.NotEmpty(t, id)
	}

	gateways, err := client.ListInternetGateways(t.Context(), topo.VPCID)
	require.NoError(t, err)
	require.Len(t, gateways, 1)
	assert.Equal(t, topo.InternetGatewayID, gateways[0].ID)
}

func TestCreate_RouteTables(t *testing.T) {
	_, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	tables, err := client.ListRouteTables(t.Context(), topo.VPCID)
	require.NoError(t, err)

	targets := map[string]string{}
	for _, rt := range tables {
		if rt.Main {
			continue
		}
		require.Len(t, rt.Associations, 1, "route table %s", rt.ID)

		route, ok := rt.DefaultRoute()
		require.True(t, ok, "route table %s has no default route", rt.ID)
		assert.True(t, (route.GatewayID == "") != (route.InstanceID == ""), "exactly one target")
		targets[rt.Associations[0].SubnetID] = route.GatewayID + route.InstanceID
	}

	assert.Equal(t, map[string]string{
		topo.PublicSubnetID:  topo.InternetGatewayID,
		topo.PrivateSubnetID: topo.NATInstanceID,
	}, targets)
}

func TestCreate_PrivateGroupOnlyTrustsBastion(t *testing.T) {
	_, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	groups, err := client.FindSecurityGroups(t.Context(), topo.VPCID, cfg.PrivateSecurityGroup)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	for _, rule := range groups[0].Ingress {
		assert.Empty(t, rule.SourceCIDR, "private group must not allow a CIDR source")
		assert.Equal(t, topo.BastionSecurityGroupID, rule.SourceGroupID)
	}
	require.Len(t, groups[0].Ingress, 1)
	assert.Equal(t, int32(22), groups[0].Ingress[0].FromPort)
}

func TestPrivateIngress(t *testing.T) {
	rules := PrivateIngress("sg-bastion-id")
	require.Len(t, rules, 1)
	assert.Equal(t, "sg-bastion-id", rules[0].SourceGroupID)
	assert.Empty(t, rules[0].SourceCIDR)
}

func TestCreate_Instances(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	tests := []struct {
		id       string
		subnet   string
		group    string
		publicIP bool
	}{
		{topo.BastionInstanceID, topo.PublicSubnetID, topo.BastionSecurityGroupID, true},
		{topo.NATInstanceID, topo.PublicSubnetID, topo.NATSecurityGroupID, true},
		{topo.PrivateInstanceID, topo.PrivateSubnetID, topo.PrivateSecurityGroupID, false},
	}
	for _, tt := range tests {
		inst, ok := fake.Instance(tt.id)
		require.True(t, ok)
		assert.Equal(t, tt.subnet, *inst.SubnetId)
		require.Len(t, inst.SecurityGroups, 1)
		assert.Equal(t, tt.group, *inst.SecurityGroups[0].GroupId)
		assert.Equal(t, tt.publicIP, inst.PublicIpAddress != nil, "instance %s public IP", tt.id)
		assert.Equal(t, cfg.AMIID, *inst.ImageId)
		assert.Equal(t, cfg.KeyName, *inst.KeyName)

		var runID string
		for _, tag := range inst.Tags {
			if *tag.Key == aws.TagKeyRunID {
				runID = *tag.Value
			}
		}
		assert.Equal(t, topo.RunID, runID)
	}

	nat, _ := fake.Instance(topo.NATInstanceID)
	assert.False(t, *nat.SourceDestCheck, "NAT instance must forward traffic")
	bastion, _ := fake.Instance(topo.BastionInstanceID)
	assert.True(t, *bastion.SourceDestCheck)
}

func TestCreate_ExistingTopology(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	fake.AddVPC(cfg.VPCName, cfg.VPCCIDR)

	_, err := Create(t.Context(), client, cfg)
	require.ErrorIs(t, err, ErrTopologyExists)
	assert.Empty(t, fake.Calls(), "no resources may be created")
}

func TestCreate_InvalidConfig(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	cfg.PrivateSubnetCIDR = cfg.PublicSubnetCIDR

	_, err := Create(t.Context(), client, cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Empty(t, fake.Calls())
}

func TestCreate_AbortsWithoutRollback(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	fake.Fail("RunInstances", &smithy.GenericAPIError{Code: "InstanceLimitExceeded", Message: "limit"})

	topo, err := Create(t.Context(), client, cfg)
	require.ErrorIs(t, err, aws.ErrInstanceCreate)
	assert.Equal(t, "InstanceLimitExceeded", aws.ErrorCode(err))

	// Everything before the failing step stays in place
	require.NotNil(t, topo)
	assert.NotEmpty(t, topo.PrivateSecurityGroupID)
	assert.Empty(t, topo.BastionInstanceID)
	counts := fake.Counts()
	assert.Equal(t, 1, counts.VPCs)
	assert.Equal(t, 3, counts.SecurityGroups)
	assert.Zero(t, counts.Instances)
	assert.Zero(t, counts.RouteTables)
}

func TestTeardown_RemovesEverything(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	report, err := Teardown(t.Context(), client, cfg)
	require.NoError(t, err)

	assert.Equal(t, awstest.Counts{}, fake.Counts())
	assert.Equal(t, &TeardownReport{
		InstancesTerminated:     3,
		SecurityGroupsDeleted:   3,
		RouteTablesDeleted:      2,
		SubnetsDeleted:          2,
		InternetGatewaysDeleted: 1,
		VPCsDeleted:             1,
	}, report)
	assert.Equal(t, 12, report.Deleted())

	calls := fake.Calls()
	// Security groups go in reverse creation order
	assert.Less(t, callIndex(calls, "DeleteSecurityGroup "+topo.PrivateSecurityGroupID), callIndex(calls, "DeleteSecurityGroup "+topo.NATSecurityGroupID))
	assert.Less(t, callIndex(calls, "DeleteSecurityGroup "+topo.NATSecurityGroupID), callIndex(calls, "DeleteSecurityGroup "+topo.BastionSecurityGroupID))
	assert.Less(t, callIndex(calls, "TerminateInstances"), callIndex(calls, "DeleteSecurityGroup"))
	assert.Less(t, callIndex(calls, "DeleteRouteTable"), callIndex(calls, "DeleteVpc"))
}

func TestTeardown_Idempotent(t *testing.T) {
	_, _, client := newTestClient()
	cfg := testConfig()

	_, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	_, err = Teardown(t.Context(), client, cfg)
	require.NoError(t, err)

	report, err := Teardown(t.Context(), client, cfg)
	require.NoError(t, err, "second teardown must be a no-op")
	assert.Zero(t, report.Deleted())
	assert.Contains(t, report.Misses, "vpc/"+cfg.VPCName)
	assert.Contains(t, report.Misses, "security-group/"+cfg.BastionSecurityGroup)
	assert.Contains(t, report.Misses, "instance/"+cfg.NATInstanceName)
}

func TestTeardown_EmptyAccount(t *testing.T) {
	fake, _, client := newTestClient()

	report, err := Teardown(t.Context(), client, testConfig())
	require.NoError(t, err)
	assert.Zero(t, report.Deleted())
	assert.Len(t, report.Misses, 7) // 3 instances, 3 groups, 1 VPC
	assert.Empty(t, fake.Calls())
}

func TestTeardown_DetachesGatewayBeforeVPCDelete(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	ctx := t.Context()

	vpcID := fake.AddVPC(cfg.VPCName, cfg.VPCCIDR)
	_, err := client.CreateSubnet(ctx, vpcID, cfg.PublicSubnetName, cfg.PublicSubnetCIDR, "")
	require.NoError(t, err)
	igwID, err := client.CreateInternetGateway(ctx, "igw")
	require.NoError(t, err)
	require.NoError(t, client.AttachInternetGateway(ctx, vpcID, igwID))

	// Deleting the VPC directly fails while the gateway is attached
	require.True(t, aws.IsDependencyViolation(client.DeleteVPC(ctx, vpcID)))

	_, err = Teardown(ctx, client, cfg)
	require.NoError(t, err)

	calls := fake.Calls()
	detach := callIndex(calls, "DetachInternetGateway "+igwID)
	require.GreaterOrEqual(t, detach, 0)
	assert.Less(t, detach, callIndex(calls, "DeleteInternetGateway "+igwID))
	// The first DeleteVpc above was rejected; the last one is teardown's
	assert.Less(t, detach, lastCallIndex(calls, "DeleteVpc "+vpcID))
	assert.Equal(t, awstest.Counts{}, fake.Counts())
}

func TestTeardown_AfterPartialCreate(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	fake.Fail("CreateRoute", &smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "boom"})

	_, err := Create(t.Context(), client, cfg)
	require.ErrorIs(t, err, aws.ErrRouteTableRouteCreate)
	fake.Fail("CreateRoute", nil)

	report, err := Teardown(t.Context(), client, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RouteTablesDeleted)
	assert.Equal(t, awstest.Counts{}, fake.Counts())
}

func TestTeardown_AfterFailedAttach(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()
	fake.Fail("AttachInternetGateway", &smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "boom"})

	topo, err := Create(t.Context(), client, cfg)
	require.ErrorIs(t, err, aws.ErrInternetGatewayAttach)
	require.NotEmpty(t, topo.InternetGatewayID)
	fake.Fail("AttachInternetGateway", nil)
	require.Equal(t, 1, fake.Counts().InternetGateways)

	report, err := Teardown(t.Context(), client, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InternetGatewaysDeleted)
	assert.Equal(t, 1, report.VPCsDeleted)
	assert.Equal(t, awstest.Counts{}, fake.Counts())
	assert.NotContains(t, fake.Calls(), "DetachInternetGateway "+topo.InternetGatewayID)

	// Nothing is left for a second run to find
	report, err = Teardown(t.Context(), client, cfg)
	require.NoError(t, err)
	assert.Zero(t, report.Deleted())
}

func TestTeardown_ContinuesPastErrors(t *testing.T) {
	fake, _, client := newTestClient()
	cfg := testConfig()

	_, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	fake.Fail("DeleteSubnet", &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "denied"})

	report, err := Teardown(t.Context(), client, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, aws.ErrSubnetDelete)
	assert.ErrorIs(t, err, aws.ErrVPCDelete, "VPC delete is still attempted and fails on its subnets")

	// Work not blocked by the subnets still happened
	assert.Equal(t, 3, report.InstancesTerminated)
	assert.Equal(t, 3, report.SecurityGroupsDeleted)
	assert.Equal(t, 1, report.InternetGatewaysDeleted)
	assert.Zero(t, report.VPCsDeleted)
	assert.Equal(t, 2, fake.Counts().Subnets)
}

func TestTeardown_LookupFailureIsError(t *testing.T) {
	fake, _, client := newTestClient()
	fake.Fail("DescribeInstances", errors.New("connection reset"))

	_, err := Teardown(t.Context(), client, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestProbe_AfterCreate(t *testing.T) {
	_, _, client := newTestClient()
	cfg := testConfig()

	topo, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	report := Probe(t.Context(), client)
	require.True(t, report.OK(), "probe errors: %v", report.Err())

	require.NotNil(t, report.Identity)
	assert.Equal(t, awstest.DefaultAccount, report.Identity.Account)

	require.Len(t, report.VPCs, 1)
	assert.Equal(t, cfg.VPCCIDR, report.VPCs[0].CIDR)
	assert.Equal(t, cfg.VPCName, report.VPCs[0].Name)

	require.Len(t, report.Subnets, 2)
	byCIDR := map[string]bool{}
	for _, s := range report.Subnets {
		byCIDR[s.CIDR] = s.Public
		assert.Equal(t, cfg.Zone(), s.AZ)
		assert.Equal(t, topo.VPCID, s.VPCID)
	}
	assert.Equal(t, map[string]bool{
		cfg.PublicSubnetCIDR:  true,
		cfg.PrivateSubnetCIDR: false,
	}, byCIDR)

	assert.Len(t, report.Instances, 3)
}

func TestProbe_EmptyAccount(t *testing.T) {
	fake, _, client := newTestClient()

	report := Probe(t.Context(), client)
	assert.True(t, report.OK())
	assert.Empty(t, report.VPCs)
	assert.Empty(t, report.Subnets)
	assert.Empty(t, report.Instances)
	assert.Empty(t, fake.Calls(), "probe must not mutate")
}

func TestProbe_RecordsErrorsAndContinues(t *testing.T) {
	fake, identity, client := newTestClient()
	cfg := testConfig()

	_, err := Create(t.Context(), client, cfg)
	require.NoError(t, err)

	denied := &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "denied"}
	fake.Fail("DescribeSubnets", denied)
	identity.Err = errors.New("expired token")

	report := Probe(t.Context(), client)
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Errors[SectionSubnets], denied)
	assert.EqualError(t, report.Errors[SectionIdentity], "expired token")
	assert.Nil(t, report.Identity)
	assert.Empty(t, report.Subnets)

	// Other sections are unaffected
	assert.Len(t, report.VPCs, 1)
	assert.Len(t, report.Instances, 3)
}

func TestProbe_WithoutIdentityClient(t *testing.T) {
	client := aws.NewFromAPI(awstest.NewEC2(), nil)

	report := Probe(t.Context(), client)
	assert.True(t, report.OK())
	assert.Nil(t, report.Identity)
}
