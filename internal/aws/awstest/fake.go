// Package awstest provides an in-memory stand-in for the EC2 and STS APIs.
//
// The fake models the parts of AWS that matter for provisioning order:
// resources must exist before they are referenced, and deletes fail with
// DependencyViolation while something still depends on the target. Pending
// VPCs, subnets and instances become available or running the first time
// they are described.
package awstest

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// DefaultAccount is the account ID reported by the fake STS client
const DefaultAccount = "123456789012"

// EC2 is an in-memory EC2 API. The zero value is not usable; call NewEC2.
type EC2 struct {
	mu  sync.Mutex
	seq int

	vpcs        map[string]*ec2types.Vpc
	subnets     map[string]*ec2types.Subnet
	gateways    map[string]*ec2types.InternetGateway
	routeTables map[string]*ec2types.RouteTable
	groups      map[string]*ec2types.SecurityGroup
	instances   map[string]*ec2types.Instance

	ipOffsets map[string]int // next private address offset per subnet
	failures  map[string]error
	calls     []string
}

// NewEC2 returns an empty fake
func NewEC2() *EC2 {
	return &EC2{
		vpcs:        make(map[string]*ec2types.Vpc),
		subnets:     make(map[string]*ec2types.Subnet),
		gateways:    make(map[string]*ec2types.InternetGateway),
		routeTables: make(map[string]*ec2types.RouteTable),
		groups:      make(map[string]*ec2types.SecurityGroup),
		instances:   make(map[string]*ec2types.Instance),
		ipOffsets:   make(map[string]int),
		failures:    make(map[string]error),
	}
}

// Fail makes every later call to op (e.g. "DeleteVpc") return err.
// A nil err clears the failure.
func (f *EC2) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns the mutating calls made so far, as "Op id" strings
func (f *EC2) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Counts is a snapshot of the live resources held by the fake. Main route
// tables, default security groups and terminated instances are not counted.
type Counts struct {
	VPCs             int
	Subnets          int
	InternetGateways int
	AttachedGateways int
	RouteTables      int
	SecurityGroups   int
	Instances        int
}

// Counts reports the live resources
func (f *EC2) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := Counts{
		VPCs:             len(f.vpcs),
		Subnets:          len(f.subnets),
		InternetGateways: len(f.gateways),
	}
	for _, igw := range f.gateways {
		if len(igw.Attachments) > 0 {
			c.AttachedGateways++
		}
	}
	for _, rt := range f.routeTables {
		if !isMain(rt) {
			c.RouteTables++
		}
	}
	for _, sg := range f.groups {
		if aws.ToString(sg.GroupName) != "default" {
			c.SecurityGroups++
		}
	}
	for _, inst := range f.instances {
		if inst.State.Name != ec2types.InstanceStateNameTerminated {
			c.Instances++
		}
	}
	return c
}

// AddVPC inserts an available VPC directly, bypassing CreateVpc. It returns
// the new VPC ID.
func (f *EC2) AddVPC(name, cidr string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newVPC(cidr, nameTags(name))
	f.vpcs[id].State = ec2types.VpcStateAvailable
	return id
}

func (f *EC2) begin(op, id string) error {
	f.calls = append(f.calls, strings.TrimSpace(op+" "+id))
	return f.failures[op]
}

func (f *EC2) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%08x", prefix, f.seq)
}

func apiError(code, format string, args ...any) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

func notFound(kind, id string) error {
	return apiError("Invalid"+kind+"ID.NotFound", "The %s ID '%s' does not exist", strings.ToLower(kind), id)
}

func dependencyViolation(format string, args ...any) error {
	return apiError("DependencyViolation", format, args...)
}

func tagsFor(specs []ec2types.TagSpecification, rt ec2types.ResourceType) []ec2types.Tag {
	var tags []ec2types.Tag
	for _, spec := range specs {
		if spec.ResourceType == rt {
			tags = append(tags, spec.Tags...)
		}
	}
	return tags
}

func nameTags(name string) []ec2types.Tag {
	return []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
}

func tagValue(tags []ec2types.Tag, key string) (string, bool) {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return aws.ToString(t.Value), true
		}
	}
	return "", false
}

// matches reports whether a resource satisfies every filter. attr returns the
// resource's values for a filter name; tag:<key> filters are handled here.
func matches(filters []ec2types.Filter, tags []ec2types.Tag, attr func(name string) []string) bool {
	for _, flt := range filters {
		name := aws.ToString(flt.Name)
		var have []string
		if key, ok := strings.CutPrefix(name, "tag:"); ok {
			if v, ok := tagValue(tags, key); ok {
				have = []string{v}
			}
		} else {
			have = attr(name)
		}
		if !slices.ContainsFunc(have, func(v string) bool { return slices.Contains(flt.Values, v) }) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isMain(rt *ec2types.RouteTable) bool {
	for _, a := range rt.Associations {
		if aws.ToBool(a.Main) {
			return true
		}
	}
	return false
}

func live(inst *ec2types.Instance) bool {
	return inst.State.Name != ec2types.InstanceStateNameTerminated
}

func setInstanceState(inst *ec2types.Instance, name ec2types.InstanceStateName) {
	inst.State = &ec2types.InstanceState{Name: name}
}

// VPCs

func (f *EC2) newVPC(cidr string, tags []ec2types.Tag) string {
	id := f.nextID("vpc")
	f.vpcs[id] = &ec2types.Vpc{
		VpcId:     aws.String(id),
		CidrBlock: aws.String(cidr),
		State:     ec2types.VpcStatePending,
		IsDefault: aws.Bool(false),
		OwnerId:   aws.String(DefaultAccount),
		Tags:      tags,
	}

	// Every VPC comes with a main route table and a default security group
	rtbID := f.nextID("rtb")
	f.routeTables[rtbID] = &ec2types.RouteTable{
		RouteTableId: aws.String(rtbID),
		VpcId:        aws.String(id),
		Routes:       []ec2types.Route{localRoute(cidr)},
		Associations: []ec2types.RouteTableAssociation{{
			RouteTableAssociationId: aws.String(f.nextID("rtbassoc")),
			RouteTableId:            aws.String(rtbID),
			Main:                    aws.Bool(true),
		}},
	}
	sgID := f.nextID("sg")
	f.groups[sgID] = &ec2types.SecurityGroup{
		GroupId:     aws.String(sgID),
		GroupName:   aws.String("default"),
		Description: aws.String("default VPC security group"),
		VpcId:       aws.String(id),
		OwnerId:     aws.String(DefaultAccount),
	}
	return id
}

func localRoute(cidr string) ec2types.Route {
	return ec2types.Route{
		DestinationCidrBlock: aws.String(cidr),
		GatewayId:            aws.String("local"),
		State:                ec2types.RouteStateActive,
		Origin:               ec2types.RouteOriginCreateRouteTable,
	}
}

func (f *EC2) CreateVpc(_ context.Context, in *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateVpc", aws.ToString(in.CidrBlock)); err != nil {
		return nil, err
	}
	if _, err := netip.ParsePrefix(aws.ToString(in.CidrBlock)); err != nil {
		return nil, apiError("InvalidParameterValue", "invalid CIDR %q", aws.ToString(in.CidrBlock))
	}
	id := f.newVPC(aws.ToString(in.CidrBlock), tagsFor(in.TagSpecifications, ec2types.ResourceTypeVpc))
	v := *f.vpcs[id]
	return &ec2.CreateVpcOutput{Vpc: &v}, nil
}

func (f *EC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeVpcs"]; err != nil {
		return nil, err
	}
	for _, id := range in.VpcIds {
		if _, ok := f.vpcs[id]; !ok {
			return nil, notFound("Vpc", id)
		}
	}

	out := &ec2.DescribeVpcsOutput{}
	for _, id := range sortedKeys(f.vpcs) {
		v := f.vpcs[id]
		if len(in.VpcIds) > 0 && !slices.Contains(in.VpcIds, id) {
			continue
		}
		if !matches(in.Filters, v.Tags, func(name string) []string {
			switch name {
			case "vpc-id":
				return []string{id}
			case "cidr", "cidr-block":
				return []string{aws.ToString(v.CidrBlock)}
			case "state":
				return []string{string(v.State)}
			}
			return nil
		}) {
			continue
		}
		v.State = ec2types.VpcStateAvailable
		out.Vpcs = append(out.Vpcs, *v)
	}
	return out, nil
}

func (f *EC2) DeleteVpc(_ context.Context, in *ec2.DeleteVpcInput, _ ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.VpcId)
	if err := f.begin("DeleteVpc", id); err != nil {
		return nil, err
	}
	if _, ok := f.vpcs[id]; !ok {
		return nil, notFound("Vpc", id)
	}

	for _, s := range f.subnets {
		if aws.ToString(s.VpcId) == id {
			return nil, dependencyViolation("The vpc '%s' has dependencies and cannot be deleted.", id)
		}
	}
	for _, igw := range f.gateways {
		for _, a := range igw.Attachments {
			if aws.ToString(a.VpcId) == id {
				return nil, dependencyViolation("The vpc '%s' has dependencies and cannot be deleted.", id)
			}
		}
	}
	for _, rt := range f.routeTables {
		if aws.ToString(rt.VpcId) == id && !isMain(rt) {
			return nil, dependencyViolation("The vpc '%s' has dependencies and cannot be deleted.", id)
		}
	}
	for _, sg := range f.groups {
		if aws.ToString(sg.VpcId) == id && aws.ToString(sg.GroupName) != "default" {
			return nil, dependencyViolation("The vpc '%s' has dependencies and cannot be deleted.", id)
		}
	}

	for rtbID, rt := range f.routeTables {
		if aws.ToString(rt.VpcId) == id {
			delete(f.routeTables, rtbID)
		}
	}
	for sgID, sg := range f.groups {
		if aws.ToString(sg.VpcId) == id {
			delete(f.groups, sgID)
		}
	}
	delete(f.vpcs, id)
	return &ec2.DeleteVpcOutput{}, nil
}

// Subnets

func (f *EC2) CreateSubnet(_ context.Context, in *ec2.CreateSubnetInput, _ ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vpcID := aws.ToString(in.VpcId)
	if err := f.begin("CreateSubnet", aws.ToString(in.CidrBlock)); err != nil {
		return nil, err
	}
	vpc, ok := f.vpcs[vpcID]
	if !ok {
		return nil, notFound("Vpc", vpcID)
	}

	block, err := netip.ParsePrefix(aws.ToString(in.CidrBlock))
	if err != nil {
		return nil, apiError("InvalidParameterValue", "invalid CIDR %q", aws.ToString(in.CidrBlock))
	}
	vpcBlock := netip.MustParsePrefix(aws.ToString(vpc.CidrBlock))
	if block.Bits() < vpcBlock.Bits() || !vpcBlock.Contains(block.Addr()) {
		return nil, apiError("InvalidSubnet.Range", "The CIDR '%s' is invalid.", block)
	}
	for _, s := range f.subnets {
		if aws.ToString(s.VpcId) == vpcID && netip.MustParsePrefix(aws.ToString(s.CidrBlock)).Overlaps(block) {
			return nil, apiError("InvalidSubnet.Conflict", "The CIDR '%s' conflicts with another subnet", block)
		}
	}

	zone := aws.ToString(in.AvailabilityZone)
	if zone == "" {
		zone = "il-central-1a"
	}
	id := f.nextID("subnet")
	f.subnets[id] = &ec2types.Subnet{
		SubnetId:                aws.String(id),
		VpcId:                   aws.String(vpcID),
		CidrBlock:               aws.String(block.String()),
		AvailabilityZone:        aws.String(zone),
		AvailableIpAddressCount: aws.Int32(int32(1<<(32-block.Bits())) - 5),
		State:                   ec2types.SubnetStatePending,
		MapPublicIpOnLaunch:     aws.Bool(false),
		Tags:                    tagsFor(in.TagSpecifications, ec2types.ResourceTypeSubnet),
	}
	s := *f.subnets[id]
	return &ec2.CreateSubnetOutput{Subnet: &s}, nil
}

func (f *EC2) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeSubnets"]; err != nil {
		return nil, err
	}
	for _, id := range in.SubnetIds {
		if _, ok := f.subnets[id]; !ok {
			return nil, notFound("Subnet", id)
		}
	}

	out := &ec2.DescribeSubnetsOutput{}
	for _, id := range sortedKeys(f.subnets) {
		s := f.subnets[id]
		if len(in.SubnetIds) > 0 && !slices.Contains(in.SubnetIds, id) {
			continue
		}
		if !matches(in.Filters, s.Tags, func(name string) []string {
			switch name {
			case "subnet-id":
				return []string{id}
			case "vpc-id":
				return []string{aws.ToString(s.VpcId)}
			case "availability-zone":
				return []string{aws.ToString(s.AvailabilityZone)}
			}
			return nil
		}) {
			continue
		}
		s.State = ec2types.SubnetStateAvailable
		out.Subnets = append(out.Subnets, *s)
	}
	return out, nil
}

func (f *EC2) DeleteSubnet(_ context.Context, in *ec2.DeleteSubnetInput, _ ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.SubnetId)
	if err := f.begin("DeleteSubnet", id); err != nil {
		return nil, err
	}
	if _, ok := f.subnets[id]; !ok {
		return nil, notFound("Subnet", id)
	}
	for _, inst := range f.instances {
		if live(inst) && aws.ToString(inst.SubnetId) == id {
			return nil, dependencyViolation("The subnet '%s' has dependencies and cannot be deleted.", id)
		}
	}

	// Subnet associations go away with the subnet
	for _, rt := range f.routeTables {
		rt.Associations = slices.DeleteFunc(slices.Clone(rt.Associations), func(a ec2types.RouteTableAssociation) bool {
			return aws.ToString(a.SubnetId) == id
		})
	}
	delete(f.subnets, id)
	return &ec2.DeleteSubnetOutput{}, nil
}

// Internet gateways

func (f *EC2) CreateInternetGateway(_ context.Context, in *ec2.CreateInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateInternetGateway", ""); err != nil {
		return nil, err
	}
	id := f.nextID("igw")
	f.gateways[id] = &ec2types.InternetGateway{
		InternetGatewayId: aws.String(id),
		OwnerId:           aws.String(DefaultAccount),
		Tags:              tagsFor(in.TagSpecifications, ec2types.ResourceTypeInternetGateway),
	}
	igw := *f.gateways[id]
	return &ec2.CreateInternetGatewayOutput{InternetGateway: &igw}, nil
}

func (f *EC2) AttachInternetGateway(_ context.Context, in *ec2.AttachInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, vpcID := aws.ToString(in.InternetGatewayId), aws.ToString(in.VpcId)
	if err := f.begin("AttachInternetGateway", id); err != nil {
		return nil, err
	}
	igw, ok := f.gateways[id]
	if !ok {
		return nil, notFound("InternetGateway", id)
	}
	if _, ok := f.vpcs[vpcID]; !ok {
		return nil, notFound("Vpc", vpcID)
	}
	if len(igw.Attachments) > 0 {
		return nil, apiError("Resource.AlreadyAssociated", "resource %s is already attached", id)
	}
	igw.Attachments = []ec2types.InternetGatewayAttachment{{
		VpcId: aws.String(vpcID),
		State: ec2types.AttachmentStatusAttached,
	}}
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (f *EC2) DetachInternetGateway(_ context.Context, in *ec2.DetachInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, vpcID := aws.ToString(in.InternetGatewayId), aws.ToString(in.VpcId)
	if err := f.begin("DetachInternetGateway", id); err != nil {
		return nil, err
	}
	igw, ok := f.gateways[id]
	if !ok {
		return nil, notFound("InternetGateway", id)
	}
	if len(igw.Attachments) == 0 || aws.ToString(igw.Attachments[0].VpcId) != vpcID {
		return nil, apiError("Gateway.NotAttached", "resource %s is not attached to network %s", id, vpcID)
	}
	// Routes through the gateway are left blackholed, as AWS does
	igw.Attachments = nil
	return &ec2.DetachInternetGatewayOutput{}, nil
}

func (f *EC2) DeleteInternetGateway(_ context.Context, in *ec2.DeleteInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.InternetGatewayId)
	if err := f.begin("DeleteInternetGateway", id); err != nil {
		return nil, err
	}
	igw, ok := f.gateways[id]
	if !ok {
		return nil, notFound("InternetGateway", id)
	}
	if len(igw.Attachments) > 0 {
		return nil, dependencyViolation("The internetGateway '%s' has dependencies and cannot be deleted.", id)
	}
	delete(f.gateways, id)
	return &ec2.DeleteInternetGatewayOutput{}, nil
}

func (f *EC2) DescribeInternetGateways(_ context.Context, in *ec2.DescribeInternetGatewaysInput, _ ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeInternetGateways"]; err != nil {
		return nil, err
	}
	out := &ec2.DescribeInternetGatewaysOutput{}
	for _, id := range sortedKeys(f.gateways) {
		igw := f.gateways[id]
		if len(in.InternetGatewayIds) > 0 && !slices.Contains(in.InternetGatewayIds, id) {
			continue
		}
		if !matches(in.Filters, igw.Tags, func(name string) []string {
			switch name {
			case "internet-gateway-id":
				return []string{id}
			case "attachment.vpc-id":
				var ids []string
				for _, a := range igw.Attachments {
					ids = append(ids, aws.ToString(a.VpcId))
				}
				return ids
			}
			return nil
		}) {
			continue
		}
		out.InternetGateways = append(out.InternetGateways, *igw)
	}
	return out, nil
}

// Route tables

func (f *EC2) CreateRouteTable(_ context.Context, in *ec2.CreateRouteTableInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vpcID := aws.ToString(in.VpcId)
	if err := f.begin("CreateRouteTable", vpcID); err != nil {
		return nil, err
	}
	vpc, ok := f.vpcs[vpcID]
	if !ok {
		return nil, notFound("Vpc", vpcID)
	}
	id := f.nextID("rtb")
	f.routeTables[id] = &ec2types.RouteTable{
		RouteTableId: aws.String(id),
		VpcId:        aws.String(vpcID),
		Routes:       []ec2types.Route{localRoute(aws.ToString(vpc.CidrBlock))},
		Tags:         tagsFor(in.TagSpecifications, ec2types.ResourceTypeRouteTable),
	}
	rt := *f.routeTables[id]
	return &ec2.CreateRouteTableOutput{RouteTable: &rt}, nil
}

func (f *EC2) CreateRoute(_ context.Context, in *ec2.CreateRouteInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.RouteTableId)
	if err := f.begin("CreateRoute", id); err != nil {
		return nil, err
	}
	rt, ok := f.routeTables[id]
	if !ok {
		return nil, notFound("RouteTable", id)
	}

	route := ec2types.Route{
		DestinationCidrBlock: in.DestinationCidrBlock,
		State:                ec2types.RouteStateActive,
		Origin:               ec2types.RouteOriginCreateRoute,
	}
	switch {
	case in.GatewayId != nil:
		igw, ok := f.gateways[aws.ToString(in.GatewayId)]
		if !ok {
			return nil, notFound("InternetGateway", aws.ToString(in.GatewayId))
		}
		if len(igw.Attachments) == 0 || aws.ToString(igw.Attachments[0].VpcId) != aws.ToString(rt.VpcId) {
			return nil, apiError("InvalidParameterValue", "route table %s and network gateway %s belong to different networks", id, aws.ToString(in.GatewayId))
		}
		route.GatewayId = in.GatewayId
	case in.InstanceId != nil:
		inst, ok := f.instances[aws.ToString(in.InstanceId)]
		if !ok || !live(inst) {
			return nil, notFound("Instance", aws.ToString(in.InstanceId))
		}
		route.InstanceId = in.InstanceId
	default:
		return nil, apiError("InvalidParameterCombination", "a route target is required")
	}

	for _, r := range rt.Routes {
		if aws.ToString(r.DestinationCidrBlock) == aws.ToString(in.DestinationCidrBlock) {
			return nil, apiError("RouteAlreadyExists", "route %s already exists in %s", aws.ToString(in.DestinationCidrBlock), id)
		}
	}
	rt.Routes = append(slices.Clone(rt.Routes), route)
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (f *EC2) AssociateRouteTable(_ context.Context, in *ec2.AssociateRouteTableInput, _ ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, subnetID := aws.ToString(in.RouteTableId), aws.ToString(in.SubnetId)
	if err := f.begin("AssociateRouteTable", id); err != nil {
		return nil, err
	}
	rt, ok := f.routeTables[id]
	if !ok {
		return nil, notFound("RouteTable", id)
	}
	if _, ok := f.subnets[subnetID]; !ok {
		return nil, notFound("Subnet", subnetID)
	}
	for _, other := range f.routeTables {
		for _, a := range other.Associations {
			if aws.ToString(a.SubnetId) == subnetID {
				return nil, apiError("Resource.AlreadyAssociated", "subnet %s is already associated", subnetID)
			}
		}
	}

	assocID := f.nextID("rtbassoc")
	rt.Associations = append(slices.Clone(rt.Associations), ec2types.RouteTableAssociation{
		RouteTableAssociationId: aws.String(assocID),
		RouteTableId:            aws.String(id),
		SubnetId:                aws.String(subnetID),
		Main:                    aws.Bool(false),
	})
	return &ec2.AssociateRouteTableOutput{AssociationId: aws.String(assocID)}, nil
}

func (f *EC2) DisassociateRouteTable(_ context.Context, in *ec2.DisassociateRouteTableInput, _ ...func(*ec2.Options)) (*ec2.DisassociateRouteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assocID := aws.ToString(in.AssociationId)
	if err := f.begin("DisassociateRouteTable", assocID); err != nil {
		return nil, err
	}
	for _, rt := range f.routeTables {
		for i, a := range rt.Associations {
			if aws.ToString(a.RouteTableAssociationId) != assocID {
				continue
			}
			if aws.ToBool(a.Main) {
				return nil, apiError("InvalidParameterValue", "cannot disassociate the main route table association %s", assocID)
			}
			rt.Associations = slices.Delete(slices.Clone(rt.Associations), i, i+1)
			return &ec2.DisassociateRouteTableOutput{}, nil
		}
	}
	return nil, apiError("InvalidAssociationID.NotFound", "The association ID '%s' does not exist", assocID)
}

func (f *EC2) DeleteRouteTable(_ context.Context, in *ec2.DeleteRouteTableInput, _ ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.RouteTableId)
	if err := f.begin("DeleteRouteTable", id); err != nil {
		return nil, err
	}
	rt, ok := f.routeTables[id]
	if !ok {
		return nil, notFound("RouteTable", id)
	}
	if len(rt.Associations) > 0 {
		return nil, dependencyViolation("The routeTable '%s' has dependencies and cannot be deleted.", id)
	}
	delete(f.routeTables, id)
	return &ec2.DeleteRouteTableOutput{}, nil
}

func (f *EC2) DescribeRouteTables(_ context.Context, in *ec2.DescribeRouteTablesInput, _ ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeRouteTables"]; err != nil {
		return nil, err
	}
	out := &ec2.DescribeRouteTablesOutput{}
	for _, id := range sortedKeys(f.routeTables) {
		rt := f.routeTables[id]
		if len(in.RouteTableIds) > 0 && !slices.Contains(in.RouteTableIds, id) {
			continue
		}
		if !matches(in.Filters, rt.Tags, func(name string) []string {
			switch name {
			case "route-table-id":
				return []string{id}
			case "vpc-id":
				return []string{aws.ToString(rt.VpcId)}
			case "association.subnet-id":
				var ids []string
				for _, a := range rt.Associations {
					ids = append(ids, aws.ToString(a.SubnetId))
				}
				return ids
			}
			return nil
		}) {
			continue
		}
		out.RouteTables = append(out.RouteTables, *rt)
	}
	return out, nil
}

// Security groups

func (f *EC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, vpcID := aws.ToString(in.GroupName), aws.ToString(in.VpcId)
	if err := f.begin("CreateSecurityGroup", name); err != nil {
		return nil, err
	}
	if _, ok := f.vpcs[vpcID]; !ok {
		return nil, notFound("Vpc", vpcID)
	}
	for _, sg := range f.groups {
		if aws.ToString(sg.VpcId) == vpcID && aws.ToString(sg.GroupName) == name {
			return nil, apiError("InvalidGroup.Duplicate", "The security group '%s' already exists for VPC '%s'", name, vpcID)
		}
	}
	id := f.nextID("sg")
	f.groups[id] = &ec2types.SecurityGroup{
		GroupId:     aws.String(id),
		GroupName:   aws.String(name),
		Description: in.Description,
		VpcId:       aws.String(vpcID),
		OwnerId:     aws.String(DefaultAccount),
		Tags:        tagsFor(in.TagSpecifications, ec2types.ResourceTypeSecurityGroup),
	}
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *EC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.GroupId)
	if err := f.begin("AuthorizeSecurityGroupIngress", id); err != nil {
		return nil, err
	}
	sg, ok := f.groups[id]
	if !ok {
		return nil, apiError("InvalidGroup.NotFound", "The security group '%s' does not exist", id)
	}
	for _, p := range in.IpPermissions {
		for _, pair := range p.UserIdGroupPairs {
			if _, ok := f.groups[aws.ToString(pair.GroupId)]; !ok {
				return nil, apiError("InvalidGroup.NotFound", "The security group '%s' does not exist", aws.ToString(pair.GroupId))
			}
		}
	}
	sg.IpPermissions = append(slices.Clone(sg.IpPermissions), in.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func (f *EC2) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeSecurityGroups"]; err != nil {
		return nil, err
	}
	for _, id := range in.GroupIds {
		if _, ok := f.groups[id]; !ok {
			return nil, apiError("InvalidGroup.NotFound", "The security group '%s' does not exist", id)
		}
	}

	out := &ec2.DescribeSecurityGroupsOutput{}
	for _, id := range sortedKeys(f.groups) {
		sg := f.groups[id]
		if len(in.GroupIds) > 0 && !slices.Contains(in.GroupIds, id) {
			continue
		}
		if len(in.GroupNames) > 0 && !slices.Contains(in.GroupNames, aws.ToString(sg.GroupName)) {
			continue
		}
		if !matches(in.Filters, sg.Tags, func(name string) []string {
			switch name {
			case "group-id":
				return []string{id}
			case "group-name":
				return []string{aws.ToString(sg.GroupName)}
			case "vpc-id":
				return []string{aws.ToString(sg.VpcId)}
			}
			return nil
		}) {
			continue
		}
		out.SecurityGroups = append(out.SecurityGroups, *sg)
	}
	return out, nil
}

func (f *EC2) DeleteSecurityGroup(_ context.Context, in *ec2.DeleteSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.GroupId)
	if err := f.begin("DeleteSecurityGroup", id); err != nil {
		return nil, err
	}
	sg, ok := f.groups[id]
	if !ok {
		return nil, apiError("InvalidGroup.NotFound", "The security group '%s' does not exist", id)
	}
	if aws.ToString(sg.GroupName) == "default" {
		return nil, apiError("CannotDelete", "the default security group cannot be deleted")
	}
	for otherID, other := range f.groups {
		if otherID == id {
			continue
		}
		for _, p := range other.IpPermissions {
			for _, pair := range p.UserIdGroupPairs {
				if aws.ToString(pair.GroupId) == id {
					return nil, dependencyViolation("resource %s has a dependent object", id)
				}
			}
		}
	}
	for _, inst := range f.instances {
		if !live(inst) {
			continue
		}
		for _, g := range inst.SecurityGroups {
			if aws.ToString(g.GroupId) == id {
				return nil, dependencyViolation("resource %s has a dependent object", id)
			}
		}
	}
	delete(f.groups, id)
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

// Instances

func (f *EC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("RunInstances", aws.ToString(in.ImageId)); err != nil {
		return nil, err
	}

	subnetID := aws.ToString(in.SubnetId)
	groupIDs := in.SecurityGroupIds
	publicIP := false
	if len(in.NetworkInterfaces) > 0 {
		ni := in.NetworkInterfaces[0]
		subnetID = aws.ToString(ni.SubnetId)
		groupIDs = ni.Groups
		publicIP = aws.ToBool(ni.AssociatePublicIpAddress)
	}
	subnet, ok := f.subnets[subnetID]
	if !ok {
		return nil, notFound("Subnet", subnetID)
	}
	var groups []ec2types.GroupIdentifier
	for _, gid := range groupIDs {
		sg, ok := f.groups[gid]
		if !ok {
			return nil, apiError("InvalidGroup.NotFound", "The security group '%s' does not exist", gid)
		}
		groups = append(groups, ec2types.GroupIdentifier{GroupId: aws.String(gid), GroupName: sg.GroupName})
	}

	id := f.nextID("i")
	inst := &ec2types.Instance{
		InstanceId:       aws.String(id),
		ImageId:          in.ImageId,
		InstanceType:     in.InstanceType,
		KeyName:          in.KeyName,
		SubnetId:         aws.String(subnetID),
		VpcId:            subnet.VpcId,
		PrivateIpAddress: aws.String(f.nextPrivateIP(subnet)),
		SecurityGroups:   groups,
		SourceDestCheck:  aws.Bool(true),
		Placement:        &ec2types.Placement{AvailabilityZone: subnet.AvailabilityZone},
		LaunchTime:       aws.Time(time.Now().UTC()),
		Tags:             tagsFor(in.TagSpecifications, ec2types.ResourceTypeInstance),
	}
	if publicIP {
		inst.PublicIpAddress = aws.String(fmt.Sprintf("203.0.113.%d", f.seq%250+1))
	}
	setInstanceState(inst, ec2types.InstanceStateNamePending)
	f.instances[id] = inst

	out := *inst
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{out}}, nil
}

// nextPrivateIP hands out addresses after the four AWS reserves at the start
// of every subnet
func (f *EC2) nextPrivateIP(subnet *ec2types.Subnet) string {
	id := aws.ToString(subnet.SubnetId)
	if f.ipOffsets[id] == 0 {
		f.ipOffsets[id] = 4
	}
	addr := netip.MustParsePrefix(aws.ToString(subnet.CidrBlock)).Addr()
	for range f.ipOffsets[id] {
		addr = addr.Next()
	}
	f.ipOffsets[id]++
	return addr.String()
}

func (f *EC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["DescribeInstances"]; err != nil {
		return nil, err
	}
	for _, id := range in.InstanceIds {
		if _, ok := f.instances[id]; !ok {
			return nil, notFound("Instance", id)
		}
	}

	var reservation ec2types.Reservation
	for _, id := range sortedKeys(f.instances) {
		inst := f.instances[id]
		if len(in.InstanceIds) > 0 && !slices.Contains(in.InstanceIds, id) {
			continue
		}

		switch inst.State.Name {
		case ec2types.InstanceStateNamePending:
			setInstanceState(inst, ec2types.InstanceStateNameRunning)
		case ec2types.InstanceStateNameShuttingDown:
			setInstanceState(inst, ec2types.InstanceStateNameTerminated)
			inst.PublicIpAddress = nil
		}

		if !matches(in.Filters, inst.Tags, func(name string) []string {
			switch name {
			case "instance-id":
				return []string{id}
			case "instance-state-name":
				return []string{string(inst.State.Name)}
			case "vpc-id":
				return []string{aws.ToString(inst.VpcId)}
			case "subnet-id":
				return []string{aws.ToString(inst.SubnetId)}
			}
			return nil
		}) {
			continue
		}
		reservation.Instances = append(reservation.Instances, *inst)
	}

	out := &ec2.DescribeInstancesOutput{}
	if len(reservation.Instances) > 0 {
		out.Reservations = []ec2types.Reservation{reservation}
	}
	return out, nil
}

func (f *EC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TerminateInstances", strings.Join(in.InstanceIds, ",")); err != nil {
		return nil, err
	}
	for _, id := range in.InstanceIds {
		if _, ok := f.instances[id]; !ok {
			return nil, notFound("Instance", id)
		}
	}

	out := &ec2.TerminateInstancesOutput{}
	for _, id := range in.InstanceIds {
		inst := f.instances[id]
		prev := inst.State.Name
		if live(inst) {
			setInstanceState(inst, ec2types.InstanceStateNameShuttingDown)
		}
		out.TerminatingInstances = append(out.TerminatingInstances, ec2types.InstanceStateChange{
			InstanceId:    aws.String(id),
			PreviousState: &ec2types.InstanceState{Name: prev},
			CurrentState:  &ec2types.InstanceState{Name: inst.State.Name},
		})
	}
	return out, nil
}

func (f *EC2) ModifyInstanceAttribute(_ context.Context, in *ec2.ModifyInstanceAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.InstanceId)
	if err := f.begin("ModifyInstanceAttribute", id); err != nil {
		return nil, err
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, notFound("Instance", id)
	}
	if in.SourceDestCheck != nil {
		inst.SourceDestCheck = aws.Bool(aws.ToBool(in.SourceDestCheck.Value))
	}
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

// Instance returns a copy of an instance, for assertions
func (f *EC2) Instance(id string) (ec2types.Instance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return ec2types.Instance{}, false
	}
	return *inst, true
}

// STS is an in-memory STS API
type STS struct {
	Account string
	Arn     string
	UserID  string
	Err     error
}

// NewSTS returns a fake reporting DefaultAccount
func NewSTS() *STS {
	return &STS{
		Account: DefaultAccount,
		Arn:     "arn:aws:iam::" + DefaultAccount + ":user/netlab",
		UserID:  "AIDAEXAMPLE",
	}
}

func (s *STS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(s.Account),
		Arn:     aws.String(s.Arn),
		UserId:  aws.String(s.UserID),
	}, nil
}
