package topology

import (
	"context"
	"errors"
	"slices"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/pkg/types"
)

// TeardownReport counts what a teardown run removed and what it could not find
type TeardownReport struct {
	InstancesTerminated     int
	SecurityGroupsDeleted   int
	RouteTablesDeleted      int
	SubnetsDeleted          int
	InternetGatewaysDeleted int
	VPCsDeleted             int

	// Misses names each resource that was already gone
	Misses []string
}

// Deleted returns the total number of resources removed
func (r *TeardownReport) Deleted() int {
	return r.InstancesTerminated + r.SecurityGroupsDeleted + r.RouteTablesDeleted +
		r.SubnetsDeleted + r.InternetGatewaysDeleted + r.VPCsDeleted
}

// teardown accumulates results across the steps of one run
type teardown struct {
	client *aws.Client
	cfg    *config.Config
	report *TeardownReport
	errs   []error

	// gateways already handled through their VPC
	gateways map[string]bool
}

// Teardown deletes the lab topology in reverse dependency order, locating
// every resource by name. Missing resources are logged as warnings. Other
// failures are logged, teardown carries on, and they are returned joined.
func Teardown(ctx context.Context, client *aws.Client, cfg *config.Config) (*TeardownReport, error) {
	t := &teardown{
		client:   withPolling(client, cfg),
		cfg:      cfg,
		report:   &TeardownReport{},
		gateways: make(map[string]bool),
	}

	t.terminateInstances(ctx)

	vpcs, err := t.client.FindVPCsByName(ctx, cfg.VPCName)
	if err != nil {
		t.fail(ctx, "Failed to look up VPC", err, "name", cfg.VPCName)
	}

	t.deleteSecurityGroups(ctx, vpcs)

	log.Info(ctx, "Deleting route tables, subnets, gateways and VPC...")
	if err == nil && len(vpcs) == 0 {
		t.miss(ctx, "VPC not found", "vpc/"+cfg.VPCName, "name", cfg.VPCName)
	}
	for _, vpc := range vpcs {
		t.deleteVPC(ctx, vpc)
	}
	t.deleteDetachedGateways(ctx)

	return t.report, errors.Join(t.errs...)
}

func (t *teardown) terminateInstances(ctx context.Context) {
	log.Info(ctx, "Terminating lab instances...")
	instances, err := t.client.ListInstances(ctx, &aws.ListInstanceInput{
		Names:  t.cfg.InstanceNames(),
		States: aws.LiveInstanceStates,
	})
	if err != nil {
		t.fail(ctx, "Failed to list instances", err)
		return
	}
	if len(instances) == 0 {
		for _, name := range t.cfg.InstanceNames() {
			t.miss(ctx, "Instance not found", "instance/"+name, "name", name)
		}
		return
	}

	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	if err := t.client.TerminateInstances(ctx, ids); err != nil {
		t.fail(ctx, "Failed to terminate instances", err, "ids", ids)
		return
	}

	for _, inst := range instances {
		if err := t.client.WaitInstanceState(ctx, inst.ID, aws.InstanceStateTerminated); err != nil {
			t.fail(ctx, "Instance did not terminate", err, "id", inst.ID)
			continue
		}
		t.report.InstancesTerminated++
		log.Success(ctx, "Terminated instance", "name", inst.Name, "id", inst.ID)
	}
}

// deleteSecurityGroups removes the groups in reverse creation order. Lookups
// are scoped to the lab VPCs when any were found.
func (t *teardown) deleteSecurityGroups(ctx context.Context, vpcs []types.VPC) {
	log.Info(ctx, "Deleting security groups...")

	scopes := []string{""}
	if len(vpcs) > 0 {
		scopes = scopes[:0]
		for _, vpc := range vpcs {
			scopes = append(scopes, vpc.ID)
		}
	}

	names := slices.Clone(t.cfg.SecurityGroupNames())
	slices.Reverse(names)

	for _, name := range names {
		var groups []types.SecurityGroup
		for _, vpcID := range scopes {
			found, err := t.client.FindSecurityGroups(ctx, vpcID, name)
			if err != nil {
				t.fail(ctx, "Failed to look up security group", err, "name", name)
				continue
			}
			groups = append(groups, found...)
		}
		if len(groups) == 0 {
			t.miss(ctx, "Security group not found", "security-group/"+name, "name", name)
			continue
		}

		for _, sg := range groups {
			if t.done(ctx, t.client.DeleteSecurityGroup(ctx, sg.ID), "Failed to delete security group", "security-group/"+name, "name", name, "id", sg.ID) {
				t.report.SecurityGroupsDeleted++
				log.Success(ctx, "Deleted security group", "name", name, "id", sg.ID)
			}
		}
	}
}

// deleteVPC removes a VPC's custom route tables, subnets and internet
// gateways, then the VPC itself. Route tables are not removed with the VPC,
// so they are deleted explicitly.
func (t *teardown) deleteVPC(ctx context.Context, vpc types.VPC) {
	ctx = log.With(ctx, "vpc", vpc.ID)

	tables, err := t.client.ListRouteTables(ctx, vpc.ID)
	if err != nil {
		t.fail(ctx, "Failed to list route tables", err)
	}
	for _, rt := range tables {
		if rt.Main {
			continue
		}
		for _, assoc := range rt.Associations {
			t.done(ctx, t.client.DisassociateRouteTable(ctx, assoc.ID), "Failed to disassociate route table", "route-table-association/"+assoc.ID, "id", rt.ID, "association", assoc.ID)
		}
		if t.done(ctx, t.client.DeleteRouteTable(ctx, rt.ID), "Failed to delete route table", "route-table/"+rt.ID, "id", rt.ID) {
			t.report.RouteTablesDeleted++
			log.Success(ctx, "Deleted route table", "id", rt.ID)
		}
	}

	subnets, err := t.client.ListSubnets(ctx, vpc.ID)
	if err != nil {
		t.fail(ctx, "Failed to list subnets", err)
	}
	for _, s := range subnets {
		if t.done(ctx, t.client.DeleteSubnet(ctx, s.ID), "Failed to delete subnet", "subnet/"+s.ID, "id", s.ID) {
			t.report.SubnetsDeleted++
			log.Success(ctx, "Deleted subnet", "name", s.Name, "id", s.ID)
		}
	}

	gateways, err := t.client.ListInternetGateways(ctx, vpc.ID)
	if err != nil {
		t.fail(ctx, "Failed to list internet gateways", err)
	}
	for _, igw := range gateways {
		t.gateways[igw.ID] = true
		// The gateway must be detached before either it or the VPC can go
		err := t.client.DetachInternetGateway(ctx, vpc.ID, igw.ID)
		if err != nil && aws.ErrorCode(err) != aws.CodeGatewayNotAttached {
			if !t.done(ctx, err, "Failed to detach internet gateway", "internet-gateway/"+igw.ID, "id", igw.ID) {
				continue
			}
		}
		if t.done(ctx, t.client.DeleteInternetGateway(ctx, igw.ID), "Failed to delete internet gateway", "internet-gateway/"+igw.ID, "id", igw.ID) {
			t.report.InternetGatewaysDeleted++
			log.Success(ctx, "Deleted internet gateway", "id", igw.ID)
		}
	}

	if t.done(ctx, t.client.DeleteVPC(ctx, vpc.ID), "Failed to delete VPC", "vpc/"+vpc.ID, "name", vpc.Name) {
		t.report.VPCsDeleted++
		log.Success(ctx, "Deleted VPC", "id", vpc.ID, "name", vpc.Name)
	}
}

// deleteDetachedGateways removes lab gateways that never got attached, such as
// one left behind by a failed attach during create.
func (t *teardown) deleteDetachedGateways(ctx context.Context) {
	name := gatewayName(t.cfg)
	gateways, err := t.client.FindInternetGatewaysByName(ctx, name)
	if err != nil {
		t.fail(ctx, "Failed to look up internet gateways", err, "name", name)
		return
	}

	for _, igw := range gateways {
		if t.gateways[igw.ID] {
			continue
		}
		if igw.VPCID != "" {
			log.Warn(ctx, "Internet gateway is attached to another VPC, leaving it", "id", igw.ID, "vpc", igw.VPCID)
			continue
		}
		if t.done(ctx, t.client.DeleteInternetGateway(ctx, igw.ID), "Failed to delete internet gateway", "internet-gateway/"+igw.ID, "id", igw.ID) {
			t.report.InternetGatewaysDeleted++
			log.Success(ctx, "Deleted detached internet gateway", "name", name, "id", igw.ID)
		}
	}
}

// done classifies the result of a delete call. It returns true when the
// resource was removed. A not-found error is recorded as a miss.
func (t *teardown) done(ctx context.Context, err error, msg, resource string, args ...any) bool {
	switch {
	case err == nil:
		return true
	case aws.IsNotFound(err):
		t.miss(ctx, "Resource already gone", resource, args...)
	case aws.IsDependencyViolation(err):
		t.fail(ctx, msg+", it is still in use", err, args...)
	default:
		t.fail(ctx, msg, err, args...)
	}
	return false
}

func (t *teardown) miss(ctx context.Context, msg, resource string, args ...any) {
	t.report.Misses = append(t.report.Misses, resource)
	log.Warn(ctx, msg, args...)
}

func (t *teardown) fail(ctx context.Context, msg string, err error, args ...any) {
	t.errs = append(t.errs, err)
	log.Error(ctx, msg, append(args, "error", err)...)
}
