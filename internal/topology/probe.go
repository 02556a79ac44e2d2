package topology

import (
	"context"
	"errors"
	"strings"

	"github.com/vietdv277/netlab/internal/aws"
	"github.com/vietdv277/netlab/internal/log"
	"github.com/vietdv277/netlab/pkg/types"
)

// NotAvailable is printed in place of an absent attribute, such as the public
// IP of a private instance
const NotAvailable = "N/A"

// Probe sections, used as keys of Report.Errors
const (
	SectionIdentity    = "identity"
	SectionVPCs        = "vpcs"
	SectionSubnets     = "subnets"
	SectionInstances   = "instances"
	SectionRouteTables = "route tables"
)

// Report is the result of a probe. A section whose lookup failed is empty and
// has an entry in Errors.
type Report struct {
	Identity  *aws.CallerIdentity
	VPCs      []types.VPC
	Subnets   []types.Subnet
	Instances []types.Instance

	Errors map[string]error
}

// OK reports whether every section was read successfully
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Probe enumerates VPCs, subnets and instances to confirm that credentials
// and connectivity work. It never mutates anything and never fails: errors
// are logged and recorded per section.
func Probe(ctx context.Context, client *aws.Client) *Report {
	r := &Report{Errors: make(map[string]error)}

	log.Info(ctx, "Starting AWS connection tests...")

	if client.STS != nil {
		identity, err := client.GetCallerIdentity(ctx)
		if err != nil {
			r.fail(ctx, SectionIdentity, "Error fetching caller identity", err)
		} else {
			r.Identity = identity
			log.Info(ctx, "Authenticated", "account", identity.Account, "arn", identity.Arn)
		}
	}

	log.Info(ctx, "Testing VPC connection...")
	if vpcs, err := client.ListVPCs(ctx); err != nil {
		r.fail(ctx, SectionVPCs, "Error fetching VPCs", err)
	} else if len(vpcs) == 0 {
		log.Warn(ctx, "No VPCs found in this account.")
	} else {
		r.VPCs = vpcs
		log.Info(ctx, "Found VPCs", "count", len(vpcs))
		for _, v := range vpcs {
			log.Info(ctx, "VPC", "id", v.ID, "cidr", v.CIDR, "name", orNA(v.Name))
		}
	}

	log.Info(ctx, "Testing subnet connection...")
	if subnets, err := client.ListSubnets(ctx, ""); err != nil {
		r.fail(ctx, SectionSubnets, "Error fetching subnets", err)
	} else if len(subnets) == 0 {
		log.Warn(ctx, "No subnets found in this account.")
	} else {
		r.Subnets = subnets
		r.classifySubnets(ctx, client)
		log.Info(ctx, "Found subnets", "count", len(subnets))
		for _, s := range r.Subnets {
			log.Info(ctx, "Subnet", "id", s.ID, "cidr", s.CIDR, "az", s.AZ)
		}
	}

	log.Info(ctx, "Testing EC2 instance connection...")
	if instances, err := client.ListInstances(ctx, nil); err != nil {
		r.fail(ctx, SectionInstances, "Error fetching EC2 instances", err)
	} else if len(instances) == 0 {
		log.Warn(ctx, "No EC2 instances found in this account.")
	} else {
		r.Instances = instances
		log.Info(ctx, "Found EC2 instances", "count", len(instances))
		for _, i := range instances {
			log.Info(ctx, "Instance", "id", i.ID, "state", i.State,
				"public_ip", orNA(i.PublicIP), "private_ip", orNA(i.PrivateIP))
		}
	}

	log.Info(ctx, "AWS connection tests completed.")
	return r
}

// classifySubnets marks subnets whose route table sends the default route to
// an internet gateway as public. Subnets without an explicit association use
// their VPC's main route table.
func (r *Report) classifySubnets(ctx context.Context, client *aws.Client) {
	tables, err := client.ListRouteTables(ctx, "")
	if err != nil {
		r.fail(ctx, SectionRouteTables, "Error fetching route tables", err)
		return
	}

	explicit := make(map[string]bool) // subnet ID -> public
	mainPublic := make(map[string]bool)
	for _, rt := range tables {
		route, ok := rt.DefaultRoute()
		public := ok && strings.HasPrefix(route.GatewayID, "igw-")
		if rt.Main {
			mainPublic[rt.VPCID] = public
		}
		for _, a := range rt.Associations {
			if a.SubnetID != "" {
				explicit[a.SubnetID] = public
			}
		}
	}

	for i, s := range r.Subnets {
		if public, ok := explicit[s.ID]; ok {
			r.Subnets[i].Public = public
		} else {
			r.Subnets[i].Public = mainPublic[s.VPCID]
		}
	}
}

func (r *Report) fail(ctx context.Context, section, msg string, err error) {
	r.Errors[section] = err
	log.Error(ctx, msg, "error", err)
}

// Err returns the recorded section errors joined, or nil
func (r *Report) Err() error {
	var errs []error
	for _, section := range []string{SectionIdentity, SectionVPCs, SectionSubnets, SectionRouteTables, SectionInstances} {
		if err, ok := r.Errors[section]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
