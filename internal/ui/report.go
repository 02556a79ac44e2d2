package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/vietdv277/netlab/internal/topology"
)

const ruleWidth = 33

func printHeading(w io.Writer, title string) {
	fmt.Fprintln(w, HeaderStyle.Render(title))
	fmt.Fprintln(w, MutedStyle.Render(strings.Repeat(Horizontal, ruleWidth)))
}

// PrintProbeReport prints the identity, VPC, subnet and instance sections of
// a probe. Failed sections show their error instead of a table.
func PrintProbeReport(w io.Writer, r *topology.Report) {
	if r.Identity != nil || r.Errors[topology.SectionIdentity] != nil {
		printHeading(w, "Identity")
		if err := r.Errors[topology.SectionIdentity]; err != nil {
			fmt.Fprintln(w, "Auth:     "+ErrorStyle.Render("✗ Not authenticated"))
			fmt.Fprintf(w, "          %s\n", MutedStyle.Render(err.Error()))
		} else {
			fmt.Fprintln(w, "Auth:     "+RunningStyle.Render("✓ Authenticated"))
			fmt.Fprintf(w, "Account:  %s\n", r.Identity.Account)
			fmt.Fprintf(w, "ARN:      %s\n", MutedStyle.Render(r.Identity.Arn))
		}
		fmt.Fprintln(w)
	}

	printHeading(w, "VPCs")
	switch {
	case r.Errors[topology.SectionVPCs] != nil:
		printSectionError(w, r.Errors[topology.SectionVPCs])
	case len(r.VPCs) == 0:
		fmt.Fprintln(w, MutedStyle.Render("No VPCs found"))
	default:
		PrintVPCTable(w, r.VPCs)
	}
	fmt.Fprintln(w)

	printHeading(w, "Subnets")
	switch {
	case r.Errors[topology.SectionSubnets] != nil:
		printSectionError(w, r.Errors[topology.SectionSubnets])
	case len(r.Subnets) == 0:
		fmt.Fprintln(w, MutedStyle.Render("No subnets found"))
	default:
		PrintSubnetTable(w, r.Subnets)
	}
	fmt.Fprintln(w)

	printHeading(w, "Instances")
	switch {
	case r.Errors[topology.SectionInstances] != nil:
		printSectionError(w, r.Errors[topology.SectionInstances])
	case len(r.Instances) == 0:
		fmt.Fprintln(w, MutedStyle.Render("No instances found"))
	default:
		PrintInstanceTable(w, r.Instances)
	}
}

func printSectionError(w io.Writer, err error) {
	fmt.Fprintln(w, ErrorStyle.Render("✗ "+err.Error()))
}

// PrintTeardownReport prints what a teardown removed
func PrintTeardownReport(w io.Writer, r *topology.TeardownReport) {
	printHeading(w, "Teardown")
	lines := []struct {
		label string
		count int
	}{
		{"Instances", r.InstancesTerminated},
		{"Security groups", r.SecurityGroupsDeleted},
		{"Route tables", r.RouteTablesDeleted},
		{"Subnets", r.SubnetsDeleted},
		{"Gateways", r.InternetGatewaysDeleted},
		{"VPCs", r.VPCsDeleted},
	}
	for _, l := range lines {
		fmt.Fprintf(w, "%s %d\n", MutedStyle.Render(padRight(l.label+":", 17)), l.count)
	}
	if len(r.Misses) > 0 {
		fmt.Fprintf(w, "%s %s\n", MutedStyle.Render(padRight("Already gone:", 17)), PendingStyle.Render(strings.Join(r.Misses, ", ")))
	}
}

// PrintTopology prints the IDs of a freshly created topology
func PrintTopology(w io.Writer, t *topology.Topology) {
	printHeading(w, "Topology")
	rows := []struct{ label, id string }{
		{"Run", t.RunID},
		{"VPC", t.VPCID},
		{"Public subnet", t.PublicSubnetID},
		{"Private subnet", t.PrivateSubnetID},
		{"Gateway", t.InternetGatewayID},
		{"Bastion", t.BastionInstanceID},
		{"NAT", t.NATInstanceID},
		{"Private host", t.PrivateInstanceID},
		{"Public routes", t.PublicRouteTableID},
		{"Private routes", t.PrivateRouteTableID},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s\n", MutedStyle.Render(padRight(r.label+":", 17)), IDStyle.Render(formatOptional(r.id)))
	}
}
