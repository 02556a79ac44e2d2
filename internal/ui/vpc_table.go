package ui

import (
	"fmt"
	"io"
	"strconv"

	pkgtypes "github.com/vietdv277/netlab/pkg/types"
)

var vpcColumns = []column{
	{"ID", 24},
	{"Name", 24},
	{"CIDR", 18},
	{"State", 12},
	{"Default", 8},
}

var subnetColumns = []column{
	{"ID", 26},
	{"Name", 20},
	{"VPC", 22},
	{"CIDR", 18},
	{"AZ", 14},
	{"IPs", 6},
	{"Public", 6},
}

// PrintVPCTable prints VPCs in a styled box table
func PrintVPCTable(w io.Writer, vpcs []pkgtypes.VPC) {
	rows := make([][]cell, 0, len(vpcs))
	for _, vpc := range vpcs {
		rows = append(rows, []cell{
			styled(vpc.ID, IDStyle),
			styled(formatOptional(vpc.Name), NameStyle),
			styled(vpc.CIDR, IPStyle),
			{text: formatState(vpc.State, vpcColumns[3].width), raw: true},
			styled(yesNo(vpc.IsDefault), MutedStyle),
		})
	}

	fmt.Fprint(w, renderTable(vpcColumns, rows))
	fmt.Fprintf(w, "  %d VPCs\n", len(vpcs))
}

// PrintSubnetTable prints subnets in a styled box table
func PrintSubnetTable(w io.Writer, subnets []pkgtypes.Subnet) {
	rows := make([][]cell, 0, len(subnets))
	for _, subnet := range subnets {
		rows = append(rows, []cell{
			styled(subnet.ID, IDStyle),
			styled(formatOptional(subnet.Name), NameStyle),
			styled(subnet.VPCID, MutedStyle),
			styled(subnet.CIDR, IPStyle),
			styled(subnet.AZ, AZStyle),
			styled(strconv.Itoa(subnet.AvailableIPs), MutedStyle),
			styled(yesNo(subnet.Public), MutedStyle),
		})
	}

	fmt.Fprint(w, renderTable(subnetColumns, rows))
	fmt.Fprintf(w, "  %d subnets\n", len(subnets))
}
