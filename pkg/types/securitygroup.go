package types

// SecurityGroup represents a VPC security group
type SecurityGroup struct {
	ID          string
	Name        string
	Description string
	VPCID       string
	Ingress     []IngressRule
}

// IngressRule is a single inbound permission. Exactly one of SourceCIDR and
// SourceGroupID is set.
type IngressRule struct {
	Protocol      string // "tcp", "udp", "icmp" or "-1" for all
	FromPort      int32
	ToPort        int32
	SourceCIDR    string
	SourceGroupID string
	Description   string
}

// AllProtocols is the protocol value AWS uses for "all traffic".
const AllProtocols = "-1"
