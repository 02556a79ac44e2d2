package types

// RouteTable represents a VPC route table
type RouteTable struct {
	ID           string
	Name         string
	VPCID        string
	Main         bool
	Routes       []Route
	Associations []RouteTableAssociation
}

// Route is a single route table entry. Exactly one target field is set.
type Route struct {
	DestinationCIDR string
	GatewayID       string
	InstanceID      string
}

// RouteTableAssociation links a route table to a subnet
type RouteTableAssociation struct {
	ID       string
	SubnetID string
	Main     bool
}

// DefaultRouteCIDR is the IPv4 default route destination.
const DefaultRouteCIDR = "0.0.0.0/0"

// DefaultRoute returns the table's default route, if any.
func (rt RouteTable) DefaultRoute() (Route, bool) {
	for _, r := range rt.Routes {
		if r.DestinationCIDR == DefaultRouteCIDR {
			return r, true
		}
	}
	return Route{}, false
}
