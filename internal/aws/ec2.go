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
	ErrInstanceCreate      = errors.New("failed instance creation")
	ErrNoInstances         = errors.New("received no error in instance create, but no instances were returned")
	ErrInstanceTerminate   = errors.New("failed to terminate instances")
	ErrInstanceModify      = errors.New("failed to modify instance attribute")
	ErrInstanceDescribe    = errors.New("failed to describe instances")
	ErrMissingLaunchConfig = errors.New("image ID, instance type and subnet ID are required")
)

// Instance states used by netlab
const (
	InstanceStatePending      = string(ec2types.InstanceStateNamePending)
	InstanceStateRunning      = string(ec2types.InstanceStateNameRunning)
	InstanceStateStopping     = string(ec2types.InstanceStateNameStopping)
	InstanceStateStopped      = string(ec2types.InstanceStateNameStopped)
	InstanceStateShuttingDown = string(ec2types.InstanceStateNameShuttingDown)
	InstanceStateTerminated   = string(ec2types.InstanceStateNameTerminated)
)

// LiveInstanceStates are every state except terminated
var LiveInstanceStates = []string{
	InstanceStatePending,
	InstanceStateRunning,
	InstanceStateStopping,
	InstanceStateStopped,
	InstanceStateShuttingDown,
}

// ListInstanceInput contains parameters for listing EC2 instances
type ListInstanceInput struct {
	Names  []string // Name tag values
	VPCID  string
	States []string // empty means any state
}

// ListInstances returns the instances matching input
func (c *Client) ListInstances(ctx context.Context, input *ListInstanceInput) ([]pkgtypes.Instance, error) {
	if input == nil {
		input = &ListInstanceInput{}
	}

	// Build filters
	var filters []ec2types.Filter
	if len(input.States) > 0 {
		filters = append(filters, filter("instance-state-name", input.States...))
	}
	if len(input.Names) > 0 {
		filters = append(filters, nameFilter(input.Names...))
	}
	if input.VPCID != "" {
		filters = append(filters, vpcFilter(input.VPCID))
	}

	describeInput := &ec2.DescribeInstancesInput{}
	if len(filters) > 0 {
		describeInput.Filters = filters
	}

	var instances []pkgtypes.Instance
	paginator := ec2.NewDescribeInstancesPaginator(c.EC2, describeInput)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInstanceDescribe, err)
		}
		for _, reservation := range output.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}

	return instances, nil
}

// RunInstanceInput describes a single instance launch
type RunInstanceInput struct {
	Name             string
	ImageID          string
	InstanceType     string
	KeyName          string // optional
	SubnetID         string
	SecurityGroupIDs []string
	PublicIP         bool // associate a public IPv4 address
}

// RunInstance launches one tagged instance and returns its ID
func (c *Client) RunInstance(ctx context.Context, input RunInstanceInput) (string, error) {
	if input.ImageID == "" || input.InstanceType == "" || input.SubnetID == "" {
		return "", ErrMissingLaunchConfig
	}

	runInput := &ec2.RunInstancesInput{
		ImageId:      aws.String(input.ImageID),
		InstanceType: ec2types.InstanceType(input.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		NetworkInterfaces: []ec2types.InstanceNetworkInterfaceSpecification{
			{
				DeviceIndex:              aws.Int32(0),
				SubnetId:                 aws.String(input.SubnetID),
				Groups:                   input.SecurityGroupIDs,
				AssociatePublicIpAddress: aws.Bool(input.PublicIP),
				DeleteOnTermination:      aws.Bool(true),
			},
		},
		TagSpecifications: c.tagSpecification(ec2types.ResourceTypeInstance, input.Name),
	}
	if input.KeyName != "" {
		runInput.KeyName = aws.String(input.KeyName)
	}

	result, err := c.EC2.RunInstances(ctx, runInput)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}
	if len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return "", ErrNoInstances
	}
	return *result.Instances[0].InstanceId, nil
}

// WaitInstanceState blocks until the instance reaches state. An instance that
// can no longer be described counts as terminated.
func (c *Client) WaitInstanceState(ctx context.Context, instanceID, state string) error {
	return c.waitFor(ctx, "instance", instanceID, state, func(ctx context.Context) (string, error) {
		output, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			if IsNotFound(err) && state == InstanceStateTerminated {
				return InstanceStateTerminated, nil
			}
			return "", err
		}
		for _, reservation := range output.Reservations {
			for _, inst := range reservation.Instances {
				if inst.State != nil {
					return string(inst.State.Name), nil
				}
			}
		}
		if state == InstanceStateTerminated {
			return InstanceStateTerminated, nil
		}
		return "", nil
	})
}

// TerminateInstances requests termination of the given instances
func (c *Client) TerminateInstances(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	_, err := c.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: instanceIDs,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceTerminate, err)
	}
	return nil
}

// DisableSourceDestCheck lets an instance forward traffic it is not the
// source or destination of. Required for NAT instances.
func (c *Client) DisableSourceDestCheck(ctx context.Context, instanceID string) error {
	_, err := c.EC2.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:      aws.String(instanceID),
		SourceDestCheck: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceModify, err)
	}
	return nil
}

// toInstance converts an EC2 Instance to our Instance type
func toInstance(i ec2types.Instance) pkgtypes.Instance {
	inst := pkgtypes.Instance{
		ID:              deref(i.InstanceId),
		Name:            tagValue(i.Tags, TagKeyName),
		PrivateIP:       deref(i.PrivateIpAddress),
		PublicIP:        deref(i.PublicIpAddress),
		Type:            string(i.InstanceType),
		ImageID:         deref(i.ImageId),
		VPCID:           deref(i.VpcId),
		SubnetID:        deref(i.SubnetId),
		SourceDestCheck: derefBool(i.SourceDestCheck),
	}

	if i.State != nil {
		inst.State = string(i.State.Name)
	}

	if i.Placement != nil {
		inst.AZ = deref(i.Placement.AvailabilityZone)
	}

	if i.LaunchTime != nil {
		inst.LaunchTime = *i.LaunchTime
	}

	for _, sg := range i.SecurityGroups {
		inst.SecurityGroupIDs = append(inst.SecurityGroupIDs, deref(sg.GroupId))
	}

	return inst
}
