package aws

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Well-known tag keys
const (
	TagKeyName    = "Name"
	TagKeyProject = "Project"
	TagKeyRunID   = "netlab:run-id"

	tagDefaultProject = "netlab"
)

// tagSpecification builds the TagSpecifications for a new resource: its Name
// tag, the client's default tags, and the project tag.
func (c *Client) tagSpecification(rt ec2types.ResourceType, name string) []ec2types.TagSpecification {
	tags := []ec2types.Tag{{Key: aws.String(TagKeyName), Value: aws.String(name)}}
	tags = append(tags, c.defaultTags...)
	tags = append(tags, ec2types.Tag{Key: aws.String(TagKeyProject), Value: aws.String(tagDefaultProject)})
	return []ec2types.TagSpecification{
		{
			ResourceType: rt,
			Tags:         tags,
		},
	}
}

// toTags converts a map to EC2 tags in key order
func toTags(m map[string]string) []ec2types.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]ec2types.Tag, 0, len(m))
	for _, k := range keys {
		tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return tags
}

// tagValue extracts a tag's value, or "" when absent
func tagValue(tags []ec2types.Tag, key string) string {
	for _, tag := range tags {
		if deref(tag.Key) == key {
			return deref(tag.Value)
		}
	}
	return ""
}

func filter(name string, values ...string) ec2types.Filter {
	return ec2types.Filter{
		Name:   aws.String(name),
		Values: values,
	}
}

func nameFilter(names ...string) ec2types.Filter {
	return filter("tag:"+TagKeyName, names...)
}

func vpcFilter(vpcID string) ec2types.Filter {
	return filter("vpc-id", vpcID)
}

// deref safely dereferences a string pointer
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// derefBool safely dereferences a bool pointer
func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

// derefInt32 safely dereferences an int32 pointer
func derefInt32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
