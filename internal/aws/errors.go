package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// Well-known EC2 error codes
const (
	CodeDependencyViolation = "DependencyViolation"
	CodeGatewayNotAttached  = "Gateway.NotAttached"
)

// ErrorCode returns the provider error code carried by err, if any
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether err is a provider "resource does not exist"
// error, e.g. InvalidVpcID.NotFound or InvalidGroup.NotFound.
func IsNotFound(err error) bool {
	return strings.HasSuffix(ErrorCode(err), "NotFound")
}

// IsDependencyViolation reports whether a delete failed because another
// resource still depends on the target.
func IsDependencyViolation(err error) bool {
	return ErrorCode(err) == CodeDependencyViolation
}
