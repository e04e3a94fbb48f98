package cloud

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/pkg/errors"
)

// ErrCode unwraps the platform error code, or "" for non-platform errors.
func ErrCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

// IsCode reports whether the error carries one of the given platform error
// codes.
func IsCode(err error, codes ...string) bool {
	got := ErrCode(err)
	if got == "" {
		return false
	}
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}

var transientCodes = map[string]bool{
	"Throttling":                     true,
	"ThrottlingException":            true,
	"TooManyRequestsException":       true,
	"RequestLimitExceeded":           true,
	"RequestThrottled":               true,
	"ServiceUnavailable":             true,
	"InternalFailure":                true,
	request.ErrCodeRequestError:      true,
	request.ErrCodeResponseTimeout:   true,
}

// IsTransient reports whether the error is worth retrying: throttling and
// service availability faults. Anything that is not a platform error is
// treated as fatal.
func IsTransient(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	return transientCodes[aerr.Code()] || request.IsErrorThrottle(aerr)
}

// IsNotFound reports whether the error means the requested resource does not
// exist. The infrastructure service reports missing stacks as a validation
// error with a "does not exist" message, and the ML platform reports missing
// endpoints as a validation exception with a "Could not find" message, rather
// than a dedicated code.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, "ResourceNotFoundException", "ResourceNotFound", "NotFoundException", "NoSuchEntity") {
		return true
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case "ValidationError":
		return strings.Contains(aerr.Message(), "does not exist")
	case "ValidationException":
		return strings.Contains(aerr.Message(), "Could not find")
	}
	return false
}
