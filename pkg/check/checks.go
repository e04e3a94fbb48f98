// Package check provides assertion-style validation helpers. Each helper
// returns nil on success and an error built from msgAndArgs on failure, so
// callers can collect the results of many checks into one validation error.
package check

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

func check(condition bool, msgAndArgs []interface{}, internalMsg string, args ...interface{}) error {
	if condition {
		return nil
	}
	internal := errors.New(fmt.Sprintf(internalMsg, args...))
	msg := messageFromMsgAndArgs(msgAndArgs...)
	if msg == "" {
		return internal
	}
	return errors.Wrap(internal, msg)
}

func messageFromMsgAndArgs(msgAndArgs ...interface{}) string {
	switch {
	case len(msgAndArgs) == 1:
		if msg, ok := msgAndArgs[0].(string); ok {
			return msg
		}
		return fmt.Sprintf("%+v", msgAndArgs[0])
	case len(msgAndArgs) > 1:
		return fmt.Sprintf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	default:
		return ""
	}
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// False checks whether the condition is false.
func False(condition bool, msgAndArgs ...interface{}) error {
	return check(!condition, msgAndArgs, "expected false, got true")
}

// NotEmpty checks whether the string is non-empty.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(len(actual) > 0, msgAndArgs, "%s must be non-empty", actual)
}

// In checks whether the actual value is contained in the expected list.
func In(actual string, expected []string, msgAndArgs ...interface{}) error {
	for _, value := range expected {
		if value == actual {
			return nil
		}
	}
	return check(false, msgAndArgs, "%s not in %v", actual, expected)
}

// GreaterThan checks whether the first argument is greater than the second.
func GreaterThan(actual, expected int64, msgAndArgs ...interface{}) error {
	return check(actual > expected, msgAndArgs, "%d is not greater than %d", actual, expected)
}

// GreaterThanOrEqualTo checks whether the first argument is greater than or
// equal to the second.
func GreaterThanOrEqualTo(actual, expected int64, msgAndArgs ...interface{}) error {
	return check(actual >= expected, msgAndArgs, "%d is not greater than or equal to %d",
		actual, expected)
}

// LessThanOrEqualTo checks whether the first argument is less than or equal
// to the second.
func LessThanOrEqualTo(actual, expected int64, msgAndArgs ...interface{}) error {
	return check(actual <= expected, msgAndArgs, "%d is not less than or equal to %d",
		actual, expected)
}

// BetweenInclusive checks whether the actual value is in [minimum, maximum].
func BetweenInclusive(actual, minimum, maximum float64, msgAndArgs ...interface{}) error {
	return check(minimum <= actual && actual <= maximum, msgAndArgs,
		"%v is not between %v and %v", actual, minimum, maximum)
}

// Match checks whether the actual value matches the expected regular
// expression.
func Match(actual string, expected *regexp.Regexp, msgAndArgs ...interface{}) error {
	return check(expected.MatchString(actual), msgAndArgs,
		"%s does not match %s", actual, expected.String())
}
