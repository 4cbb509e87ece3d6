package check

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

func check(ok bool, msgAndArgs []interface{}, format string, args ...interface{}) error {
	if ok {
		return nil
	}
	detail := fmt.Sprintf(format, args...)
	if msg := message(msgAndArgs...); msg != "" {
		return fmt.Errorf("%s: %s", msg, detail)
	}
	return fmt.Errorf("%s", detail)
}

func message(msgAndArgs ...interface{}) string {
	switch {
	case len(msgAndArgs) == 1:
		return fmt.Sprintf("%+v", msgAndArgs[0])
	case len(msgAndArgs) > 1:
		if format, ok := msgAndArgs[0].(string); ok {
			return fmt.Sprintf(format, msgAndArgs[1:]...)
		}
		return fmt.Sprint(msgAndArgs...)
	default:
		return ""
	}
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// NotEmpty checks whether the string is non-empty after trimming whitespace.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(strings.TrimSpace(actual) != "", msgAndArgs, "expected a non-empty value")
}

// GreaterThan checks whether actual is strictly greater than expected.
func GreaterThan[T constraints.Ordered](actual, expected T, msgAndArgs ...interface{}) error {
	return check(actual > expected, msgAndArgs, "%v is not greater than %v", actual, expected)
}

// GreaterThanOrEqualTo checks whether actual is greater than or equal to expected.
func GreaterThanOrEqualTo[T constraints.Ordered](
	actual, expected T, msgAndArgs ...interface{},
) error {
	return check(actual >= expected, msgAndArgs,
		"%v is not greater than or equal to %v", actual, expected)
}

// In checks whether actual is one of the allowed values.
func In(actual string, allowed []string, msgAndArgs ...interface{}) error {
	for _, value := range allowed {
		if value == actual {
			return nil
		}
	}
	return check(false, msgAndArgs, "%q not in %v", actual, allowed)
}
