package check

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validatable types report their own problems. Nil entries of the result are ignored.
type Validatable interface {
	Validate() []error
}

// Validate checks v and every value reachable from it through pointers, struct fields, slices
// and map values. All problems are returned together, each prefixed with where it was found.
func Validate(v interface{}) error {
	var problems *multierror.Error
	walk(reflect.ValueOf(v), "config", func(err error) {
		problems = multierror.Append(problems, err)
	})
	if problems == nil {
		return nil
	}
	problems.ErrorFormat = formatProblems
	return problems
}

func formatProblems(errs []error) string {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, err.Error())
	}
	sort.Strings(lines)
	if len(lines) == 1 {
		return "invalid configuration: " + lines[0]
	}
	return fmt.Sprintf("invalid configuration, %d problems found:\n\t%s",
		len(errs), strings.Join(lines, "\n\t"))
}

func walk(v reflect.Value, at string, report func(error)) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			walk(v.Elem(), at, report)
		}
		return
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanInterface() {
				walk(v.Field(i), at+"."+v.Type().Field(i).Name, report)
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), fmt.Sprintf("%s[%d]", at, i), report)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			walk(v.MapIndex(key), fmt.Sprintf("%s[%v]", at, key.Interface()), report)
		}
	}

	// An addressable copy finds Validate on pointer receivers too.
	addr := reflect.New(v.Type())
	addr.Elem().Set(v)
	validatable, ok := addr.Interface().(Validatable)
	if !ok {
		return
	}
	for _, err := range validatable.Validate() {
		if err != nil {
			report(errors.Wrap(err, at))
		}
	}
}
