// Package pricing loads the per-instance-type price table used to cost a running cluster.
package pricing

import (
	"os"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMissingPrice is returned when an instance type has no entry in the table.
var ErrMissingPrice = errors.New("no price for instance type")

// Table maps an instance type identifier to its hourly price. A Table is loaded once and must
// not be modified afterwards.
type Table map[string]decimal.Decimal

// Load reads a YAML price file of the form `<instance-type>: <price>`.
func Load(path string) (Table, error) {
	bs, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "error reading price file %s", path)
	}
	table, err := Parse(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing price file %s", path)
	}
	return table, nil
}

// Parse decodes a YAML price table. Every entry needs a non-negative price; an empty value is
// an error rather than a free instance type.
func Parse(bs []byte) (Table, error) {
	var raw map[string]*decimal.Decimal
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("price table is empty")
	}
	table := make(Table, len(raw))
	for instanceType, price := range raw {
		switch {
		case strings.TrimSpace(instanceType) == "":
			return nil, errors.New("price table contains an empty instance type")
		case price == nil:
			return nil, errors.Errorf("no price given for instance type %s", instanceType)
		case price.IsNegative():
			return nil, errors.Errorf("negative price %s for instance type %s", price, instanceType)
		}
		table[instanceType] = *price
	}
	return table, nil
}

// Price returns the hourly price of the instance type.
func (t Table) Price(instanceType string) (decimal.Decimal, error) {
	price, ok := t[instanceType]
	if !ok {
		return decimal.Zero, errors.Wrapf(ErrMissingPrice, "%q", instanceType)
	}
	return price, nil
}

// InstanceTypes returns the priced instance types in sorted order.
func (t Table) InstanceTypes() []string {
	types := make([]string, 0, len(t))
	for instanceType := range t {
		types = append(types, instanceType)
	}
	sort.Strings(types)
	return types
}
