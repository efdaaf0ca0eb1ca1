package search

import (
	"fmt"
	"strings"
)

// MetadataTimeFormat renders timestamps in filterable metadata with
// fixed-width nanoseconds, so lexical comparison matches chronological
// order.
const MetadataTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// FilterOp is a post-fetch metadata filter operator.
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterIn  FilterOp = "in"
	FilterGte FilterOp = "gte"
	FilterLte FilterOp = "lte"
)

// Filter is one metadata condition. A document missing the key fails the
// filter.
type Filter struct {
	Key    string        `json:"key"`
	Op     FilterOp      `json:"op"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// Validate checks the filter shape.
func (f *Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("filter key cannot be empty")
	}
	switch f.Op {
	case FilterEq, FilterGte, FilterLte:
		if f.Value == nil {
			return fmt.Errorf("filter %s on %q requires a value", f.Op, f.Key)
		}
	case FilterIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter in on %q requires values", f.Key)
		}
	default:
		return fmt.Errorf("unknown filter op: %s", f.Op)
	}
	return nil
}

// Matches evaluates the filter against a metadata map.
func (f *Filter) Matches(metadata map[string]interface{}) bool {
	value, ok := metadata[f.Key]
	if !ok {
		return false
	}
	switch f.Op {
	case FilterEq:
		return comparableValues(value, f.Value) && compareValues(value, f.Value) == 0
	case FilterIn:
		for _, candidate := range f.Values {
			if comparableValues(value, candidate) && compareValues(value, candidate) == 0 {
				return true
			}
		}
		return false
	case FilterGte:
		return comparableValues(value, f.Value) && compareValues(value, f.Value) >= 0
	case FilterLte:
		return comparableValues(value, f.Value) && compareValues(value, f.Value) <= 0
	}
	return false
}

// ApplyFilters keeps only documents whose metadata passes every filter.
func ApplyFilters(metadata map[string]interface{}, filters []Filter) bool {
	for i := range filters {
		if !filters[i].Matches(metadata) {
			return false
		}
	}
	return true
}

// comparableValues reports whether both values reduce to the same comparison
// domain (number, string, or boolean).
func comparableValues(a, b interface{}) bool {
	_, aNum := toNumber(a)
	_, bNum := toNumber(b)
	if aNum && bNum {
		return true
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr && bStr {
		return true
	}
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	return aBool && bBool
}

// compareValues orders two values: -1, 0, or 1. Numbers compare numerically,
// strings lexically, booleans as false < true.
func compareValues(a, b interface{}) int {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}
	return -1
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
