package types

import (
	"errors"
	"math"
	"reflect"
	"sort"
)

// Values is a set of column values for one row, keyed by column name.
type Values map[string]any

// Value errors.
var ErrInvalidValues = errors.New("invalid values")

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys returns the column names in sorted order so generated SQL is stable.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ID returns the IDColumn value when it is present and integral.
func (v Values) ID() (int64, bool) {
	raw, ok := v[IDColumn]
	if !ok || raw == nil {
		return 0, false
	}
	return AsInt64(raw)
}

// AsInt64 converts the integral kinds produced by Go callers, database
// drivers and JSON decoders to int64. Unsigned values above math.MaxInt64
// and floats with a fractional part are rejected. JSON number literals
// (json.Number) are accepted when they hold an integer.
func AsInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return floatToInt64(n)
	case numberLiteral:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

// numberLiteral is satisfied by json.Number and the number types of the
// JSON codecs.
type numberLiteral interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// AsFloat64 returns the value of a JSON number literal.
func AsFloat64(raw any) (float64, bool) {
	n, ok := raw.(numberLiteral)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
