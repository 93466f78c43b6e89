package workflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// ConditionType is the kind of comparison a guard performs
type ConditionType string

const (
	ConditionEquals      ConditionType = "equals"
	ConditionNotEquals   ConditionType = "not_equals"
	ConditionGreaterThan ConditionType = "greater_than"
	ConditionLessThan    ConditionType = "less_than"
	ConditionContains    ConditionType = "contains"
	ConditionInArray     ConditionType = "in_array"
	ConditionRegex       ConditionType = "regex"
	// ConditionCustom is reserved for tenant-supplied logic and never passes
	ConditionCustom ConditionType = "custom"
)

// IsValid returns true if the condition type is one of the known kinds
func (c ConditionType) IsValid() bool {
	switch c {
	case ConditionEquals, ConditionNotEquals, ConditionGreaterThan, ConditionLessThan,
		ConditionContains, ConditionInArray, ConditionRegex, ConditionCustom:
		return true
	default:
		return false
	}
}

// String returns the string representation of the condition type
func (c ConditionType) String() string {
	return string(c)
}

// Evaluate checks value against expected using the given condition.
// It never panics; unknown or unsupported combinations evaluate to false.
//
// Equality is loose: two operands that both read as numbers (Go numeric kinds
// or plain decimal strings such as "12.5" and "1e3"; NaN, Inf and hex text
// are not numbers) compare numerically, two bools
// compare as bools, nil equals only nil, everything else compares by its
// fmt.Sprint text.
func Evaluate(condition ConditionType, value, expected interface{}) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()

	switch condition {
	case ConditionEquals:
		return looseEquals(value, expected)
	case ConditionNotEquals:
		return !looseEquals(value, expected)
	case ConditionGreaterThan:
		a, okA := toNumber(value)
		b, okB := toNumber(expected)
		return okA && okB && a > b
	case ConditionLessThan:
		a, okA := toNumber(value)
		b, okB := toNumber(expected)
		return okA && okB && a < b
	case ConditionContains:
		s, ok := value.(string)
		if !ok {
			return false
		}
		sub, ok := scalarText(expected)
		return ok && strings.Contains(s, sub)
	case ConditionInArray:
		return inArray(value, expected)
	case ConditionRegex:
		s, ok := value.(string)
		if !ok {
			return false
		}
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case ConditionCustom:
		return false
	default:
		return false
	}
}

func looseEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func inArray(value, expected interface{}) bool {
	if expected == nil {
		return false
	}
	rv := reflect.ValueOf(expected)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseEquals(value, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// decimalNumber is the string form accepted as a number: plain decimal with an
// optional exponent. NaN, Inf and hex forms stay strings.
var decimalNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// toNumber reads v as a float64 when it is a numeric kind or a decimal string
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case string:
		n = strings.TrimSpace(n)
		if !decimalNumber.MatchString(n) {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func scalarText(v interface{}) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}
