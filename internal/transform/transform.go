// Package transform coerces the loosely typed values database drivers return
// (int32, int64, float64, string, []byte, pgtype.Numeric, ...) into the
// concrete types the range records need, and compares them for dedup.
package transform

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ToInt64 parses value as a whole number. Floats and numeric strings are
// accepted only if they carry no fractional part.
func ToInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > uint64(math.MaxInt64) {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > uint64(math.MaxInt64) {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case pgtype.Numeric:
		i, err := v.Int64Value()
		if err != nil || !i.Valid {
			return 0, false
		}
		return i.Int64, true
	case []byte:
		return ToInt64(string(v))
	case string:
		cleanV := strings.TrimSpace(v)
		if cleanV == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(cleanV, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(cleanV, 64); err == nil {
			return floatToInt64(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < float64(math.MinInt64) || f >= float64(math.MaxInt64) {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 parses value as a float. NaN and infinities are rejected.
func ToFloat64(value interface{}) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		f = float64(reflect.ValueOf(v).Int())
	case uint, uint8, uint16, uint32, uint64:
		f = float64(reflect.ValueOf(v).Uint())
	case float32:
		f = float64(v)
	case float64:
		f = v
	case pgtype.Numeric:
		f8, err := v.Float64Value()
		if err != nil || !f8.Valid {
			return 0, false
		}
		f = f8.Float64
	case []byte:
		return ToFloat64(string(v))
	case string:
		cleanV := strings.TrimSpace(v)
		if cleanV == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleanV, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToString returns value as trimmed text. nil yields ("", false).
func ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	case pgtype.Numeric:
		if f, ok := ToFloat64(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return "", false
	default:
		return ValueToStringForHash(v), true
	}
}

// ValueToStringForHash gives a canonical text form of v used to build
// composite dedup keys. nil maps to "<NIL>".
func ValueToStringForHash(v interface{}) string {
	if v == nil {
		return "<NIL>"
	}
	if n, ok := v.(pgtype.Numeric); ok {
		if f, ok := ToFloat64(n); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "<NaN>"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Struct:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return fmt.Sprintf("%#v", v)
	default:
		return fmt.Sprintf("%#v", v)
	}
}

// CompareValues orders two values. Numbers compare numerically across types;
// otherwise both values must share a type (string, time.Time or bool).
func CompareValues(a, b interface{}) (int, error) {
	if a == nil && b == nil {
		return 0, nil
	}
	if a == nil {
		return -1, nil
	}
	if b == nil {
		return 1, nil
	}

	aFloat, aIsNum := ToFloat64(a)
	bFloat, bIsNum := ToFloat64(b)
	_, aIsString := a.(string)
	_, bIsString := b.(string)
	if aIsNum && bIsNum && !(aIsString && bIsString) {
		switch {
		case aFloat < bFloat:
			return -1, nil
		case aFloat > bFloat:
			return 1, nil
		}
		return 0, nil
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return 0, fmt.Errorf("type mismatch: cannot compare %T with %T", a, b)
	}

	switch av := a.(type) {
	case string:
		return strings.Compare(av, b.(string)), nil
	case time.Time:
		return av.Compare(b.(time.Time)), nil
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0, nil
		case av:
			return 1, nil
		}
		return -1, nil
	}

	if reflect.DeepEqual(a, b) {
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported comparison ordering for type %T", a)
}
