package schema

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// KeyString converts a typed cell value to a canonical string form suitable
// for distinct counting and cross-table value overlap (e.g. "8429529" or
// "Germany").
//
// Integers and integral floats encode identically so that an Integer key in
// one table matches a Float column holding the same numbers in another.
// nil encodes as "" and callers are expected to skip nulls before calling.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return ""
	}
}
