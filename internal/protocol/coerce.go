package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// coerceInt accepts a JSON number (fractions truncate toward zero) or a
// string holding a base-10 integer.
func coerceInt(raw json.RawMessage) (int, bool) {
	if isAbsent(raw) {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return clampInt(n), true
		}
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return clampInt(int64(f)), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return clampInt(n), true
	}
	return 0, false
}

// coerceIntOr is coerceInt with a default for a missing field. An explicit
// null is still an error.
func coerceIntOr(raw json.RawMessage, def int) (int, bool) {
	if len(raw) == 0 {
		return def, true
	}
	return coerceInt(raw)
}

// coerceText accepts strings, numbers and booleans. Missing and null read
// as the empty string.
func coerceText(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) {
		return "", true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func clampInt(n int64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	if n < math.MinInt {
		return math.MinInt
	}
	return int(n)
}
