package codec

import "math"

// coerceInt converts any Go numeric value, including float64 from JSON, to an
// int64 within [lo, hi].
func coerceInt(value any, lo, hi int64) (int64, bool) {
	var v int64
	switch x := value.(type) {
	case int:
		v = int64(x)
	case int8:
		v = int64(x)
	case int16:
		v = int64(x)
	case int32:
		v = int64(x)
	case int64:
		v = x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		v = int64(x)
	case uint8:
		v = int64(x)
	case uint16:
		v = int64(x)
	case uint32:
		v = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		v = int64(x)
	case float32:
		return coerceInt(float64(x), lo, hi)
	case float64:
		if x < float64(math.MinInt64) || x >= float64(math.MaxInt64) || x != math.Trunc(x) {
			return 0, false
		}
		v = int64(x)
	default:
		return 0, false
	}
	if v < lo || v > hi {
		return 0, false
	}
	return v, true
}

// coerceUint converts any Go numeric value to a uint64 no greater than hi.
func coerceUint(value any, hi uint64) (uint64, bool) {
	var v uint64
	switch x := value.(type) {
	case uint:
		v = uint64(x)
	case uint8:
		v = uint64(x)
	case uint16:
		v = uint64(x)
	case uint32:
		v = uint64(x)
	case uint64:
		v = x
	case int, int8, int16, int32, int64:
		i, ok := coerceInt(x, 0, math.MaxInt64)
		if !ok {
			return 0, false
		}
		v = uint64(i)
	case float32:
		return coerceUint(float64(x), hi)
	case float64:
		// float64(MaxUint64) rounds up to 2^64
		if x < 0 || x >= float64(math.MaxUint64) || x != math.Trunc(x) {
			return 0, false
		}
		v = uint64(x)
	default:
		return 0, false
	}
	if v > hi {
		return 0, false
	}
	return v, true
}

// coerceFloat converts any Go numeric value to float64.
func coerceFloat(value any) (float64, bool) {
	switch x := value.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if i, ok := coerceInt(value, math.MinInt64, math.MaxInt64); ok {
		return float64(i), true
	}
	if u, ok := coerceUint(value, math.MaxUint64); ok {
		return float64(u), true
	}
	return 0, false
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
