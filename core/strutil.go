package core

func appendUint(dst []byte, n uint64) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	pos := len(tmp)
	for n > 0 {
		pos--
		tmp[pos] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, tmp[pos:]...)
}

func appendInt(dst []byte, n int64) []byte {
	if n < 0 {
		dst = append(dst, '-')
		return appendUint(dst, uint64(-n))
	}
	return appendUint(dst, uint64(n))
}

// appendFloat writes v with three decimals. Magnitudes of 1e15 and more
// are written as "inf".
func appendFloat(dst []byte, v float64) []byte {
	if v != v {
		return append(dst, "nan"...)
	}
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	if v >= 1e15 {
		return append(dst, "inf"...)
	}
	milli := uint64(v*1000 + 0.5)
	dst = appendUint(dst, milli/1000)
	frac := milli % 1000
	return append(dst, '.', byte('0'+frac/100), byte('0'+frac/10%10), byte('0'+frac%10))
}

// appendValue formats the types the firmware logs.
func appendValue(dst []byte, v any) []byte {
	switch val := v.(type) {
	case string:
		return append(dst, val...)
	case []byte:
		return append(dst, val...)
	case int:
		return appendInt(dst, int64(val))
	case int8:
		return appendInt(dst, int64(val))
	case int16:
		return appendInt(dst, int64(val))
	case int32:
		return appendInt(dst, int64(val))
	case int64:
		return appendInt(dst, val)
	case uint:
		return appendUint(dst, uint64(val))
	case uint8:
		return appendUint(dst, uint64(val))
	case uint16:
		return appendUint(dst, uint64(val))
	case uint32:
		return appendUint(dst, uint64(val))
	case uint64:
		return appendUint(dst, val)
	case float32:
		return appendFloat(dst, float64(val))
	case float64:
		return appendFloat(dst, val)
	case bool:
		if val {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case interface{ String() string }:
		return append(dst, val.String()...)
	case error:
		return append(dst, val.Error()...)
	default:
		return append(dst, '?')
	}
}
