package k648x

import (
	"strconv"
	"strings"
)

// The instrument decorates numbers (e.g. "+1.234567E-09A" carries a unit
// suffix), so responses are decoded by their longest numeric prefix, the
// way the C library's atof/atoi treat them. Garbage decodes to zero.

// atof parses the leading decimal floating-point number in s.
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t")
	end := floatPrefix(s)
	if end == 0 {
		return 0
	}
	// On overflow ParseFloat still yields ±Inf (or 0), as strtod does.
	v, _ := strconv.ParseFloat(s[:end], 64)
	return v
}

// atoi parses the leading decimal integer in s.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}

// floatPrefix returns the length of the longest prefix of s that is a
// valid decimal float: [sign] digits [. digits] [(e|E) [sign] digits].
func floatPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	mant := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		mant++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			mant++
		}
	}
	if mant == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
