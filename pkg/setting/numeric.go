package setting

import (
	"math"
	"strconv"
	"strings"
)

const (
	relTolerance = 1e-9
	absTolerance = 1e-12
)

// parseNumber accepts decimal literals only: ParseFloat would also take hex
// mantissas and underscore separators, which instruments reject.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "xX_pP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsNumber reports whether s is a finite floating point literal.
func IsNumber(s string) bool {
	_, ok := parseNumber(s)
	return ok
}

// ValuesClose reports whether a and b are numerically indistinguishable.
// It returns false if either string is not a number.
func ValuesClose(a, b string) bool {
	x, ok := parseNumber(a)
	if !ok {
		return false
	}
	y, ok := parseNumber(b)
	if !ok {
		return false
	}

	if x == y {
		return true
	}
	tol := relTolerance * math.Max(math.Abs(x), math.Abs(y))
	return math.Abs(x-y) <= math.Max(tol, absTolerance)
}
