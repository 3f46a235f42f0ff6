package view

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// RoundHalfUp rounds to the nearest integer with ties going towards
// positive infinity (-2.5 rounds to -2, 2.5 to 3).
func RoundHalfUp(v float64) float64 {
	r := math.Floor(v)
	if v-r >= 0.5 {
		r++
	}
	return r
}

// FormatWhole renders v rounded half-up with no decimals
func FormatWhole(v float64) string {
	r := RoundHalfUp(v)
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', 0, 64)
}

// FormatFixed renders v with the given number of decimals. Exact binary
// ties round away from zero (2.25 becomes "2.3"); strconv alone would
// round them to even.
func FormatFixed(v float64, digits int) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if _, frac, ok := strings.Cut(s, "."); ok && len(frac) == digits+1 && frac[digits] == '5' {
		if r, ok := new(big.Rat).SetString(s); ok {
			if _, exact := r.Float64(); exact {
				v = math.Nextafter(v, math.Copysign(math.Inf(1), v))
			}
		}
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// FormatNumber renders v the shortest way that round-trips, so integral
// values print without decimals.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
