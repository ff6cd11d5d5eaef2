package main

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ParseNumber converts form text the way a browser's Number() does:
// surrounding whitespace is ignored, blank text is 0, and anything that is
// not a decimal, exponent, 0x/0o/0b integer or Infinity literal is NaN.
// NaN compares false against everything, so it never passes an amount or
// PIN check.
func ParseNumber(text string) float64 {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0
	}

	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	if strings.ContainsRune(s, '_') {
		return math.NaN()
	}

	if len(s) > 2 && s[0] == '0' && strings.ContainsRune("xXoObB", rune(s[1])) {
		n, err := strconv.ParseUint(s, 0, 64)
		if errors.Is(err, strconv.ErrRange) {
			return parseBigRadix(s)
		}
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}

	// ParseFloat also accepts inf, nan and hex floats; Number() does not.
	if strings.ContainsAny(s, "iInNxXpP") {
		return math.NaN()
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return f
		}
		return math.NaN()
	}
	return f
}

// parseBigRadix rounds a prefixed integer too wide for uint64 to the nearest
// float64, or to +Inf past the float64 range.
func parseBigRadix(s string) float64 {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return math.NaN()
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}
