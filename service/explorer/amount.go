package explorer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+`)

// ParseAmount returns the first decimal number in text, ignoring thousands
// separators. It returns nil when there is none or it is not finite.
func ParseAmount(text string) *float64 {
	if text == "" {
		return nil
	}
	tok := numberRe.FindString(strings.ReplaceAll(text, ",", ""))
	if tok == "" {
		return nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
