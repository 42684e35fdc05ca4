package game

import (
	"fmt"
	"strconv"
)

// FormatPrice renders a USD price with precision scaled to its magnitude so
// sub-cent coins stay readable.
func FormatPrice(p float64) string {
	var prec int
	switch {
	case p >= 1:
		prec = 2
	case p >= 0.01:
		prec = 4
	case p >= 0.0001:
		prec = 6
	default:
		prec = 8
	}
	return "$" + strconv.FormatFloat(p, 'f', prec, 64)
}

// FormatChange renders a signed percentage, e.g. "+1.2500%".
func FormatChange(pct float64) string {
	return fmt.Sprintf("%+.4f%%", pct)
}
