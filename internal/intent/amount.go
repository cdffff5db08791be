package intent

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

// ParseAmount converts "35.50" or "35,50" into minor units, rounding half-up.
func ParseAmount(s string) (int64, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	if s == "" {
		return 0, apperrors.New(apperrors.KindValidation, "empty amount")
	}
	for _, r := range s {
		if !isDigit(r) && r != '.' {
			return 0, apperrors.New(apperrors.KindValidation, "malformed amount "+s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindValidation, "malformed amount "+s, err)
	}
	minor := d.Round(2).Shift(2)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, apperrors.New(apperrors.KindValidation, "amount out of range "+s)
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units with two decimals.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
