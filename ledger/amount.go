package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest value a numeric(14,2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// ParseAmount converts a decoded JSON value (or form string) into a donation
// amount. Anything that is not a finite number above zero with at most two
// decimal places is ErrInvalidAmount.
func ParseAmount(v any) (decimal.Decimal, error) {
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	return ValidateAmount(d)
}

// ValidateAmount checks d is a legal donation amount. The value is never
// rounded: sub-cent amounts are rejected.
func ValidateAmount(d decimal.Decimal) (decimal.Decimal, error) {
	d, err := wholeCents(d)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if d.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.String())
	}
	return d, nil
}

// ParseGoal is like ParseAmount but accepts zero; a goal <= 0 means the
// cause is unbounded.
func ParseGoal(v any) (decimal.Decimal, error) {
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	d, err = wholeCents(d)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: goal must not be negative", ErrInvalidAmount)
	}
	if d.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.String())
	}
	return d, nil
}

// wholeCents normalises d to two decimal places, failing when that would
// change its value. 1.500 is fine, 0.005 is not.
func wholeCents(d decimal.Decimal) (decimal.Decimal, error) {
	r := d.Round(2)
	if !r.Equal(d) {
		return decimal.Zero, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
	}
	return r, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("%w: not a finite number", ErrInvalidAmount)
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return parseDecimalString(x.String())
	case string:
		return parseDecimalString(x)
	case nil:
		return decimal.Zero, fmt.Errorf("%w: missing", ErrInvalidAmount)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

func parseDecimalString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return d, nil
}

// FormatAmount renders d with comma thousands separators, dropping the
// fraction when it is zero: 1000 -> "1,000", 1234.5 -> "1,234.50".
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	out := sign + formatGrouping(whole.String())
	if frac := d.Sub(whole); !frac.IsZero() {
		out += "." + strings.TrimPrefix(frac.StringFixed(2), "0.")
	}
	return out
}

// formatGrouping adds comma separators every 3 digits.
func formatGrouping(ds string) string {
	n := len(ds)
	if n <= 3 {
		return ds
	}
	var parts []string
	for n > 3 {
		parts = append([]string{ds[n-3:]}, parts...)
		ds = ds[:n-3]
		n = len(ds)
	}
	parts = append([]string{ds}, parts...)
	return strings.Join(parts, ",")
}
