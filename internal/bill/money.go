package bill

import "github.com/shopspring/decimal"

// FormatMoney renders an amount in dollars. This is the only place amounts are rounded.
func FormatMoney(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
