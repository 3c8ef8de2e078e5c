package snapshot

import (
	"strings"

	"github.com/shopspring/decimal"
)

func upperSymbol(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
