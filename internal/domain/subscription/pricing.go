package subscription

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// BasePrice is the monthly manager plan in BRL.
	BasePrice = decimal.RequireFromString("59.90")
	// OperatorPrice is charged per operator seat, per month.
	OperatorPrice = decimal.RequireFromString("19.90")
)

const baseDescription = "Lead Flow - Plano Base"

// CalculateSubscriptionValue returns BASE_PRICE + OPERATOR_PRICE * operatorCount
// and the description sent to the gateway.
func CalculateSubscriptionValue(operatorCount int) (decimal.Decimal, string) {
	if operatorCount < 0 {
		operatorCount = 0
	}
	value := BasePrice.Add(OperatorPrice.Mul(decimal.NewFromInt(int64(operatorCount)))).Round(2)

	switch operatorCount {
	case 0:
		return value, baseDescription
	case 1:
		return value, baseDescription + " + 1 operador"
	default:
		return value, fmt.Sprintf("%s + %d operadores", baseDescription, operatorCount)
	}
}

// OperatorCountFromValue derives the seat count from a subscription value.
// ok is false when the value is not on the price grid.
func OperatorCountFromValue(value decimal.Decimal) (count int, ok bool) {
	extra := value.Round(2).Sub(BasePrice)
	if extra.IsNegative() {
		return 0, false
	}
	q, r := extra.QuoRem(OperatorPrice, 0)
	if !r.IsZero() {
		return 0, false
	}
	return int(q.IntPart()), true
}
