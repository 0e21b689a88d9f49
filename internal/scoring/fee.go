package scoring

import (
	"github.com/shopspring/decimal"
)

// Fee policy: a 3.5% base plus up to 3% for the riskiest score
var (
	baseFee        = decimal.RequireFromString("3.5")
	riskAdjustment = decimal.RequireFromString("3.0")
	maxScore       = decimal.NewFromInt(5)
	hundred        = decimal.NewFromInt(100)
)

// FeePercentage derives the advance fee from a final score:
// 3.5 + 3.0 × (1 − score/5). A score of 4.8 means 4.8%, not 0.048.
func FeePercentage(score float64) (float64, error) {
	if err := checkScore(score); err != nil {
		return 0, err
	}

	ratio := decimal.NewFromFloat(score).Div(maxScore)
	fee := baseFee.Add(riskAdjustment.Mul(decimal.NewFromInt(1).Sub(ratio)))
	return fee.InexactFloat64(), nil
}

// AdvanceFee applies a fee percentage to an advance amount and returns the
// fee and the amount actually disbursed, both rounded to cents.
func AdvanceFee(amount decimal.Decimal, feePercentage float64) (fee, net decimal.Decimal) {
	fee = amount.Mul(decimal.NewFromFloat(feePercentage)).Div(hundred).Round(2)
	net = amount.Sub(fee)
	return fee, net
}
