package scoring

import "github.com/shopspring/decimal"

// Employer/employee shares of an employee's net weighted score
var (
	employerShare = decimal.RequireFromString("0.4")
	employeeShare = decimal.RequireFromString("0.6")
)

// NetWeightedScore blends an employee's own composite with their employer's:
// employer × 0.4 + employee × 0.6. An employer that has never been scored
// counts as DefaultFactorScore.
func NetWeightedScore(employeeComposite float64, employerComposite *float64) float64 {
	employer := DefaultFactorScore
	if employerComposite != nil {
		employer = *employerComposite
	}

	net := decimal.NewFromFloat(employer).Mul(employerShare).
		Add(decimal.NewFromFloat(employeeComposite).Mul(employeeShare))
	return net.InexactFloat64()
}
