package stack

import "math"

// DSCR computes the debt service coverage ratio: NOI divided by annual debt
// service. A project with no debt service has nothing to cover, so the ratio
// is positive infinity and any covenant is trivially satisfied.
func DSCR(noi, annualDebtService float64) float64 {
	if annualDebtService == 0 {
		return math.Inf(1)
	}
	return noi / annualDebtService
}
