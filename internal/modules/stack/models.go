// Package stack implements the capital stack allocator: given a project's
// total development cost and a set of candidate funding instruments, it
// produces a fully-funded stack at approximately minimal blended cost while
// honoring share caps, loan-to-cost, DSCR, and minimum-equity covenants.
package stack

// Instrument kind categories
const (
	KindDebt   = "debt"
	KindMezz   = "mezz"
	KindPref   = "pref"
	KindEquity = "equity"
)

// ValidKind reports whether kind is one of the recognized instrument categories.
func ValidKind(kind string) bool {
	switch kind {
	case KindDebt, KindMezz, KindPref, KindEquity:
		return true
	}
	return false
}

// Project is one funding request. All monetary fields are absolute currency,
// all ratio fields are decimals (0.65 = 65%).
type Project struct {
	Name      string  `json:"name"`
	Location  string  `json:"location,omitempty"`
	TDC       float64 `json:"tdc"`        // Total development cost, > 0
	NOI       float64 `json:"noi"`        // Stabilized annual net operating income, >= 0
	MinDSCR   float64 `json:"min_dscr"`   // DSCR covenant floor, > 0
	MaxLTC    float64 `json:"max_ltc"`    // Cap on debt as fraction of TDC
	MinEquity float64 `json:"min_equity"` // Floor on equity as fraction of TDC
}

// CapitalOption is one candidate funding instrument.
type CapitalOption struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`        // debt, mezz, pref, equity
	AnnualCost float64  `json:"annual_cost"` // Decimal rate, > 0
	Points     float64  `json:"points"`      // One-time origination cost, decimal of principal
	MinShare   float64  `json:"min_share"`   // Minimum fraction of TDC
	MaxShare   float64  `json:"max_share"`   // Maximum fraction of TDC
	MaxLTC     *float64 `json:"max_ltc,omitempty"` // Per-instrument debt ceiling (debt/mezz only)
	// EnforceDSCR marks this instrument's debt service as counting toward
	// the project's DSCR covenant.
	EnforceDSCR bool `json:"enforce_dscr"`
}

// effectiveCost is the rate used for cheapest-first ranking. Points are
// treated as a one-year cost on top of the annual rate; this is a deliberate
// simplification (no time-value amortization) and points never enter the
// reported WACC or the correction passes.
func (o CapitalOption) effectiveCost() float64 {
	return o.AnnualCost + o.Points
}

// IsDebtLike reports whether the instrument counts toward loan-to-cost.
func (o CapitalOption) IsDebtLike() bool {
	return o.Kind == KindDebt || o.Kind == KindMezz
}

// StackSlice is one finalized aggregated allocation within the funded stack.
type StackSlice struct {
	OptionName string  `json:"option_name"`
	Kind       string  `json:"kind"`
	Amount     float64 `json:"amount"`
	Share      float64 `json:"share"` // Amount / TDC
	AnnualCost float64 `json:"annual_cost"`
}

// CapitalStack is the allocator's output: the funded stack and its blended
// annual cost of capital.
type CapitalStack struct {
	ProjectName string       `json:"project_name"`
	TDC         float64      `json:"tdc"`
	WACC        float64      `json:"wacc"`
	Slices      []StackSlice `json:"slices"`
	Notes       string       `json:"notes,omitempty"`
}

// TotalAmount returns the sum of all slice amounts.
func (cs *CapitalStack) TotalAmount() float64 {
	total := 0.0
	for _, s := range cs.Slices {
		total += s.Amount
	}
	return total
}

// DebtAmount returns the total principal of debt and mezz slices.
func (cs *CapitalStack) DebtAmount() float64 {
	total := 0.0
	for _, s := range cs.Slices {
		if s.Kind == KindDebt || s.Kind == KindMezz {
			total += s.Amount
		}
	}
	return total
}
