package stack

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Tolerance below which an amount is treated as zero
const amountTolerance = 1e-6

// allocation is one (option, amount) ledger entry. The same option may
// appear in multiple entries across passes; entries are aggregated at the
// end. Corrections address entries by index, never by value matching.
type allocation struct {
	opt    CapitalOption
	amount float64
}

// Allocator produces funded capital stacks. It holds no state across calls;
// every invocation operates on its own ledger, so concurrent use is safe.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates a new allocator
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{
		log: log.With().Str("component", "allocator").Logger(),
	}
}

// Optimize allocates project.TDC across the candidate options and returns
// the funded stack with its blended annual cost.
//
// The algorithm is a bounded sequence of deterministic greedy and corrective
// passes, not a general optimizer:
//  1. rank instruments ascending by annual_cost + points
//  2. seed contractually-required minimum shares in ranked order
//  3. fill the remainder cheapest-first up to per-instrument caps
//  4. top up equity to the minimum-equity floor
//  5. force any residual into equity headroom
//
// then rebalance: proportionally shrink debt above the aggregate LTC cap,
// and shed the most expensive DSCR-enforced debt until the covenant holds,
// moving freed principal into equity each time.
//
// granularity is accepted for interface compatibility but currently has no
// effect; it is reserved for a future share-stepped solver.
func (a *Allocator) Optimize(project Project, options []CapitalOption, granularity float64) (*CapitalStack, error) {
	_ = granularity

	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if seen[opt.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateOption, opt.Name)
		}
		seen[opt.Name] = true
	}

	tdc := project.TDC
	remaining := tdc
	var entries []allocation

	// Pass 1: rank by effective cost (annual cost + points, a one-year proxy
	// that ignores time value). Stable sort keeps input order on ties.
	ranked := make([]CapitalOption, len(options))
	copy(ranked, options)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].effectiveCost() < ranked[j].effectiveCost()
	})

	// Pass 2: seed minimum shares in ranked order, so contractually-required
	// minimums are funded before optimization even for expensive instruments.
	for _, opt := range ranked {
		minAmt := math.Max(opt.MinShare*tdc, 0)
		if minAmt > 0 {
			use := math.Min(math.Min(minAmt, opt.MaxShare*tdc), remaining)
			if use > 0 {
				entries = append(entries, allocation{opt: opt, amount: use})
				remaining -= use
			}
		}
	}

	// Pass 3: fill remaining with the cheapest options within caps.
	for _, opt := range ranked {
		if remaining <= amountTolerance {
			break
		}
		current := allocatedAmount(entries, opt.Name)
		addable := opt.MaxShare*tdc - current
		if opt.MaxLTC != nil {
			addable = math.Min(addable, *opt.MaxLTC*tdc-current)
		}
		add := math.Min(addable, remaining)
		if add > amountTolerance {
			entries = append(entries, allocation{opt: opt, amount: add})
			remaining -= add
		}
	}

	// The first equity instrument in input order absorbs floors, residuals,
	// and freed debt principal. Listing more than one equity instrument is
	// allowed but only the first plays this role.
	equity := findEquity(options)

	// Pass 4: ensure the equity minimum (project floor or the instrument's
	// own min share, whichever is higher).
	if equity != nil {
		current := allocatedAmount(entries, equity.Name)
		minEquityAmt := math.Max(project.MinEquity*tdc, equity.MinShare*tdc)
		if current < minEquityAmt {
			needed := minEquityAmt - current
			space := equity.MaxShare*tdc - current
			adj := math.Min(needed, space)
			if adj > 0 {
				entries = append(entries, allocation{opt: *equity, amount: adj})
				remaining -= adj
			}
		}
	}

	// Pass 5: constraints may have left the stack under-funded; force the
	// residual into equity headroom.
	if remaining > amountTolerance {
		if equity == nil {
			return nil, ErrNoEquity
		}
		space := equity.MaxShare*tdc - allocatedAmount(entries, equity.Name)
		if space < remaining-amountTolerance {
			return nil, &InfeasibleError{
				Stage:     StageResidualFill,
				Unplaced:  remaining,
				Headroom:  space,
				ProjectID: project.Name,
			}
		}
		add := math.Min(space, remaining)
		entries = append(entries, allocation{opt: *equity, amount: add})
		remaining -= add
	}

	// Corrective rebalancing: aggregate LTC first, then DSCR.
	var err error
	entries, remaining, err = a.correctLTC(project, entries, equity, remaining)
	if err != nil {
		return nil, err
	}

	entries, remaining, err = a.correctDSCR(project, entries, equity, remaining)
	if err != nil {
		return nil, err
	}

	stack := a.aggregate(project, entries)

	if diff := math.Abs(stack.TotalAmount() - tdc); diff > amountTolerance {
		a.log.Warn().
			Str("project", project.Name).
			Float64("total", stack.TotalAmount()).
			Float64("tdc", tdc).
			Msg("Funded stack deviates from TDC beyond tolerance")
	}

	a.log.Debug().
		Str("project", project.Name).
		Int("slices", len(stack.Slices)).
		Float64("wacc", stack.WACC).
		Msg("Stack allocated")

	return stack, nil
}

// correctLTC enforces the project-level loan-to-cost cap. Debt and mezz
// entries are shrunk proportionally by a uniform ratio and the freed
// principal moves into equity.
func (a *Allocator) correctLTC(project Project, entries []allocation, equity *CapitalOption, remaining float64) ([]allocation, float64, error) {
	if project.MaxLTC <= 0 {
		return entries, remaining, nil
	}

	totalDebt := 0.0
	for _, e := range entries {
		if e.opt.IsDebtLike() {
			totalDebt += e.amount
		}
	}

	maxDebt := project.MaxLTC * project.TDC
	if totalDebt <= maxDebt {
		return entries, remaining, nil
	}

	reduceRatio := (totalDebt - maxDebt) / math.Max(totalDebt, 1e-9)
	for i := range entries {
		if entries[i].opt.IsDebtLike() {
			reduceAmt := entries[i].amount * reduceRatio
			entries[i].amount -= reduceAmt
			remaining += reduceAmt
		}
	}

	a.log.Debug().
		Str("project", project.Name).
		Float64("total_debt", totalDebt).
		Float64("max_debt", maxDebt).
		Float64("reduce_ratio", reduceRatio).
		Msg("Aggregate LTC exceeded, shrinking debt proportionally")

	if equity == nil {
		return nil, 0, ErrNoEquity
	}

	space := equity.MaxShare*project.TDC - allocatedAmount(entries, equity.Name)
	add := math.Min(space, remaining)
	if add < remaining-amountTolerance {
		return nil, 0, &InfeasibleError{
			Stage:     StageLTCCorrection,
			Unplaced:  remaining,
			Headroom:  space,
			ProjectID: project.Name,
		}
	}
	entries = append(entries, allocation{opt: *equity, amount: add})
	remaining -= add

	return entries, remaining, nil
}

// correctDSCR enforces the DSCR covenant. Debt service above what NOI can
// support is removed from DSCR-enforced debt entries, most expensive first
// (stable by ledger order on equal cost), and the freed principal moves into
// equity.
func (a *Allocator) correctDSCR(project Project, entries []allocation, equity *CapitalOption, remaining float64) ([]allocation, float64, error) {
	totalAnnualDebt := 0.0
	for _, e := range entries {
		if e.opt.IsDebtLike() && e.opt.EnforceDSCR {
			totalAnnualDebt += e.amount * e.opt.AnnualCost
		}
	}

	if DSCR(project.NOI, totalAnnualDebt) >= project.MinDSCR {
		return entries, remaining, nil
	}

	requiredAnnualDebt := project.NOI / project.MinDSCR
	deltaAnnual := math.Max(totalAnnualDebt-requiredAnnualDebt, 0)

	a.log.Debug().
		Str("project", project.Name).
		Float64("annual_debt_service", totalAnnualDebt).
		Float64("supportable", requiredAnnualDebt).
		Msg("DSCR below covenant, shedding expensive debt")

	// Indices of DSCR-enforced debt entries, most expensive first.
	idxs := make([]int, 0, len(entries))
	for i, e := range entries {
		if e.opt.IsDebtLike() && e.opt.EnforceDSCR {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return entries[idxs[i]].opt.AnnualCost > entries[idxs[j]].opt.AnnualCost
	})

	for _, i := range idxs {
		if deltaAnnual <= amountTolerance {
			break
		}
		reducibleAnnual := entries[i].amount * entries[i].opt.AnnualCost
		take := math.Min(reducibleAnnual, deltaAnnual)
		takePrincipal := take / entries[i].opt.AnnualCost
		entries[i].amount -= takePrincipal
		deltaAnnual -= take
		remaining += takePrincipal
	}

	if remaining > amountTolerance {
		if equity == nil {
			return nil, 0, ErrNoEquity
		}
		space := equity.MaxShare*project.TDC - allocatedAmount(entries, equity.Name)
		add := math.Min(space, remaining)
		if add < remaining-amountTolerance {
			return nil, 0, &InfeasibleError{
				Stage:     StageDSCRCorrection,
				Unplaced:  remaining,
				Headroom:  space,
				ProjectID: project.Name,
			}
		}
		entries = append(entries, allocation{opt: *equity, amount: add})
		remaining -= add
	}

	return entries, remaining, nil
}

// aggregate groups ledger entries by (name, kind, annual cost), drops
// negligible aggregates, and computes shares and the blended WACC. Slice
// order follows first insertion into the ledger.
func (a *Allocator) aggregate(project Project, entries []allocation) *CapitalStack {
	type sliceKey struct {
		name string
		kind string
		cost float64
	}

	order := make([]sliceKey, 0, len(entries))
	amounts := make(map[sliceKey]float64, len(entries))
	for _, e := range entries {
		if e.amount <= amountTolerance {
			continue
		}
		key := sliceKey{name: e.opt.Name, kind: e.opt.Kind, cost: e.opt.AnnualCost}
		if _, ok := amounts[key]; !ok {
			order = append(order, key)
		}
		amounts[key] += e.amount
	}

	slices := make([]StackSlice, 0, len(order))
	weighted := make([]float64, 0, len(order))
	for _, key := range order {
		amount := amounts[key]
		if amount <= amountTolerance {
			continue
		}
		slices = append(slices, StackSlice{
			OptionName: key.name,
			Kind:       key.kind,
			Amount:     amount,
			Share:      amount / project.TDC,
			AnnualCost: key.cost,
		})
		weighted = append(weighted, amount*key.cost)
	}

	return &CapitalStack{
		ProjectName: project.Name,
		TDC:         project.TDC,
		WACC:        floats.Sum(weighted) / project.TDC,
		Slices:      slices,
		Notes:       "Heuristic allocation - minimizes cost subject to DSCR/LTC/equity constraints.",
	}
}

// allocatedAmount sums the ledger entries for a given option name.
func allocatedAmount(entries []allocation, name string) float64 {
	total := 0.0
	for _, e := range entries {
		if e.opt.Name == name {
			total += e.amount
		}
	}
	return total
}

// findEquity returns the first equity instrument in input order, or nil.
func findEquity(options []CapitalOption) *CapitalOption {
	for i := range options {
		if options[i].Kind == KindEquity {
			return &options[i]
		}
	}
	return nil
}
