package stack

import (
	"errors"
	"fmt"
)

// ErrNoEquity is returned when the option list has no equity instrument but
// the allocation needs one to complete or rebalance the stack. This is a
// structural configuration error, never retryable.
var ErrNoEquity = errors.New("no equity option to complete the stack")

// ErrDuplicateOption is returned when two instruments share a name. The
// ledger and aggregation key on the instrument name, so duplicates would
// silently merge.
var ErrDuplicateOption = errors.New("duplicate option name")

// Stages at which an allocation can become infeasible
const (
	StageResidualFill   = "residual_fill"
	StageLTCCorrection  = "ltc_correction"
	StageDSCRCorrection = "dscr_correction"
)

// InfeasibleError reports that the remaining unfunded capital could not be
// placed because the equity instrument lacked headroom at the named stage.
// Identical inputs always fail identically; there is nothing to retry.
type InfeasibleError struct {
	Stage     string
	Unplaced  float64 // Principal that could not be absorbed
	Headroom  float64 // Equity headroom available at the time
	ProjectID string
}

func (e *InfeasibleError) Error() string {
	switch e.Stage {
	case StageLTCCorrection:
		return fmt.Sprintf("equity caps too tight to replace reduced debt (unplaced %.2f, headroom %.2f)", e.Unplaced, e.Headroom)
	case StageDSCRCorrection:
		return fmt.Sprintf("equity caps too tight to hit DSCR (unplaced %.2f, headroom %.2f)", e.Unplaced, e.Headroom)
	default:
		return fmt.Sprintf("constraints too tight to fully fund the stack (unplaced %.2f, headroom %.2f)", e.Unplaced, e.Headroom)
	}
}

// IsFundingError reports whether err is one of the allocator's caller-facing
// funding failures (as opposed to an input validation problem).
func IsFundingError(err error) bool {
	var infeasible *InfeasibleError
	return errors.Is(err, ErrNoEquity) || errors.As(err, &infeasible)
}
