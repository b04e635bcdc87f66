package window

import (
	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
)

// Stats is the per-window evidence the quality gate decides on.
type Stats struct {
	Failure       error // non-nil when the signal processor failed
	FiducialCount int
	MissingRatio  float64
	Features      map[string]float64
}

// Gate decides window usability from ParameterSet thresholds. Each window
// is evaluated independently; there is no cross-window smoothing or
// hysteresis here.
type Gate struct {
	set *params.Set
}

// NewGate returns a Gate bound to the given (already subject-merged)
// parameter set.
func NewGate(set *params.Set) *Gate {
	return &Gate{set: set}
}

// Evaluate returns whether the window is usable and, if not, the reason.
// Precedence: processing failure, then missing data, then fiducial count,
// then plausibility bounds.
func (g *Gate) Evaluate(st Stats) (bool, physio.UnusableReason) {
	if st.Failure != nil {
		return false, physio.ReasonProcessingFailure
	}
	if st.MissingRatio > g.set.GetMaxMissingRatio() {
		return false, physio.ReasonExcessiveMissingData
	}
	if st.FiducialCount < g.set.GetMinFiducials() {
		return false, physio.ReasonInsufficientFiducials
	}
	for name, v := range st.Features {
		b, ok := g.set.GetPlausibleBounds(name)
		if !ok {
			continue
		}
		if b.Min != nil && v < *b.Min {
			return false, physio.ReasonImplausible
		}
		if b.Max != nil && v > *b.Max {
			return false, physio.ReasonImplausible
		}
	}
	return true, physio.ReasonNone
}
