package reconcile

import (
	"dockhand/internal/types"
)

// DetectDiscrepancy compares expected against received quantities. Equal
// quantities produce nil. Shortage is expected minus received, so overages
// come back negative. Severity follows the shortage ratio: high at 50% or
// more of the expected quantity, medium at 20%, low below that. An
// unexpected delivery (expected zero) is always high.
func DetectDiscrepancy(expected, received float64) *types.Discrepancy {
	if expected == received {
		return nil
	}

	shortage := expected - received
	d := &types.Discrepancy{
		Expected: expected,
		Received: received,
		Shortage: shortage,
	}

	if expected == 0 {
		d.Severity = types.SeverityHigh
		return d
	}

	ratio := shortage / expected
	if ratio < 0 {
		ratio = -ratio
	}
	switch {
	case ratio >= 0.5:
		d.Severity = types.SeverityHigh
	case ratio >= 0.2:
		d.Severity = types.SeverityMedium
	default:
		d.Severity = types.SeverityLow
	}
	return d
}
