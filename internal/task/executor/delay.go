package executor

import "time"

// CalculateDelay computes the wait before the next fixed-rate run and the debt
// carried into it.
//
// interval is the nominal period, execution the duration of the run that just
// finished, debt the lateness accumulated so far. Overruns add to the debt;
// slack (interval - execution) pays it back before any waiting happens.
//
// The function is pure. Negative inputs are treated as zero.
func CalculateDelay(interval, execution, debt time.Duration) (wait, updatedDebt time.Duration) {
	interval, execution, debt = nonNegative(interval), nonNegative(execution), nonNegative(debt)

	if execution >= interval {
		return 0, debt + (execution - interval)
	}
	gap := interval - execution
	switch {
	case debt == 0:
		return gap, 0
	case debt < gap:
		return gap - debt, 0
	default:
		return 0, debt - gap
	}
}

// intervalDelay is the fixed-interval wait: debt is never tracked.
func intervalDelay(interval, execution time.Duration) time.Duration {
	if execution >= interval {
		return 0
	}
	return interval - execution
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
