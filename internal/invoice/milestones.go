package invoice

import "math/big"

// MilestoneLedger maps the per-milestone amount schedule against the
// funds deposited so far.
type MilestoneLedger struct {
	// Thresholds[i] is the cumulative amount required to cover
	// milestones 0..i.
	Thresholds []*big.Int
	// Covered[i] reports whether milestone i is fully funded.
	Covered []bool
	// CurrentMilestone is the count of fully funded milestones. It
	// never exceeds the schedule length.
	CurrentMilestone int
	// Due is the amount still required from the client to fund the
	// full schedule, floored at zero.
	Due *big.Int
}

// MilestoneProgress computes per-milestone completion for an escrow
// invoice. The schedule is append-only: appending amounts later never
// changes the result for pre-existing indices, since each threshold
// depends only on amounts[0..i].
func MilestoneProgress(amounts []*big.Int, deposited, total *big.Int) MilestoneLedger {
	if deposited == nil {
		deposited = new(big.Int)
	}
	if total == nil {
		total = new(big.Int)
	}

	ledger := MilestoneLedger{
		Thresholds: make([]*big.Int, len(amounts)),
		Covered:    make([]bool, len(amounts)),
	}

	cumulative := new(big.Int)
	for i, amt := range amounts {
		if amt != nil {
			cumulative.Add(cumulative, amt)
		}
		ledger.Thresholds[i] = new(big.Int).Set(cumulative)
		if deposited.Cmp(cumulative) >= 0 {
			ledger.Covered[i] = true
			ledger.CurrentMilestone++
		}
	}

	// Remaining amount the client owes. Overfunding reports zero due,
	// not a negative value.
	due := new(big.Int).Sub(total, deposited)
	if due.Sign() < 0 {
		due.SetInt64(0)
	}
	ledger.Due = due

	return ledger
}

// ScheduleTotal sums a milestone amount schedule.
func ScheduleTotal(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, amt := range amounts {
		if amt != nil {
			total.Add(total, amt)
		}
	}
	return total
}
