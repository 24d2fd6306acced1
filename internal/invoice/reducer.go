package invoice

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reduced is the fold of an invoice's event log: running totals plus
// per-category sub-sequences. Deposits, releases, withdraws, disputes
// and resolutions are ordered newest-first for display; verifications
// keep log order.
type Reduced struct {
	Deposited *big.Int
	Released  *big.Int
	Withdrawn *big.Int

	Deposits      []Event
	Releases      []Event
	Withdraws     []Event
	Disputes      []Event
	Resolutions   []Event
	Verifications []Event
}

// Reduce folds the complete, possibly unsorted event sequence for one
// invoice into totals and ordered sub-sequences. A withdraw is a
// terminal disposition of deposited funds distinct from a release, so
// the two are tracked separately. Deposit origin is irrelevant: a raw
// token transfer credited by the indexer reduces identically to an
// explicit deposit event.
func Reduce(events []Event) Reduced {
	r := Reduced{
		Deposited: new(big.Int),
		Released:  new(big.Int),
		Withdrawn: new(big.Int),
	}

	for _, e := range sortEvents(events) {
		switch e.Type {
		case EventDeposit:
			if e.Amount != nil {
				r.Deposited.Add(r.Deposited, e.Amount)
			}
			r.Deposits = append(r.Deposits, e)
		case EventRelease:
			if e.Amount != nil {
				r.Released.Add(r.Released, e.Amount)
			}
			r.Releases = append(r.Releases, e)
		case EventWithdraw:
			if e.Amount != nil {
				r.Withdrawn.Add(r.Withdrawn, e.Amount)
			}
			r.Withdraws = append(r.Withdraws, e)
		case EventLock:
			r.Disputes = append(r.Disputes, e)
		case EventResolution:
			r.Resolutions = append(r.Resolutions, e)
		case EventVerification:
			r.Verifications = append(r.Verifications, e)
		}
	}

	r.Deposits = reverse(r.Deposits)
	r.Releases = reverse(r.Releases)
	r.Withdraws = reverse(r.Withdraws)
	r.Disputes = reverse(r.Disputes)
	r.Resolutions = reverse(r.Resolutions)

	return r
}

// Consistent reports whether the reduced totals satisfy the ledger
// invariant deposited >= released + withdrawn. A violation indicates a
// data-source inconsistency; the engine surfaces it as a flag rather
// than repairing or clamping.
func (r Reduced) Consistent() bool {
	out := new(big.Int).Add(r.Released, r.Withdrawn)
	return r.Deposited.Cmp(out) >= 0
}

// VerifiedBy reports whether any verification event names the given
// client address. A non-client verification enables that account to
// deposit funds.
func (r Reduced) VerifiedBy(client common.Address) bool {
	for _, e := range r.Verifications {
		if e.Client == client {
			return true
		}
	}
	return false
}

// ActiveDispute returns the most recent lock event and, when one
// followed it with no newer lock in between, its resolution. At most
// one dispute is open at a time; a resolution always refers to the
// latest preceding lock.
func (r Reduced) ActiveDispute() (dispute, resolution *Event) {
	if len(r.Disputes) == 0 {
		return nil, nil
	}
	d := r.Disputes[0] // newest-first
	dispute = &d

	if len(r.Resolutions) == 0 {
		return dispute, nil
	}
	res := r.Resolutions[0]
	if res.after(d) {
		resolution = &res
	}
	return dispute, resolution
}
