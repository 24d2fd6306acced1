package invoice

import "math/big"

// Status is the single lifecycle label of an invoice. The labels are
// mutually exclusive; Classify picks exactly one.
type Status string

const (
	StatusDisputeResolved Status = "dispute_resolved"
	StatusLocked          Status = "locked"
	StatusExpired         Status = "expired"
	StatusOverdue         Status = "overdue"
	StatusFunded          Status = "funded"
	StatusPartiallyFunded Status = "partially_funded"
	StatusPending         Status = "pending"
)

// Label returns the human-readable form of a status.
func (s Status) Label() string {
	switch s {
	case StatusDisputeResolved:
		return "Dispute Resolved"
	case StatusLocked:
		return "Locked"
	case StatusExpired:
		return "Expired"
	case StatusOverdue:
		return "Overdue"
	case StatusFunded:
		return "Funded"
	case StatusPartiallyFunded:
		return "Partially Funded"
	case StatusPending:
		return "Pending"
	}
	return string(s)
}

// Classification is the classifier's output: one status label, the
// independently evaluated capability flags, and the ledger consistency
// flag.
type Classification struct {
	Status Status `json:"status"`

	IsReleasable   bool `json:"isReleasable"`
	IsLockable     bool `json:"isLockable"`
	IsWithdrawable bool `json:"isWithdrawable"`
	IsExpired      bool `json:"isExpired"`

	// Inconsistent marks a snapshot whose event log violates
	// deposited >= released + withdrawn. Classification still runs on
	// the available data; this is read-only reporting, never a fault.
	Inconsistent bool `json:"inconsistent,omitempty"`
}

// Classify combines reduced totals, timestamps and flags into one
// status label. Conditions are evaluated in strict precedence order;
// the first match wins:
//
//	dispute resolved > locked > expired > overdue >
//	funded > partially funded > pending
func Classify(core Core, r Reduced, instant *InstantState, tokenBalance, nativeBalance *Balance, now int64) Classification {
	dispute, resolution := r.ActiveDispute()
	openDispute := dispute != nil && resolution == nil

	c := Classification{
		Status:       classifyStatus(core, r, instant, resolution, now),
		Inconsistent: !r.Consistent(),
	}

	locked := c.Status == StatusLocked

	// Financial precondition only; whether the caller is the provider
	// is decided elsewhere.
	c.IsReleasable = core.Kind == KindEscrow && !locked && hasBalance(tokenBalance, nativeBalance)

	c.IsLockable = !core.IsLocked && !openDispute && r.Deposited.Sign() > 0

	c.IsExpired = core.TerminationTime > 0 && now > core.TerminationTime

	remaining := new(big.Int).Sub(r.Deposited, new(big.Int).Add(r.Released, r.Withdrawn))
	c.IsWithdrawable = c.IsExpired && remaining.Sign() > 0

	return c
}

func classifyStatus(core Core, r Reduced, instant *InstantState, resolution *Event, now int64) Status {
	if resolution != nil {
		return StatusDisputeResolved
	}
	if core.IsLocked {
		return StatusLocked
	}
	if core.TerminationTime > 0 && now > core.TerminationTime && !fullyReleased(core, r) {
		return StatusExpired
	}
	if core.Kind == KindInstant && instant != nil && now > instant.Deadline && !instant.Fulfilled {
		return StatusOverdue
	}
	if funded(core, r, instant) {
		return StatusFunded
	}
	if r.Deposited.Sign() > 0 {
		return StatusPartiallyFunded
	}
	return StatusPending
}

func funded(core Core, r Reduced, instant *InstantState) bool {
	if core.Kind == KindInstant {
		return instant != nil && instant.Fulfilled
	}
	return core.Total != nil && core.Total.Sign() > 0 && r.Deposited.Cmp(core.Total) >= 0
}

func fullyReleased(core Core, r Reduced) bool {
	return core.Total != nil && core.Total.Sign() > 0 && r.Released.Cmp(core.Total) >= 0
}

func hasBalance(balances ...*Balance) bool {
	for _, b := range balances {
		if b != nil && b.Value != nil && b.Value.Sign() > 0 {
			return true
		}
	}
	return false
}
