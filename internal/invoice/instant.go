package invoice

import "math/big"

// InstantParams are the chain-reported terms of an instant invoice.
type InstantParams struct {
	TotalDue        *big.Int `json:"totalDue"`
	AmountFulfilled *big.Int `json:"amountFulfilled"`
	Deadline        int64    `json:"deadline"` // unix seconds
	LateFee         *big.Int `json:"lateFee"`  // per interval
	LateFeeInterval int64    `json:"lateFeeTimeInterval"` // seconds

	// MaxLateFee caps the accrued late fee when non-nil and positive.
	// The deployed contracts define no cap, so the default is
	// unbounded accrual.
	MaxLateFee *big.Int `json:"maxLateFee,omitempty"`
}

// InstantState is the derived payment state of an instant invoice.
type InstantState struct {
	TotalDue        *big.Int `json:"totalDue"`
	AmountFulfilled *big.Int `json:"amountFulfilled"`
	Deadline        int64    `json:"deadline"`
	LateFee         *big.Int `json:"lateFee"`
	AccruedLateFee  *big.Int `json:"accruedLateFee"`
	TotalOwed       *big.Int `json:"totalOwed"` // totalDue + accrued late fee
	Fulfilled       bool     `json:"fulfilled"`
}

// InstantDue computes the amount owed on an instant invoice at the
// given time. The late fee accrues in whole elapsed intervals past the
// deadline; a partial interval accrues nothing.
func InstantDue(p InstantParams, now int64) InstantState {
	totalDue := orZero(p.TotalDue)
	fulfilled := orZero(p.AmountFulfilled)

	accrued := new(big.Int)
	if p.LateFee != nil && p.LateFee.Sign() > 0 && p.LateFeeInterval > 0 && now > p.Deadline {
		elapsed := (now - p.Deadline) / p.LateFeeInterval
		accrued.Mul(p.LateFee, big.NewInt(elapsed))
		if p.MaxLateFee != nil && p.MaxLateFee.Sign() > 0 && accrued.Cmp(p.MaxLateFee) > 0 {
			accrued.Set(p.MaxLateFee)
		}
	}

	owed := new(big.Int).Add(totalDue, accrued)

	return InstantState{
		TotalDue:        totalDue,
		AmountFulfilled: fulfilled,
		Deadline:        p.Deadline,
		LateFee:         orZero(p.LateFee),
		AccruedLateFee:  accrued,
		TotalOwed:       owed,
		Fulfilled:       fulfilled.Cmp(owed) >= 0,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
