package invoice

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/mbd888/chainvoice/internal/token"
)

// ErrMalformedInput rejects event logs or schedules carrying negative
// amounts. Bad input data is fatal to the computation; retrying cannot
// fix it.
var ErrMalformedInput = errors.New("invoice: malformed input data")

// Details is the engine's output: the fully derived state of one
// invoice. It is regenerated on every call and never mutated in place.
type Details struct {
	Core Core `json:"core"`

	// Reduced totals.
	Deposited *big.Int `json:"deposited"`
	Released  *big.Int `json:"released"`
	Withdrawn *big.Int `json:"withdrawn"`
	Due       *big.Int `json:"due"`

	// Milestone progress (escrow only).
	CurrentMilestoneNumber int      `json:"currentMilestoneNumber"`
	DepositedMilestones    []bool   `json:"depositedMilestones"`

	// Event sub-sequences, newest-first.
	Deposits    []Event `json:"deposits"`
	Releases    []Event `json:"releases"`
	Withdraws   []Event `json:"withdraws"`
	Disputes    []Event `json:"disputes"`
	Resolutions []Event `json:"resolutions"`

	// Most recent dispute and, if it was ruled on, its resolution.
	Dispute    *Event `json:"dispute,omitempty"`
	Resolution *Event `json:"resolution,omitempty"`

	// Verified reports a verification event matching the client.
	Verified bool `json:"verified"`

	Classification

	ResolverFee *big.Int `json:"resolverFee"`

	// Instant-only derived state.
	Instant *InstantState `json:"instant,omitempty"`

	// Supplied inputs echoed into the snapshot.
	TokenMetadata *TokenMetadata `json:"tokenMetadata,omitempty"`
	TokenBalance  *Balance       `json:"tokenBalance,omitempty"`
	NativeBalance *Balance       `json:"nativeBalance,omitempty"`

	// Display strings, exact decimal rendering. Empty when token
	// metadata is unavailable; raw amounts above remain authoritative.
	TotalDisplay               string   `json:"totalDisplay,omitempty"`
	DepositedDisplay           string   `json:"depositedDisplay,omitempty"`
	ReleasedDisplay            string   `json:"releasedDisplay,omitempty"`
	DueDisplay                 string   `json:"dueDisplay,omitempty"`
	ResolverFeeDisplay         string   `json:"resolverFeeDisplay,omitempty"`
	DepositedMilestonesDisplay []string `json:"depositedMilestonesDisplay,omitempty"`

	ComputedAt int64 `json:"computedAt"`
}

// Assemble composes the invoice snapshot from the raw event log, token
// metadata, live balances and the current time. Pure function: no I/O,
// no retained state, and identical inputs produce an identical result.
func Assemble(core Core, events []Event, meta *TokenMetadata, tokenBalance, nativeBalance *Balance, instant *InstantParams, now int64) (*Details, error) {
	if err := validateInputs(core, events); err != nil {
		return nil, err
	}

	if core.Total == nil && core.Kind == KindEscrow {
		core.Total = ScheduleTotal(core.Amounts)
	}

	reduced := Reduce(events)

	var instantState *InstantState
	if core.Kind == KindInstant && instant != nil {
		st := InstantDue(*instant, now)
		instantState = &st
	}

	ledger := MilestoneProgress(core.Amounts, reduced.Deposited, core.Total)
	if core.Kind == KindInstant && instantState != nil {
		// An instant invoice owes its lump sum plus any accrued late
		// fee; the milestone schedule is empty.
		due := new(big.Int).Sub(instantState.TotalOwed, instantState.AmountFulfilled)
		if due.Sign() < 0 {
			due.SetInt64(0)
		}
		ledger.Due = due
	}

	dispute, resolution := reduced.ActiveDispute()
	classification := Classify(core, reduced, instantState, tokenBalance, nativeBalance, now)
	fee := ResolverFee(core.ResolutionRate, ledger.Due)

	d := &Details{
		Core:                   core,
		Deposited:              reduced.Deposited,
		Released:               reduced.Released,
		Withdrawn:              reduced.Withdrawn,
		Due:                    ledger.Due,
		CurrentMilestoneNumber: ledger.CurrentMilestone,
		DepositedMilestones:    ledger.Covered,
		Deposits:               reduced.Deposits,
		Releases:               reduced.Releases,
		Withdraws:              reduced.Withdraws,
		Disputes:               reduced.Disputes,
		Resolutions:            reduced.Resolutions,
		Dispute:                dispute,
		Resolution:             resolution,
		Verified:               reduced.VerifiedBy(core.Client),
		Classification:         classification,
		ResolverFee:            fee,
		Instant:                instantState,
		TokenMetadata:          meta,
		TokenBalance:           tokenBalance,
		NativeBalance:          nativeBalance,
		ComputedAt:             now,
	}

	// Display conversion needs the token's decimals. Without metadata
	// the snapshot still carries every raw amount; only the display
	// fields stay empty.
	if meta != nil {
		dec := meta.Decimals
		d.TotalDisplay = token.FormatRaw(core.Total, dec)
		d.DepositedDisplay = token.FormatRaw(reduced.Deposited, dec)
		d.ReleasedDisplay = token.FormatRaw(reduced.Released, dec)
		d.DueDisplay = token.FormatRaw(ledger.Due, dec)
		d.ResolverFeeDisplay = token.FormatRaw(fee, dec)
		d.DepositedMilestonesDisplay = make([]string, len(ledger.Thresholds))
		for i, th := range ledger.Thresholds {
			d.DepositedMilestonesDisplay[i] = token.FormatRaw(th, dec)
		}
	}

	return d, nil
}

// ProposedResolverFee computes the fee for a caller-entered milestone
// schedule, e.g. when proposing additional milestones.
func ProposedResolverFee(core Core, proposed []*big.Int) (*big.Int, error) {
	for i, amt := range proposed {
		if amt == nil || amt.Sign() < 0 {
			return nil, fmt.Errorf("%w: proposed amount %d", ErrMalformedInput, i)
		}
	}
	return ResolverFee(core.ResolutionRate, ScheduleTotal(proposed)), nil
}

func validateInputs(core Core, events []Event) error {
	for i, amt := range core.Amounts {
		if amt != nil && amt.Sign() < 0 {
			return fmt.Errorf("%w: negative milestone amount at index %d", ErrMalformedInput, i)
		}
	}
	if core.Total != nil && core.Total.Sign() < 0 {
		return fmt.Errorf("%w: negative total", ErrMalformedInput)
	}
	for _, e := range events {
		if e.Amount != nil && e.Amount.Sign() < 0 {
			return fmt.Errorf("%w: negative amount in event %s", ErrMalformedInput, e.ID)
		}
	}
	return nil
}
