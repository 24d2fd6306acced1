package invoice

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta() *TokenMetadata {
	return &TokenMetadata{
		Address:  testToken,
		Name:     "Test USD",
		Symbol:   "TUSD",
		Decimals: 6,
	}
}

func TestAssemble_EscrowScenario(t *testing.T) {
	// Milestones [100, 200] (total 300), one deposit of 150.
	events := []Event{evt(EventDeposit, 100, 0, 150)}

	d, err := Assemble(escrowCore(), events, testMeta(), nil, nil, nil, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, d.CurrentMilestoneNumber)
	assert.Equal(t, []bool{true, false}, d.DepositedMilestones)
	assert.Equal(t, int64(150), d.Due.Int64())
	assert.Equal(t, StatusPartiallyFunded, d.Status)
	assert.False(t, d.Inconsistent)
}

func TestAssemble_FundedThenFullyReleased(t *testing.T) {
	core := escrowCore()
	deposit := evt(EventDeposit, 100, 0, 300)

	d, err := Assemble(core, []Event{deposit}, testMeta(), &Balance{Value: big.NewInt(300), Decimals: 6}, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, d.Status)
	assert.True(t, d.IsReleasable)

	// After the full release the invoice balance is spent.
	release := evt(EventRelease, 200, 0, 300)
	d, err = Assemble(core, []Event{deposit, release}, testMeta(), &Balance{Value: big.NewInt(0), Decimals: 6}, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, d.Status)
	assert.False(t, d.IsReleasable)
}

func TestAssemble_LockAndResolution(t *testing.T) {
	core := escrowCore()
	core.IsLocked = true
	deposit := evt(EventDeposit, 100, 0, 300)
	lock := lockEvt(200)

	d, err := Assemble(core, []Event{deposit, lock}, testMeta(), nil, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, d.Status)
	assert.False(t, d.IsLockable)
	require.NotNil(t, d.Dispute)
	assert.Nil(t, d.Resolution)

	res := resolutionEvt(300)
	d, err = Assemble(core, []Event{deposit, lock, res}, testMeta(), nil, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputeResolved, d.Status)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, res.ID, d.Resolution.ID)
}

func TestAssemble_Idempotent(t *testing.T) {
	core := escrowCore()
	events := []Event{
		evt(EventDeposit, 100, 0, 150),
		evt(EventRelease, 200, 0, 100),
		lockEvt(300),
	}
	balance := &Balance{Value: big.NewInt(50), Decimals: 6}

	first, err := Assemble(core, events, testMeta(), balance, nil, nil, testNow)
	require.NoError(t, err)
	second, err := Assemble(core, events, testMeta(), balance, nil, nil, testNow)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs must produce byte-identical snapshots")
}

func TestAssemble_DisplayFields(t *testing.T) {
	events := []Event{evt(EventDeposit, 100, 0, 150)}

	d, err := Assemble(escrowCore(), events, testMeta(), nil, nil, nil, testNow)
	require.NoError(t, err)

	assert.Equal(t, "0.000300", d.TotalDisplay)
	assert.Equal(t, "0.000150", d.DepositedDisplay)
	assert.Equal(t, "0.000150", d.DueDisplay)
	require.Len(t, d.DepositedMilestonesDisplay, 2)
	assert.Equal(t, "0.000100", d.DepositedMilestonesDisplay[0])
	assert.Equal(t, "0.000300", d.DepositedMilestonesDisplay[1])
}

func TestAssemble_MissingTokenMetadata(t *testing.T) {
	// No metadata: raw amounts survive, display fields stay empty,
	// and assembly does not fail.
	events := []Event{evt(EventDeposit, 100, 0, 150)}

	d, err := Assemble(escrowCore(), events, nil, nil, nil, nil, testNow)
	require.NoError(t, err)

	assert.Equal(t, int64(150), d.Deposited.Int64())
	assert.Empty(t, d.TotalDisplay)
	assert.Empty(t, d.DepositedDisplay)
	assert.Empty(t, d.DepositedMilestonesDisplay)
}

func TestAssemble_InstantInvoice(t *testing.T) {
	core := instantCore()
	params := &InstantParams{
		TotalDue:        big.NewInt(500),
		AmountFulfilled: big.NewInt(200),
		Deadline:        testNow - 300,
		LateFee:         big.NewInt(10),
		LateFeeInterval: 100,
	}

	d, err := Assemble(core, []Event{evt(EventDeposit, 100, 0, 200)}, testMeta(), nil, nil, params, testNow)
	require.NoError(t, err)

	require.NotNil(t, d.Instant)
	assert.Equal(t, int64(30), d.Instant.AccruedLateFee.Int64())
	assert.Equal(t, int64(530), d.Instant.TotalOwed.Int64())
	assert.False(t, d.Instant.Fulfilled)
	assert.Equal(t, StatusOverdue, d.Status)
	// Due reflects the outstanding owed amount, not the milestone math.
	assert.Equal(t, int64(330), d.Due.Int64())
}

func TestAssemble_ResolverFeeOverDue(t *testing.T) {
	// Due 150 at 500 bps = 7 (truncated).
	events := []Event{evt(EventDeposit, 100, 0, 150)}

	d, err := Assemble(escrowCore(), events, testMeta(), nil, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.ResolverFee.Int64())
	assert.Equal(t, "0.000007", d.ResolverFeeDisplay)
}

func TestAssemble_VerifiedFromEvents(t *testing.T) {
	verification := evt(EventVerification, 100, 0, 0)
	verification.Amount = nil
	verification.Client = testClient

	d, err := Assemble(escrowCore(), []Event{verification}, nil, nil, nil, nil, testNow)
	require.NoError(t, err)
	assert.True(t, d.Verified)
}

func TestAssemble_TotalDerivedFromSchedule(t *testing.T) {
	core := escrowCore()
	core.Total = nil

	d, err := Assemble(core, nil, nil, nil, nil, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(300), d.Core.Total.Int64())
}

func TestAssemble_RejectsNegativeAmounts(t *testing.T) {
	bad := evt(EventDeposit, 100, 0, 0)
	bad.Amount = big.NewInt(-50)

	_, err := Assemble(escrowCore(), []Event{bad}, nil, nil, nil, nil, testNow)
	assert.ErrorIs(t, err, ErrMalformedInput)

	core := escrowCore()
	core.Amounts = []*big.Int{big.NewInt(-1)}
	_, err = Assemble(core, nil, nil, nil, nil, nil, testNow)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestAssemble_InconsistentLedgerSoftFlag(t *testing.T) {
	events := []Event{
		evt(EventDeposit, 100, 0, 50),
		evt(EventRelease, 200, 0, 100),
	}

	d, err := Assemble(escrowCore(), events, nil, nil, nil, nil, testNow)
	require.NoError(t, err, "inconsistency is reported, not raised")
	assert.True(t, d.Inconsistent)
	assert.NotEmpty(t, d.Status)
}
