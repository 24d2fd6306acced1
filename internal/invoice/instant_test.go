package invoice

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func instantParams(totalDue, fulfilled int64) InstantParams {
	return InstantParams{
		TotalDue:        big.NewInt(totalDue),
		AmountFulfilled: big.NewInt(fulfilled),
		Deadline:        1_000,
		LateFee:         big.NewInt(10),
		LateFeeInterval: 100,
	}
}

func TestInstantDue_BeforeDeadline(t *testing.T) {
	st := InstantDue(instantParams(500, 0), 900)

	assert.Zero(t, st.AccruedLateFee.Sign())
	assert.Equal(t, int64(500), st.TotalOwed.Int64())
	assert.False(t, st.Fulfilled)
}

func TestInstantDue_AtDeadline(t *testing.T) {
	st := InstantDue(instantParams(500, 500), 1_000)

	assert.Zero(t, st.AccruedLateFee.Sign())
	assert.True(t, st.Fulfilled)
}

func TestInstantDue_ThreeFullIntervalsLate(t *testing.T) {
	// Deadline passed by exactly 3 intervals at fee 10 per interval.
	p := instantParams(500, 500)
	st := InstantDue(p, 1_300)

	assert.Equal(t, int64(30), st.AccruedLateFee.Int64())
	assert.Equal(t, int64(530), st.TotalOwed.Int64())
	// Paying only the base amount no longer fulfills.
	assert.False(t, st.Fulfilled)

	p.AmountFulfilled = big.NewInt(530)
	st = InstantDue(p, 1_300)
	assert.True(t, st.Fulfilled)
}

func TestInstantDue_PartialIntervalAccruesNothing(t *testing.T) {
	st := InstantDue(instantParams(500, 0), 1_099)
	assert.Zero(t, st.AccruedLateFee.Sign())

	st = InstantDue(instantParams(500, 0), 1_100)
	assert.Equal(t, int64(10), st.AccruedLateFee.Int64())
}

func TestInstantDue_UnboundedByDefault(t *testing.T) {
	// 1000 intervals late, no cap configured.
	st := InstantDue(instantParams(500, 0), 101_000)
	assert.Equal(t, int64(10_000), st.AccruedLateFee.Int64())
}

func TestInstantDue_ConfigurableCap(t *testing.T) {
	p := instantParams(500, 0)
	p.MaxLateFee = big.NewInt(50)

	st := InstantDue(p, 101_000)
	assert.Equal(t, int64(50), st.AccruedLateFee.Int64())
	assert.Equal(t, int64(550), st.TotalOwed.Int64())
}

func TestInstantDue_ZeroIntervalNoAccrual(t *testing.T) {
	p := instantParams(500, 0)
	p.LateFeeInterval = 0

	st := InstantDue(p, 10_000)
	assert.Zero(t, st.AccruedLateFee.Sign())
}

func TestInstantDue_NilAmounts(t *testing.T) {
	st := InstantDue(InstantParams{Deadline: 1_000}, 2_000)

	assert.Zero(t, st.TotalDue.Sign())
	assert.Zero(t, st.AccruedLateFee.Sign())
	// Zero owed, zero paid: trivially fulfilled.
	assert.True(t, st.Fulfilled)
}

func TestInstantDue_Overfulfilled(t *testing.T) {
	st := InstantDue(instantParams(500, 999), 900)
	assert.True(t, st.Fulfilled)
}
