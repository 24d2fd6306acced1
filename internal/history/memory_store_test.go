package history

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainvoice/internal/invoice"
)

var testRef = Ref{ChainID: 100, Address: "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"}

func sampleCore() invoice.Core {
	return invoice.Core{
		Address: common.HexToAddress(testRef.Address),
		ChainID: testRef.ChainID,
		Kind:    invoice.KindEscrow,
		Amounts: []*big.Int{big.NewInt(500), big.NewInt(500)},
		Total:   big.NewInt(1000),
	}
}

func sampleEvents() []invoice.Event {
	return []invoice.Event{
		{
			ID:        "dep-1",
			TxHash:    "0xaaa",
			Timestamp: 1000,
			LogIndex:  2,
			Type:      invoice.EventDeposit,
			Sender:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Amount:    big.NewInt(500),
		},
		{
			ID:        "rel-1",
			TxHash:    "0xbbb",
			Timestamp: 2000,
			LogIndex:  0,
			Type:      invoice.EventRelease,
			Amount:    big.NewInt(200),
			Milestone: 1,
		},
	}
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SaveLog(ctx, testRef, sampleCore(), sampleEvents()))

	core, events, err := store.Log(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), core.Total)
	require.Len(t, events, 2)
	assert.Equal(t, "dep-1", events[0].ID)
	assert.Equal(t, big.NewInt(500), events[0].Amount)
	assert.Equal(t, invoice.EventRelease, events[1].Type)
}

func TestMemoryStoreUntrackedInvoice(t *testing.T) {
	_, _, err := NewMemoryStore().Log(context.Background(), testRef)
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestMemoryStoreTrackedWithoutLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Track(ctx, testRef))

	// Tracking registers the invoice for the watcher but stores
	// nothing replayable.
	_, _, err := store.Log(ctx, testRef)
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestMemoryStoreTrackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Track(ctx, testRef))
	require.NoError(t, store.Track(ctx, testRef))

	refs, err := store.Tracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Ref{testRef}, refs)

	// Tracking never clobbers a saved log.
	require.NoError(t, store.SaveLog(ctx, testRef, sampleCore(), sampleEvents()))
	require.NoError(t, store.Track(ctx, testRef))
	_, events, err := store.Log(ctx, testRef)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStoreSaveReplacesLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SaveLog(ctx, testRef, sampleCore(), sampleEvents()[:1]))
	require.NoError(t, store.SaveLog(ctx, testRef, sampleCore(), sampleEvents()))

	_, events, err := store.Log(ctx, testRef)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStoreTrackedSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b := Ref{ChainID: 1, Address: "0xbbb"}
	a := Ref{ChainID: 1, Address: "0xaaa"}
	other := Ref{ChainID: 100, Address: "0x001"}

	require.NoError(t, store.Track(ctx, other))
	require.NoError(t, store.Track(ctx, b))
	require.NoError(t, store.Track(ctx, a))

	refs, err := store.Tracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Ref{a, b, other}, refs)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveLog(ctx, testRef, sampleCore(), sampleEvents()))

	_, events, err := store.Log(ctx, testRef)
	require.NoError(t, err)
	events[0].ID = "mutated"

	_, again, err := store.Log(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, "dep-1", again[0].ID)
}
