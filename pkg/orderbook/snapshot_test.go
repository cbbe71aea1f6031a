package orderbook

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ledger := newMemLedger()
	b, err := New(7, bookAddr, engineAddr, baseToken, quoteToken, 18, 6, ledger)
	require.NoError(t, err)

	_, _ = b.PlaceBid(engineAddr, alice, 90*PricePrecision, u("5000000"))
	_, _ = b.PlaceBid(engineAddr, bob, 95*PricePrecision, u("7000000"))
	_, _ = b.PlaceAsk(engineAddr, alice, 105*PricePrecision, u("3000000000000000000"))
	_, _ = b.PlaceAsk(engineAddr, bob, 105*PricePrecision, u("4000000000000000000"))
	require.NoError(t, b.SetLmp(engineAddr, 100*PricePrecision))

	// a canceled order must not survive the snapshot
	ledger.mint(quoteToken, bookAddr, 1)
	cancelID, err := b.PlaceBid(engineAddr, alice, 80*PricePrecision, uint256.NewInt(1))
	require.NoError(t, err)
	_, _, err = b.Cancel(engineAddr, true, cancelID, alice)
	require.NoError(t, err)

	enc, err := b.EncodeSnapshot()
	require.NoError(t, err)

	restored, err := DecodeSnapshot(enc, engineAddr, ledger)
	require.NoError(t, err)

	assert.Equal(t, b.ID(), restored.ID())
	assert.Equal(t, b.Base(), restored.Base())
	assert.Equal(t, b.Quote(), restored.Quote())
	assert.Equal(t, b.Lmp(), restored.Lmp())
	assert.Equal(t, uint64(95*PricePrecision), restored.Head(true))
	assert.Equal(t, uint64(105*PricePrecision), restored.Head(false))

	// FIFO order and deposits survive
	orders := restored.GetOrders(false, 105*PricePrecision, 10)
	require.Len(t, orders, 2)
	assert.Equal(t, alice, orders[0].Owner)
	assert.Equal(t, "3000000000000000000", orders[0].Deposit.Dec())
	assert.Equal(t, bob, orders[1].Owner)

	// snapshots of the original and restored books agree
	assert.Equal(t, b.Snapshot(), restored.Snapshot())

	// id counters advance past restored ids
	newID, err := restored.PlaceBid(engineAddr, bob, 90*PricePrecision, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, cancelID+1, newID)
}

func TestSnapshotEmptyBook(t *testing.T) {
	b := newTestBook(t, newMemLedger())
	enc, err := b.EncodeSnapshot()
	require.NoError(t, err)

	restored, err := DecodeSnapshot(enc, engineAddr, newMemLedger())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), restored.Head(true))
	assert.Equal(t, uint64(0), restored.Head(false))
	assert.Equal(t, uint64(0), restored.MktPrice())
}
