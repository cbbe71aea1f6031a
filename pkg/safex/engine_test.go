package safex

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardweb3/safex/pkg/orderbook"
)

var (
	engineAcct = common.HexToAddress("0xe4617e")
	treasury   = common.HexToAddress("0xfee")
	baseTok    = common.HexToAddress("0x1111")
	quoteTok   = common.HexToAddress("0x2222")
	maker      = common.HexToAddress("0xaaaa")
	taker      = common.HexToAddress("0xbbbb")
	third      = common.HexToAddress("0xcccc")
)

func u(dec string) *uint256.Int {
	return uint256.MustFromDecimal(dec)
}

func newTestEngine(t *testing.T) (*Engine, *MemLedger) {
	t.Helper()
	ledger := NewMemLedger()
	tokens := NewTokenTable()
	tokens.Register(baseTok, TokenInfo{Symbol: "ALPHA", Decimals: 18})
	tokens.Register(quoteTok, TokenInfo{Symbol: "BETA", Decimals: 18})
	return NewEngine(Config{
		Addr:     engineAcct,
		FeeTo:    treasury,
		Ledger:   ledger,
		Decimals: tokens,
	}), ledger
}

// recorder captures engine events for assertions.
type recorder struct {
	NopListener
	pairs    []PairAdded
	placed   []OrderPlaced
	matched  []OrderMatched
	canceled []OrderCanceled
}

func (r *recorder) OnPairAdded(e PairAdded)         { r.pairs = append(r.pairs, e) }
func (r *recorder) OnOrderPlaced(e OrderPlaced)     { r.placed = append(r.placed, e) }
func (r *recorder) OnOrderMatched(e OrderMatched)   { r.matched = append(r.matched, e) }
func (r *recorder) OnOrderCanceled(e OrderCanceled) { r.canceled = append(r.canceled, e) }

const p1000 = uint64(1000) * orderbook.PricePrecision

// Place an ask of 10e18 base at 1000, then consume it exactly with a
// limit buy. Both sides pay the flat 1% fee, so the 9.9e18 resting
// base matches the 9900e18 post-fee quote input exactly.
func TestPlaceAndMatchSingleLevel(t *testing.T) {
	e, ledger := newTestEngine(t)

	sellAmt := u("10000000000000000000")
	ledger.Mint(baseTok, maker, sellAmt)
	res, err := e.LimitSell(maker, baseTok, quoteTok, p1000, sellAmt, true, 2, 0, maker)
	require.NoError(t, err)
	require.NotZero(t, res.OrderID)
	assert.Equal(t, "9900000000000000000", res.Placed.Dec())
	assert.Equal(t, p1000, res.MakePrice)

	buyAmt := u("10000000000000000000000")
	ledger.Mint(quoteTok, taker, buyAmt)
	res, err = e.LimitBuy(taker, baseTok, quoteTok, p1000, buyAmt, false, 2, 0, taker)
	require.NoError(t, err)
	assert.Equal(t, "9900000000000000000000", res.Matched.Dec())
	assert.True(t, res.Placed.IsZero())
	assert.Zero(t, res.OrderID)

	book := e.Registry().Get(baseTok, quoteTok)
	require.NotNil(t, book)
	assert.Equal(t, p1000, book.Lmp())
	assert.Equal(t, uint64(0), book.Head(true))
	assert.Equal(t, uint64(0), book.Head(false))

	// settlement: maker holds quote, taker holds base
	assert.Equal(t, "9900000000000000000000", ledger.BalanceOf(quoteTok, maker).Dec())
	assert.Equal(t, "9900000000000000000", ledger.BalanceOf(baseTok, taker).Dec())

	// fees: 0.1e18 base + 100e18 quote
	assert.Equal(t, "100000000000000000", ledger.BalanceOf(baseTok, treasury).Dec())
	assert.Equal(t, "100000000000000000000", ledger.BalanceOf(quoteTok, treasury).Dec())

	// nothing left in flight
	assert.True(t, ledger.BalanceOf(baseTok, engineAcct).IsZero())
	assert.True(t, ledger.BalanceOf(quoteTok, engineAcct).IsZero())
	assert.True(t, ledger.BalanceOf(baseTok, book.Addr()).IsZero())
	assert.True(t, ledger.BalanceOf(quoteTok, book.Addr()).IsZero())
}

// A buy that consumes part of the resting head leaves the same order
// at the head, reduced by the base equivalent of the consumed quote.
func TestPartialFillPreservesHead(t *testing.T) {
	e, ledger := newTestEngine(t)
	price := uint64(100) * orderbook.PricePrecision

	ledger.Mint(baseTok, maker, u("10000000000000000000"))
	res, err := e.LimitSell(maker, baseTok, quoteTok, price, u("10000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	askID := res.OrderID

	// 300e18 quote in, 297e18 after fee, 2.97e18 base consumed
	ledger.Mint(quoteTok, taker, u("300000000000000000000"))
	_, err = e.LimitBuy(taker, baseTok, quoteTok, price, u("300000000000000000000"), false, 2, 0, taker)
	require.NoError(t, err)

	book := e.Registry().Get(baseTok, quoteTok)
	orders := book.GetOrders(false, price, 10)
	require.Len(t, orders, 1)
	assert.Equal(t, askID, orders[0].ID)
	assert.Equal(t, "6930000000000000000", orders[0].Deposit.Dec())
	assert.Equal(t, "2970000000000000000", ledger.BalanceOf(baseTok, taker).Dec())
}

func TestSpreadGuardRejects(t *testing.T) {
	e, ledger := newTestEngine(t)
	seedLmp(t, e, ledger, p1000)

	book := e.Registry().Get(baseTok, quoteTok)
	require.Equal(t, p1000, book.Lmp())
	before := book.Snapshot()

	ledger.Mint(baseTok, maker, u("1000000000000000000"))
	_, err := e.LimitSell(maker, baseTok, quoteTok, p1000*12/10, u("1000000000000000000"), true, 2, 0, maker)
	var aerr *AskPriceTooHighError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, p1000*12/10, aerr.Limit)
	assert.Equal(t, p1000, aerr.Lmp)
	assert.Equal(t, p1000*11/10, aerr.Ceiling)

	// no state change: deposit untouched, book identical
	assert.Equal(t, "1000000000000000000", ledger.BalanceOf(baseTok, maker).Dec())
	assert.Equal(t, before, book.Snapshot())

	ledger.Mint(quoteTok, taker, u("1000000000000000000"))
	_, err = e.LimitBuy(taker, baseTok, quoteTok, p1000*8/10, u("1000000000000000000"), true, 2, 0, taker)
	var berr *BidPriceTooLowError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, p1000*9/10, berr.Floor)
}

// seedLmp trades a small exact amount so the pair has a last matched
// price of price.
func seedLmp(t *testing.T, e *Engine, ledger *MemLedger, price uint64) {
	t.Helper()
	ledger.Mint(baseTok, maker, u("10000000000000000000"))
	_, err := e.LimitSell(maker, baseTok, quoteTok, price, u("10000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	ledger.Mint(quoteTok, taker, u("10000000000000000000000"))
	_, err = e.LimitBuy(taker, baseTok, quoteTok, price, u("10000000000000000000000"), false, 2, 0, taker)
	require.NoError(t, err)
}

// Two makers at the same price fill strictly in arrival order, across
// two separate market buys.
func TestPriceTimePriority(t *testing.T) {
	e, ledger := newTestEngine(t)
	price := uint64(100) * orderbook.PricePrecision

	ledger.Mint(baseTok, maker, u("5000000000000000000"))
	ledger.Mint(baseTok, third, u("5000000000000000000"))
	res1, err := e.LimitSell(maker, baseTok, quoteTok, price, u("5000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	res2, err := e.LimitSell(third, baseTok, quoteTok, price, u("5000000000000000000"), true, 2, 0, third)
	require.NoError(t, err)
	require.Less(t, res1.OrderID, res2.OrderID)

	rec := &recorder{}
	e.lis = rec

	// first buy: 396e18 after fee, partially consumes the first ask
	ledger.Mint(quoteTok, taker, u("1200000000000000000000"))
	_, err = e.MarketBuy(taker, baseTok, quoteTok, u("400000000000000000000"), false, 5, 0, taker)
	require.NoError(t, err)
	require.Len(t, rec.matched, 1)
	assert.Equal(t, res1.OrderID, rec.matched[0].ID)
	assert.Equal(t, maker, rec.matched[0].Maker)
	assert.Equal(t, "396000000000000000000", ledger.BalanceOf(quoteTok, maker).Dec())
	assert.True(t, ledger.BalanceOf(quoteTok, third).IsZero())

	// second buy: finishes the first ask, then eats into the second
	_, err = e.MarketBuy(taker, baseTok, quoteTok, u("800000000000000000000"), false, 5, 0, taker)
	require.NoError(t, err)
	require.Len(t, rec.matched, 3)
	assert.Equal(t, res1.OrderID, rec.matched[1].ID)
	assert.Equal(t, res2.OrderID, rec.matched[2].ID)
	assert.Equal(t, "495000000000000000000", ledger.BalanceOf(quoteTok, maker).Dec())
	assert.Equal(t, "495000000000000000000", ledger.BalanceOf(quoteTok, third).Dec())

	// the second maker's ask is gone; the residual was refunded
	book := e.Registry().Get(baseTok, quoteTok)
	assert.Equal(t, uint64(0), book.Head(false))
	assert.Equal(t, "198000000000000000000", ledger.BalanceOf(quoteTok, taker).Dec())
}

func TestCancelRefund(t *testing.T) {
	e, ledger := newTestEngine(t)

	ledger.Mint(baseTok, maker, u("7000000000000000000"))
	res, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("7000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	book := e.Registry().Get(baseTok, quoteTok)
	refund, err := e.CancelOrder(maker, baseTok, quoteTok, false, res.OrderID, 0)
	require.NoError(t, err)

	// the full resting deposit (after the 1% deposit fee) comes back
	assert.Equal(t, "6930000000000000000", refund.Dec())
	assert.Equal(t, "6930000000000000000", ledger.BalanceOf(baseTok, maker).Dec())
	assert.Equal(t, uint64(0), book.Head(false))

	// canceling again fails cleanly
	_, err = e.CancelOrder(maker, baseTok, quoteTok, false, res.OrderID, 0)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestCancelWrongOwner(t *testing.T) {
	e, ledger := newTestEngine(t)

	ledger.Mint(baseTok, maker, u("7000000000000000000"))
	res, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("7000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	_, err = e.CancelOrder(taker, baseTok, quoteTok, false, res.OrderID, 0)
	var uerr *orderbook.UnauthorizedError
	assert.ErrorAs(t, err, &uerr)
}

func TestCancelUnknownPair(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CancelOrder(maker, baseTok, quoteTok, false, 1, 0)
	var perr *InvalidPairError
	assert.ErrorAs(t, err, &perr)
}

// A bid whose quote amount is exactly the quote value of one base
// unit is refused as dust.
func TestOrderSizeTooSmall(t *testing.T) {
	e, ledger := newTestEngine(t)

	minQuote := uint256.NewInt(1000) // convert(1 base unit -> quote) at price 1000
	ledger.Mint(quoteTok, taker, minQuote)
	_, err := e.LimitBuy(taker, baseTok, quoteTok, p1000, minQuote, false, 2, 0, taker)
	var serr *OrderSizeTooSmallError
	require.ErrorAs(t, err, &serr)

	// no deposit was pulled
	assert.Equal(t, "1000", ledger.BalanceOf(quoteTok, taker).Dec())
}

func TestTooManyMatches(t *testing.T) {
	e, ledger := newTestEngine(t)
	ledger.Mint(quoteTok, taker, u("1000000000000000000"))
	_, err := e.LimitBuy(taker, baseTok, quoteTok, p1000, u("1000000000000000000"), false, MaxMatches+1, 0, taker)
	var merr *TooManyMatchesError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, uint32(MaxMatches+1), merr.N)
}

func TestMarketOrderNeedsPrice(t *testing.T) {
	e, ledger := newTestEngine(t)
	ledger.Mint(quoteTok, taker, u("1000000000000000000"))
	_, err := e.MarketBuy(taker, baseTok, quoteTok, u("1000000000000000000"), false, 2, 0, taker)
	assert.ErrorIs(t, err, ErrNoLastMatchedPrice)
}

func TestZeroPriceRejected(t *testing.T) {
	e, ledger := newTestEngine(t)
	ledger.Mint(quoteTok, taker, u("1000000000000000000"))
	_, err := e.LimitBuy(taker, baseTok, quoteTok, 0, u("1000000000000000000"), false, 2, 0, taker)
	var nerr *NoOrderMadeError
	assert.ErrorAs(t, err, &nerr)
}

// A market sell residual rests at max(mp*9/10, bidHead) when the
// caller makes, and the book is never crossed at rest.
func TestMarketSellResidualRests(t *testing.T) {
	e, ledger := newTestEngine(t)
	seedLmp(t, e, ledger, p1000)
	book := e.Registry().Get(baseTok, quoteTok)

	ledger.Mint(baseTok, third, u("2000000000000000000"))
	res, err := e.MarketSell(third, baseTok, quoteTok, u("2000000000000000000"), true, 5, 0, third)
	require.NoError(t, err)
	require.NotZero(t, res.OrderID)
	assert.Equal(t, mulDiv64(p1000, 9, 10), res.MakePrice)
	assert.Equal(t, res.MakePrice, book.Head(false))

	bh, ah := book.Head(true), book.Head(false)
	if bh != 0 && ah != 0 {
		assert.LessOrEqual(t, bh, ah)
	}
}

// Residual of a non-maker order is refunded to the recipient, not
// rested.
func TestTakerResidualRefunded(t *testing.T) {
	e, ledger := newTestEngine(t)

	ledger.Mint(quoteTok, taker, u("1000000000000000000000"))
	res, err := e.LimitBuy(taker, baseTok, quoteTok, p1000, u("1000000000000000000000"), false, 2, 0, third)
	require.NoError(t, err)
	assert.Zero(t, res.OrderID)
	assert.True(t, res.Placed.IsZero())
	assert.True(t, res.Matched.IsZero())

	// 1% fee went to treasury, the rest came back to the recipient
	assert.Equal(t, "990000000000000000000", ledger.BalanceOf(quoteTok, third).Dec())
}

func TestPlaceCancelLeavesBookIdentical(t *testing.T) {
	e, ledger := newTestEngine(t)
	seedLmp(t, e, ledger, p1000)
	book := e.Registry().Get(baseTok, quoteTok)

	before := book.Snapshot()
	ledger.Mint(baseTok, maker, u("3000000000000000000"))
	res, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("3000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	_, err = e.CancelOrder(maker, baseTok, quoteTok, false, res.OrderID, 0)
	require.NoError(t, err)

	after := book.Snapshot()
	before.Asks.LastID = after.Asks.LastID
	assert.Equal(t, before, after)
}

func TestRematchOrder(t *testing.T) {
	e, ledger := newTestEngine(t)
	seedLmp(t, e, ledger, p1000)

	ledger.Mint(baseTok, maker, u("3000000000000000000"))
	res, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("3000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	resting := res.Placed.Clone()

	re, err := e.RematchOrder(maker, baseTok, quoteTok, false, res.OrderID, false, true, 2, 0)
	require.NoError(t, err)
	require.NotZero(t, re.OrderID)
	assert.NotEqual(t, res.OrderID, re.OrderID)
	assert.Equal(t, p1000, re.MakePrice)

	// the re-entered deposit pays the fee again
	expected := new(uint256.Int).Sub(resting, new(uint256.Int).Div(resting, uint256.NewInt(100)))
	assert.Equal(t, expected.Dec(), re.Placed.Dec())

	book := e.Registry().Get(baseTok, quoteTok)
	orders := book.GetOrders(false, p1000, 10)
	require.Len(t, orders, 1)
	assert.Equal(t, re.OrderID, orders[0].ID)
}

func TestCancelOrdersBulk(t *testing.T) {
	e, ledger := newTestEngine(t)

	ledger.Mint(baseTok, maker, u("10000000000000000000"))
	res1, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("5000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	res2, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("5000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	results := e.CancelOrders(maker, []CancelRequest{
		{Base: baseTok, Quote: quoteTok, IsBid: false, OrderID: res1.OrderID},
		{Base: baseTok, Quote: quoteTok, IsBid: false, OrderID: 9999},
		{Base: baseTok, Quote: quoteTok, IsBid: false, OrderID: res2.OrderID},
	}, 0)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, orderbook.ErrOrderNotFound)

	// the failure in the middle does not undo its neighbors
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "9900000000000000000", ledger.BalanceOf(baseTok, maker).Dec())
}

// reentrantListener calls back into the engine from an event.
type reentrantListener struct {
	NopListener
	e   *Engine
	err error
}

func (l *reentrantListener) OnOrderPlaced(OrderPlaced) {
	_, l.err = l.e.CancelOrder(maker, baseTok, quoteTok, false, 1, 0)
}

func TestReentrancyRejected(t *testing.T) {
	e, ledger := newTestEngine(t)
	lis := &reentrantListener{e: e}
	e.lis = lis

	ledger.Mint(baseTok, maker, u("1000000000000000000"))
	_, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("1000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	assert.ErrorIs(t, lis.err, ErrReentrancy)
}

func TestInsufficientBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("1000000000000000000"), true, 2, 0, maker)
	var berr *InsufficientBalanceError
	assert.ErrorAs(t, err, &berr)
}

func TestPairAddedOnce(t *testing.T) {
	e, ledger := newTestEngine(t)
	rec := &recorder{}
	e.lis = rec

	ledger.Mint(baseTok, maker, u("2000000000000000000"))
	_, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("1000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)
	_, err = e.LimitSell(maker, baseTok, quoteTok, p1000, u("1000000000000000000"), true, 2, 0, maker)
	require.NoError(t, err)

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, uint64(1), rec.pairs[0].Orderbook)
	assert.Equal(t, uint8(18), rec.pairs[0].BaseDecimals)

	// AddPair on the existing pair is an idempotent no-op
	book, err := e.AddPair(baseTok, quoteTok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), book.ID())
	assert.Len(t, rec.pairs, 1)
}

func TestNativeOrders(t *testing.T) {
	ledger := NewMemLedger()
	tokens := NewTokenTable()
	weth := common.HexToAddress("0x3333")
	tokens.Register(baseTok, TokenInfo{Symbol: "ALPHA", Decimals: 18})
	tokens.Register(weth, TokenInfo{Symbol: "WETH", Decimals: 18})
	e := NewEngine(Config{
		Addr:     engineAcct,
		FeeTo:    treasury,
		Ledger:   ledger,
		Decimals: tokens,
		Native:   NewWETH(weth, ledger),
	})

	// the native value wraps and rests as a bid in wrapped quote
	res, err := e.LimitBuyNative(taker, baseTok, p1000, u("1000000000000000000000"), true, 2, 0, taker)
	require.NoError(t, err)
	require.NotZero(t, res.OrderID)

	book := e.Registry().Get(baseTok, weth)
	require.NotNil(t, book)
	assert.Equal(t, p1000, book.Head(true))
}

func TestNativeWithoutBridge(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.LimitBuyNative(taker, baseTok, p1000, u("1000000000000000000"), true, 2, 0, taker)
	assert.ErrorIs(t, err, ErrNoWrappedNative)
}

// Token conservation: everything minted is either resting with the
// book, settled to a party, with the treasury, or refunded.
func TestConservation(t *testing.T) {
	e, ledger := newTestEngine(t)

	ledger.Mint(baseTok, maker, u("10000000000000000000"))
	ledger.Mint(quoteTok, taker, u("5000000000000000000000"))

	_, err := e.LimitSell(maker, baseTok, quoteTok, p1000, u("10000000000000000000"), true, 5, 0, maker)
	require.NoError(t, err)
	_, err = e.LimitBuy(taker, baseTok, quoteTok, p1000, u("5000000000000000000000"), true, 5, 0, taker)
	require.NoError(t, err)

	book := e.Registry().Get(baseTok, quoteTok)
	for _, tok := range []common.Address{baseTok, quoteTok} {
		total := new(uint256.Int)
		for _, holder := range []common.Address{maker, taker, third, treasury, engineAcct, book.Addr()} {
			total.Add(total, ledger.BalanceOf(tok, holder))
		}
		if tok == baseTok {
			assert.Equal(t, "10000000000000000000", total.Dec())
		} else {
			assert.Equal(t, "5000000000000000000000", total.Dec())
		}
	}

	// the engine account never retains funds between calls
	assert.True(t, ledger.BalanceOf(baseTok, engineAcct).IsZero())
	assert.True(t, ledger.BalanceOf(quoteTok, engineAcct).IsZero())
}

func TestConvertView(t *testing.T) {
	e, ledger := newTestEngine(t)

	assert.Equal(t, "42", e.Convert(baseTok, baseTok, uint256.NewInt(42), true).Dec())
	assert.True(t, e.Convert(baseTok, quoteTok, uint256.NewInt(42), true).IsZero())

	seedLmp(t, e, ledger, p1000)
	assert.Equal(t, "42000", e.Convert(baseTok, quoteTok, uint256.NewInt(42), true).Dec())

	mp, err := e.MktPrice(baseTok, quoteTok)
	require.NoError(t, err)
	assert.Equal(t, p1000, mp)
}
