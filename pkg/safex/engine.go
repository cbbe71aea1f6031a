// Package safex implements the matching engine of the SAFEX spot
// exchange: deposit and fee handling, price-time matching against the
// per-pair orderbooks, the maker/refund decision for residuals, and
// cancel/rematch. External collaborators (fee oracle, asset ledger,
// decimals oracle, wrapped native) are consumed through narrow
// interfaces.
package safex

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/helinwang/log15"
	"github.com/holiman/uint256"

	"github.com/standardweb3/safex/pkg/orderbook"
)

// MaxMatches caps the number of resting orders one call may consume.
const MaxMatches = 20

// maxAmountBits caps deposits so conversion math stays within 256
// bits: price and dec-diff each fit 64 bits.
const maxAmountBits = 128

// YieldMode configures the chain yield shim recorded at construction.
type YieldMode uint8

const (
	YieldAutomatic YieldMode = iota
	YieldVoid
	YieldClaimable
)

// GasMode configures the chain gas shim recorded at construction.
type GasMode uint8

const (
	GasVoid GasMode = iota
	GasClaimable
)

// ChainOptions carries the chain shim configuration. It is recorded
// for operators and never consulted in the matching path.
type ChainOptions struct {
	Yield    YieldMode
	Gas      GasMode
	Governor common.Address
}

// Config wires an engine.
type Config struct {
	// Addr is the engine's own ledger account, holding deposits
	// between pull and settlement.
	Addr common.Address

	// FeeTo receives collected fees.
	FeeTo common.Address

	Ledger   Ledger
	Decimals DecimalsOracle

	// Fees is optional; without it every order pays the flat
	// default fee.
	Fees FeeOracle

	// Native is optional; without it the native-value entry points
	// fail.
	Native WrappedNative

	// Listener is optional.
	Listener Listener

	Options ChainOptions
}

// Engine is the matching engine. It is single-writer: calls into the
// public surface must be serialized by the caller (the RPC server
// does so), and a collaborator calling back into the engine
// mid-operation is rejected with ErrReentrancy.
type Engine struct {
	addr   common.Address
	feeTo  common.Address
	ledger Ledger
	fees   FeeOracle
	reg    *Registry
	lis    Listener
	native WrappedNative
	opts   ChainOptions

	entered bool
}

func NewEngine(cfg Config) *Engine {
	lis := cfg.Listener
	if lis == nil {
		lis = NopListener{}
	}
	e := &Engine{
		addr:   cfg.Addr,
		feeTo:  cfg.FeeTo,
		ledger: cfg.Ledger,
		fees:   cfg.Fees,
		lis:    lis,
		native: cfg.Native,
		opts:   cfg.Options,
	}
	e.reg = NewRegistry(cfg.Addr, cfg.Ledger, cfg.Decimals)
	return e
}

// SetListener replaces the event listener. It must be called before
// the engine starts serving calls.
func (e *Engine) SetListener(lis Listener) {
	if lis == nil {
		lis = NopListener{}
	}
	e.lis = lis
}

// Addr returns the engine's ledger account.
func (e *Engine) Addr() common.Address { return e.addr }

// Registry returns the pair registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Options returns the chain shim configuration.
func (e *Engine) Options() ChainOptions { return e.opts }

func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrancy
	}
	e.entered = true
	return nil
}

func (e *Engine) leave() {
	e.entered = false
}

// OrderResult reports the outcome of an order call.
type OrderResult struct {
	// MakePrice is the price a residual rested at (or would have).
	MakePrice uint64
	// Matched is the input consumed by the match loop, in the
	// deposit asset.
	Matched *uint256.Int
	// Placed is the residual resting on the book; zero when the
	// residual was refunded or there was none.
	Placed *uint256.Int
	// OrderID is the resting order's id, 0 when nothing rested.
	OrderID uint32
}

// LimitBuy deposits quoteAmount of quote and buys base at up to
// price. The residual is placed as a maker order at the make price
// when isMaker, refunded to recipient otherwise.
func (e *Engine) LimitBuy(sender common.Address, base, quote common.Address, price uint64, quoteAmount *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	return e.limitOrder(sender, base, quote, price, quoteAmount, true, isMaker, n, uid, recipient)
}

// LimitSell deposits baseAmount of base and sells it at no less than
// price.
func (e *Engine) LimitSell(sender common.Address, base, quote common.Address, price uint64, baseAmount *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	return e.limitOrder(sender, base, quote, price, baseAmount, false, isMaker, n, uid, recipient)
}

// MarketBuy buys base with quoteAmount at up to 10% above the market
// price.
func (e *Engine) MarketBuy(sender common.Address, base, quote common.Address, quoteAmount *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	return e.marketOrder(sender, base, quote, quoteAmount, true, isMaker, n, uid, recipient)
}

// MarketSell sells baseAmount of base at down to 10% below the market
// price.
func (e *Engine) MarketSell(sender common.Address, base, quote common.Address, baseAmount *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	return e.marketOrder(sender, base, quote, baseAmount, false, isMaker, n, uid, recipient)
}

// AddPair registers the pair's orderbook. Registering an existing
// pair returns its book unchanged.
func (e *Engine) AddPair(base, quote common.Address) (*orderbook.Orderbook, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()
	return e.resolveBook(base, quote)
}

// resolveBook returns the pair's book, creating and announcing it on
// first use.
func (e *Engine) resolveBook(base, quote common.Address) (*orderbook.Orderbook, error) {
	book, created, err := e.reg.GetOrCreate(base, quote)
	if err != nil {
		return nil, err
	}
	if created {
		baseDec, _ := e.reg.Decimals(base)
		quoteDec, _ := e.reg.Decimals(quote)
		e.lis.OnPairAdded(PairAdded{
			Orderbook:     book.ID(),
			Base:          base,
			Quote:         quote,
			BaseDecimals:  baseDec,
			QuoteDecimals: quoteDec,
		})
	}
	return book, nil
}

func (e *Engine) limitOrder(sender common.Address, base, quote common.Address, price uint64, amount *uint256.Int, isBid, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	var r OrderResult
	if n > MaxMatches {
		return r, &TooManyMatchesError{N: n}
	}
	if price == 0 {
		return r, &NoOrderMadeError{Base: base, Quote: quote}
	}

	book, err := e.resolveBook(base, quote)
	if err != nil {
		return r, err
	}
	if err := checkSpread(book, isBid, price); err != nil {
		log.Warn("limit price outside spread band", "base", base, "quote", quote, "price", price, "err", err)
		return r, err
	}

	remaining, err := e.deposit(sender, book, price, amount, isBid, isMaker, uid)
	if err != nil {
		return r, err
	}
	afterFee := remaining.Clone()

	remaining, err = e.matchLoop(book, sender, remaining, recipient, isBid, price, n)
	if err != nil {
		return r, err
	}

	makePrice := snapMakePrice(book, isBid, price)
	placed, id, err := e.detMake(book, isBid, isMaker, remaining, makePrice, recipient)
	if err != nil {
		return r, err
	}

	return OrderResult{
		MakePrice: makePrice,
		Matched:   new(uint256.Int).Sub(afterFee, remaining),
		Placed:    placed,
		OrderID:   id,
	}, nil
}

func (e *Engine) marketOrder(sender common.Address, base, quote common.Address, amount *uint256.Int, isBid, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	var r OrderResult
	if n > MaxMatches {
		return r, &TooManyMatchesError{N: n}
	}

	book, err := e.resolveBook(base, quote)
	if err != nil {
		return r, err
	}
	mp := book.MktPrice()
	if mp == 0 {
		return r, ErrNoLastMatchedPrice
	}

	// synthetic limit 10% around the mark
	var limit uint64
	if isBid {
		limit = mulDiv64(mp, 11, 10)
	} else {
		limit = mulDiv64(mp, 9, 10)
	}
	if limit == 0 {
		return r, &NoOrderMadeError{Base: base, Quote: quote}
	}

	remaining, err := e.deposit(sender, book, limit, amount, isBid, isMaker, uid)
	if err != nil {
		return r, err
	}
	afterFee := remaining.Clone()

	remaining, err = e.matchLoop(book, sender, remaining, recipient, isBid, limit, n)
	if err != nil {
		return r, err
	}

	makePrice := snapMakePrice(book, isBid, limit)
	placed, id, err := e.detMake(book, isBid, isMaker, remaining, makePrice, recipient)
	if err != nil {
		return r, err
	}

	return OrderResult{
		MakePrice: makePrice,
		Matched:   new(uint256.Int).Sub(afterFee, remaining),
		Placed:    placed,
		OrderID:   id,
	}, nil
}

// deposit pulls the order's input from the sender, carves out the
// fee, and reports reportable volume. The balance is checked before
// any effect so a rejected deposit leaves no trace.
func (e *Engine) deposit(sender common.Address, book *orderbook.Orderbook, price uint64, amount *uint256.Int, isBid, isMaker bool, uid uint64) (*uint256.Int, error) {
	if amount.BitLen() > maxAmountBits {
		return nil, ErrAmountOverflow
	}

	give := book.DepositAsset(isBid)
	converted := book.Convert(price, amount, !isBid)
	minRequired := book.Convert(price, uint256.NewInt(1), isBid)
	if converted.Cmp(minRequired) <= 0 {
		return nil, &OrderSizeTooSmallError{Amount: converted.ToBig(), Min: minRequired.ToBig()}
	}

	if have := e.ledger.BalanceOf(give, sender); have.Cmp(amount) < 0 {
		return nil, &InsufficientBalanceError{Token: give, Owner: sender, Have: have.ToBig(), Need: amount.ToBig()}
	}

	fee, reportable := e.feeFor(sender, uid, amount, isMaker)
	if reportable {
		e.fees.Report(uid, give, amount, true)
	}
	if err := e.ledger.Transfer(give, sender, e.addr, amount); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(give, e.addr, e.feeTo, fee); err != nil {
			return nil, err
		}
	}
	e.lis.OnOrderDeposit(OrderDeposit{Sender: sender, Asset: give, Fee: fee.Clone()})
	return new(uint256.Int).Sub(amount, fee), nil
}

// matchLoop walks the opposite side best-price-first, consuming
// levels within the limit until the input runs out, the book side
// empties, or the match budget is spent.
func (e *Engine) matchLoop(book *orderbook.Orderbook, sender common.Address, remaining *uint256.Int, recipient common.Address, isBid bool, limitPrice uint64, n uint32) (*uint256.Int, error) {
	var i uint32
	var lmpLocal uint64

	opposite := book.ClearEmptyHead(!isBid)
	for remaining.Sign() > 0 && opposite != 0 && priceCrosses(isBid, opposite, limitPrice) && i < n {
		lmpLocal = opposite
		var err error
		remaining, i, err = e.matchAt(book, sender, recipient, isBid, remaining, opposite, i, n)
		if err != nil {
			return remaining, err
		}
		if i == 0 {
			opposite = 0
		} else {
			opposite = book.ClearEmptyHead(!isBid)
		}
	}

	if lmpLocal != 0 {
		if err := book.SetLmp(e.addr, lmpLocal); err != nil {
			return remaining, err
		}
	} else {
		book.ClearEmptyHead(isBid)
	}
	return remaining, nil
}

// matchAt consumes resting orders FIFO at one price level.
func (e *Engine) matchAt(book *orderbook.Orderbook, sender, recipient common.Address, isBid bool, remaining *uint256.Int, price uint64, i, n uint32) (*uint256.Int, uint32, error) {
	give := book.DepositAsset(isBid)

	for remaining.Sign() > 0 && !book.IsEmpty(!isBid, price) && i < n {
		id, required, clearLevel := book.Fpop(!isBid, price, remaining)

		if remaining.Cmp(required) <= 0 {
			// the resting order absorbs the rest of the input
			if err := book.SetLmp(e.addr, price); err != nil {
				return remaining, i, err
			}
			if err := e.ledger.Transfer(give, e.addr, book.Addr(), remaining); err != nil {
				return remaining, i, err
			}
			maker, err := book.Execute(e.addr, id, !isBid, recipient, remaining, clearLevel)
			if err != nil {
				return remaining, i, err
			}
			e.lis.OnOrderMatched(OrderMatched{
				Orderbook: book.ID(), ID: id, IsBid: isBid,
				Taker: sender, Maker: maker, Price: price, Amount: remaining.Clone(),
			})
			return new(uint256.Int), n, nil
		}

		if required.IsZero() {
			// dust head no match can consume: pop it, refund the
			// owner, and spend one match on it
			if err := book.DropHead(e.addr, !isBid, price); err != nil {
				return remaining, i, err
			}
			i++
			continue
		}

		remaining.Sub(remaining, required)
		if err := e.ledger.Transfer(give, e.addr, book.Addr(), required); err != nil {
			return remaining, i, err
		}
		maker, err := book.Execute(e.addr, id, !isBid, recipient, required, clearLevel)
		if err != nil {
			return remaining, i, err
		}
		e.lis.OnOrderMatched(OrderMatched{
			Orderbook: book.ID(), ID: id, IsBid: isBid,
			Taker: sender, Maker: maker, Price: price, Amount: required.Clone(),
		})
		i++
	}
	return remaining, i, nil
}

// detMake decides what happens to the unmatched residual: rest it on
// the book at makePrice when the caller wants to make, refund it
// otherwise. Residuals too small to ever be consumed are refunded
// regardless.
func (e *Engine) detMake(book *orderbook.Orderbook, isBid, isMaker bool, remaining *uint256.Int, makePrice uint64, recipient common.Address) (*uint256.Int, uint32, error) {
	if remaining.Sign() == 0 {
		return new(uint256.Int), 0, nil
	}

	give := book.DepositAsset(isBid)
	if !isMaker || book.Convert(makePrice, remaining, !isBid).IsZero() {
		if err := e.ledger.Transfer(give, e.addr, recipient, remaining); err != nil {
			return nil, 0, err
		}
		return new(uint256.Int), 0, nil
	}

	if err := e.ledger.Transfer(give, e.addr, book.Addr(), remaining); err != nil {
		return nil, 0, err
	}
	var id uint32
	var err error
	if isBid {
		id, err = book.PlaceBid(e.addr, recipient, makePrice, remaining)
	} else {
		id, err = book.PlaceAsk(e.addr, recipient, makePrice, remaining)
	}
	if err != nil {
		return nil, 0, err
	}
	e.lis.OnOrderPlaced(OrderPlaced{
		Orderbook: book.ID(), ID: id, Owner: recipient,
		IsBid: isBid, Price: makePrice, Amount: remaining.Clone(),
	})
	return remaining.Clone(), id, nil
}

// snapMakePrice snaps the resting price to the opposite head when resting
// at the taker's own limit would cross the book.
func snapMakePrice(book *orderbook.Orderbook, isBid bool, limit uint64) uint64 {
	if isBid {
		askHead := book.Head(false)
		if askHead == 0 || limit < askHead {
			return limit
		}
		return askHead
	}
	bidHead := book.Head(true)
	if bidHead == 0 || limit > bidHead {
		return limit
	}
	return bidHead
}

// checkSpread enforces the 10% band around the last matched price.
func checkSpread(book *orderbook.Orderbook, isBid bool, limit uint64) error {
	lmp := book.Lmp()
	if lmp == 0 {
		return nil
	}
	if isBid {
		floor := mulDiv64(lmp, 9, 10)
		if limit < floor {
			return &BidPriceTooLowError{Limit: limit, Lmp: lmp, Floor: floor}
		}
		return nil
	}
	ceiling := mulDiv64(lmp, 11, 10)
	if limit > ceiling {
		return &AskPriceTooHighError{Limit: limit, Lmp: lmp, Ceiling: ceiling}
	}
	return nil
}

func priceCrosses(isBid bool, opposite, limit uint64) bool {
	if isBid {
		return opposite <= limit
	}
	return opposite >= limit
}

// mulDiv64 computes a*b/den without intermediate overflow,
// saturating at the uint64 maximum.
func mulDiv64(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// CancelRequest identifies one resting order to cancel.
type CancelRequest struct {
	Base    common.Address
	Quote   common.Address
	IsBid   bool
	OrderID uint32
}

// CancelResult is the per-element outcome of a bulk cancel.
type CancelResult struct {
	Refunded *uint256.Int
	Err      error
}

// CancelOrder removes the sender's resting order and refunds its
// deposit. Reportable uids get their recorded volume reversed and the
// flat fee overhead rebated.
func (e *Engine) CancelOrder(sender common.Address, base, quote common.Address, isBid bool, id uint32, uid uint64) (*uint256.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()
	return e.cancelOrder(sender, base, quote, isBid, id, uid)
}

func (e *Engine) cancelOrder(sender common.Address, base, quote common.Address, isBid bool, id uint32, uid uint64) (*uint256.Int, error) {
	book := e.reg.Get(base, quote)
	if book == nil {
		return nil, &InvalidPairError{Base: base, Quote: quote}
	}

	refund, _, err := book.Cancel(e.addr, isBid, id, sender)
	if err != nil {
		return nil, err
	}

	asset := book.DepositAsset(isBid)
	if uid != 0 && e.fees != nil && e.fees.IsReportable(sender, uid) {
		e.fees.Report(uid, asset, refund, false)
		rebate := new(uint256.Int).Div(refund, uint256.NewInt(defaultFeeDiv))
		e.fees.RefundFee(sender, asset, rebate)
	}
	e.lis.OnOrderCanceled(OrderCanceled{
		Orderbook: book.ID(), ID: id, IsBid: isBid, Owner: sender, Amount: refund.Clone(),
	})
	return refund, nil
}

// CancelOrders cancels a batch, one outcome per element. A failed
// element does not undo earlier cancels.
func (e *Engine) CancelOrders(sender common.Address, reqs []CancelRequest, uid uint64) []CancelResult {
	results := make([]CancelResult, len(reqs))
	if err := e.enter(); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}
	defer e.leave()

	for i, req := range reqs {
		refund, err := e.cancelOrder(sender, req.Base, req.Quote, req.IsBid, req.OrderID, uid)
		results[i] = CancelResult{Refunded: refund, Err: err}
	}
	return results
}

// RematchOrder cancels the sender's resting order and re-enters its
// deposit as a fresh limit or market order on the same side, with the
// sender as recipient.
func (e *Engine) RematchOrder(sender common.Address, base, quote common.Address, isBid bool, id uint32, isMarket, isMaker bool, n uint32, uid uint64) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()

	book := e.reg.Get(base, quote)
	if book == nil {
		return OrderResult{}, &InvalidPairError{Base: base, Quote: quote}
	}
	order, ok := book.GetOrder(isBid, id)
	if !ok {
		return OrderResult{}, orderbook.ErrOrderNotFound
	}

	refund, err := e.cancelOrder(sender, base, quote, isBid, id, uid)
	if err != nil {
		return OrderResult{}, err
	}

	if isMarket {
		return e.marketOrder(sender, base, quote, refund, isBid, isMaker, n, uid, sender)
	}
	return e.limitOrder(sender, base, quote, order.Price, refund, isBid, isMaker, n, uid, sender)
}

// LimitBuyNative wraps the native value and buys base with it; the
// pair's quote is the wrapped native token.
func (e *Engine) LimitBuyNative(sender common.Address, base common.Address, price uint64, value *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	if e.native == nil {
		return OrderResult{}, ErrNoWrappedNative
	}
	if err := e.native.Deposit(sender, value); err != nil {
		return OrderResult{}, err
	}
	return e.limitOrder(sender, base, e.native.Token(), price, value, true, isMaker, n, uid, recipient)
}

// LimitSellNative wraps the native value and sells it for quote; the
// pair's base is the wrapped native token.
func (e *Engine) LimitSellNative(sender common.Address, quote common.Address, price uint64, value *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	if e.native == nil {
		return OrderResult{}, ErrNoWrappedNative
	}
	if err := e.native.Deposit(sender, value); err != nil {
		return OrderResult{}, err
	}
	return e.limitOrder(sender, e.native.Token(), quote, price, value, false, isMaker, n, uid, recipient)
}

// MarketBuyNative wraps the native value and market-buys base.
func (e *Engine) MarketBuyNative(sender common.Address, base common.Address, value *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	if e.native == nil {
		return OrderResult{}, ErrNoWrappedNative
	}
	if err := e.native.Deposit(sender, value); err != nil {
		return OrderResult{}, err
	}
	return e.marketOrder(sender, base, e.native.Token(), value, true, isMaker, n, uid, recipient)
}

// MarketSellNative wraps the native value and market-sells it.
func (e *Engine) MarketSellNative(sender common.Address, quote common.Address, value *uint256.Int, isMaker bool, n uint32, uid uint64, recipient common.Address) (OrderResult, error) {
	if err := e.enter(); err != nil {
		return OrderResult{}, err
	}
	defer e.leave()
	if e.native == nil {
		return OrderResult{}, ErrNoWrappedNative
	}
	if err := e.native.Deposit(sender, value); err != nil {
		return OrderResult{}, err
	}
	return e.marketOrder(sender, e.native.Token(), quote, value, false, isMaker, n, uid, recipient)
}

// MktPrice returns the pair's market price: the last matched price,
// else the best resting price.
func (e *Engine) MktPrice(base, quote common.Address) (uint64, error) {
	book := e.reg.Get(base, quote)
	if book == nil {
		return 0, &InvalidPairError{Base: base, Quote: quote}
	}
	return book.MktPrice(), nil
}

// Convert values amount at the pair's market price. A same-token pair
// returns the amount unchanged; an unknown pair returns zero.
func (e *Engine) Convert(base, quote common.Address, amount *uint256.Int, isBid bool) *uint256.Int {
	if base == quote {
		return amount.Clone()
	}
	book := e.reg.Get(base, quote)
	if book == nil {
		return new(uint256.Int)
	}
	return book.AssetValue(amount, isBid)
}
