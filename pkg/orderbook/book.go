// Package orderbook implements a central limit order book for one
// trading pair: a sorted price list per side, per-price FIFO queues
// of resting orders, and the fixed-point conversion between the
// pair's assets.
//
// Inspired by voyager who wrote "QuantCup 1: Price-Time Matching
// Engine":
// https://gist.github.com/helinwang/935ab9558195a6ea8c16567caef5911b
package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transferer moves fungible balances between ledger accounts. The
// book uses it to settle matches and to pay refunds out of its own
// deposit account.
type Transferer interface {
	Transfer(token common.Address, from, to common.Address, amount *uint256.Int) error
}

// Order is the public view of a resting order.
type Order struct {
	ID      uint32
	Owner   common.Address
	Price   uint64
	Deposit *uint256.Int
}

// Orderbook is the order book of one trading pair. A bid deposits the
// quote asset, an ask deposits the base asset; deposits are held in
// the book's own ledger account until executed or canceled.
//
// The book is owned by a single matching engine: every mutating call
// takes the caller's address and fails with InvalidAccessError unless
// it matches the engine the book was built with.
type Orderbook struct {
	id     uint64
	addr   common.Address
	engine common.Address
	base   common.Address
	quote  common.Address

	decDiff     uint64
	baseGeQuote bool
	lmp         uint64

	ledger Transferer
	bids   *side
	asks   *side
}

// New builds the book for (base, quote). decDiff is derived from the
// token decimals once here and never recomputed.
func New(id uint64, addr, engine, base, quote common.Address, baseDec, quoteDec uint8, ledger Transferer) (*Orderbook, error) {
	if baseDec > MaxDecimals || quoteDec > MaxDecimals {
		return nil, &InvalidDecimalsError{BaseDec: baseDec, QuoteDec: quoteDec}
	}

	b := &Orderbook{
		id:          id,
		addr:        addr,
		engine:      engine,
		base:        base,
		quote:       quote,
		baseGeQuote: baseDec >= quoteDec,
		ledger:      ledger,
		bids:        newSide(true),
		asks:        newSide(false),
	}
	if b.baseGeQuote {
		b.decDiff = pow10(baseDec - quoteDec)
	} else {
		b.decDiff = pow10(quoteDec - baseDec)
	}
	return b, nil
}

func (b *Orderbook) ID() uint64            { return b.id }
func (b *Orderbook) Addr() common.Address  { return b.addr }
func (b *Orderbook) Base() common.Address  { return b.base }
func (b *Orderbook) Quote() common.Address { return b.quote }
func (b *Orderbook) Lmp() uint64           { return b.lmp }

func (b *Orderbook) onlyEngine(caller common.Address) error {
	if caller != b.engine {
		return &InvalidAccessError{Sender: caller, Expected: b.engine}
	}
	return nil
}

func (b *Orderbook) side(isBid bool) *side {
	if isBid {
		return b.bids
	}
	return b.asks
}

// DepositAsset returns the asset a resting order on the given side
// deposited: quote for bids, base for asks.
func (b *Orderbook) DepositAsset(isBid bool) common.Address {
	if isBid {
		return b.quote
	}
	return b.base
}

// PlaceBid enqueues a bid resting deposit (quote asset) at price and
// returns its order id.
func (b *Orderbook) PlaceBid(caller, owner common.Address, price uint64, amount *uint256.Int) (uint32, error) {
	if err := b.onlyEngine(caller); err != nil {
		return 0, err
	}
	id := b.bids.createOrder(owner, amount, price)
	b.bids.insertID(price, id)
	return id, nil
}

// PlaceAsk enqueues an ask resting deposit (base asset) at price and
// returns its order id.
func (b *Orderbook) PlaceAsk(caller, owner common.Address, price uint64, amount *uint256.Int) (uint32, error) {
	if err := b.onlyEngine(caller); err != nil {
		return 0, err
	}
	id := b.asks.createOrder(owner, amount, price)
	b.asks.insertID(price, id)
	return id, nil
}

// Cancel removes the order and refunds its deposit to the owner.
// Returns the refunded amount and the order's resting price.
func (b *Orderbook) Cancel(caller common.Address, isBid bool, id uint32, requester common.Address) (*uint256.Int, uint64, error) {
	if err := b.onlyEngine(caller); err != nil {
		return nil, 0, err
	}
	s := b.side(isBid)
	n := s.order(id)
	if n == nil || !n.live {
		return nil, 0, ErrOrderNotFound
	}
	if n.owner != requester {
		return nil, 0, &UnauthorizedError{Sender: requester, Expected: n.owner}
	}

	price := n.price
	refund := n.deposit.Clone()
	if err := b.ledger.Transfer(b.DepositAsset(isBid), b.addr, n.owner, refund); err != nil {
		return nil, 0, err
	}
	s.deleteOrder(price, id)
	return refund, price, nil
}

// Fpop reports the head order at price on the given side: its id, the
// amount of the opposite asset needed to consume it fully, and
// whether remaining is enough to clear the level with this order.
// A zero id means the level is empty.
func (b *Orderbook) Fpop(isBid bool, price uint64, remaining *uint256.Int) (uint32, *uint256.Int, bool) {
	s := b.side(isBid)
	id := s.head(price)
	if id == 0 {
		return 0, new(uint256.Int), false
	}
	n := s.order(id)
	required := b.Convert(price, &n.deposit, !isBid)
	clear := s.liveCount(price) == 1 && remaining.Cmp(required) >= 0
	return id, required, clear
}

// DropHead pops the head order at price and refunds its dust deposit
// to the owner. Used when the head order's converted value truncates
// to zero and can never be consumed by a match.
func (b *Orderbook) DropHead(caller common.Address, isBid bool, price uint64) error {
	if err := b.onlyEngine(caller); err != nil {
		return err
	}
	s := b.side(isBid)
	id := s.head(price)
	if id == 0 {
		return nil
	}
	n := s.order(id)
	owner, refund := n.owner, n.deposit.Clone()
	s.fpop(price)
	n.deposit.Clear()
	if refund.IsZero() {
		return nil
	}
	return b.ledger.Transfer(b.DepositAsset(isBid), b.addr, owner, refund)
}

// Execute settles amount of the taker's asset, already transferred
// into the book's account, against the resting head order at its
// price: the taker's asset goes to the resting owner, the converted
// counter asset goes to recipient, and the resting deposit is
// decremented. Returns the resting order's owner.
//
// clear is advisory: levels are dropped eagerly when their last
// order depletes, so callers need not act on it.
func (b *Orderbook) Execute(caller common.Address, id uint32, restingIsBid bool, recipient common.Address, amount *uint256.Int, clear bool) (common.Address, error) {
	if err := b.onlyEngine(caller); err != nil {
		return common.Address{}, err
	}
	s := b.side(restingIsBid)
	n := s.order(id)
	if n == nil || !n.live {
		return common.Address{}, ErrOrderNotFound
	}

	owner := n.owner
	price := n.price
	counter := b.Convert(price, amount, restingIsBid)
	if counter.Cmp(&n.deposit) > 0 {
		// conversion truncation keeps counter within the resting
		// deposit when amount <= required; anything else is a bug
		panic("orderbook: execute exceeds resting deposit")
	}

	if err := b.ledger.Transfer(b.DepositAsset(!restingIsBid), b.addr, owner, amount); err != nil {
		return common.Address{}, err
	}
	if err := b.ledger.Transfer(b.DepositAsset(restingIsBid), b.addr, recipient, counter); err != nil {
		return common.Address{}, err
	}
	s.decreaseOrder(price, id, counter)
	return owner, nil
}

// SetLmp records the last matched price.
func (b *Orderbook) SetLmp(caller common.Address, price uint64) error {
	if err := b.onlyEngine(caller); err != nil {
		return err
	}
	b.lmp = price
	return nil
}

// ClearEmptyHead drops empty levels from the head of the side's price
// list and returns the resulting best price, 0 when the side is empty.
func (b *Orderbook) ClearEmptyHead(isBid bool) uint64 {
	s := b.side(isBid)
	for {
		p := s.prices.headPrice()
		if p == 0 {
			return 0
		}
		if s.normalize(p) {
			return p
		}
	}
}

// Head returns the side's best price, 0 when empty.
func (b *Orderbook) Head(isBid bool) uint64 {
	return b.side(isBid).prices.headPrice()
}

// Next returns the price level after price toward the tail, 0 if none.
func (b *Orderbook) Next(isBid bool, price uint64) uint64 {
	return b.side(isBid).prices.next(price)
}

// IsEmpty reports whether no live order rests at price on the side.
func (b *Orderbook) IsEmpty(isBid bool, price uint64) bool {
	return b.side(isBid).isEmpty(price)
}

// MktPrice returns the last matched price, falling back to the best
// resting price when the pair has not traded yet. Zero means the pair
// has no price at all.
func (b *Orderbook) MktPrice() uint64 {
	if b.lmp != 0 {
		return b.lmp
	}
	if h := b.bids.prices.headPrice(); h != 0 {
		return h
	}
	return b.asks.prices.headPrice()
}

// GetOrder returns the live order with the given id on the side.
func (b *Orderbook) GetOrder(isBid bool, id uint32) (Order, bool) {
	n := b.side(isBid).order(id)
	if n == nil || !n.live {
		return Order{}, false
	}
	return Order{ID: id, Owner: n.owner, Price: n.price, Deposit: n.deposit.Clone()}, true
}

// GetOrderIDs returns up to n live order ids at price in FIFO order.
func (b *Orderbook) GetOrderIDs(isBid bool, price uint64, n int) []uint32 {
	return b.side(isBid).orderIDs(price, n)
}

// GetOrders returns up to n live orders at price in FIFO order.
func (b *Orderbook) GetOrders(isBid bool, price uint64, n int) []Order {
	ids := b.side(isBid).orderIDs(price, n)
	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, ok := b.GetOrder(isBid, id)
		if ok {
			orders = append(orders, o)
		}
	}
	return orders
}

// LevelView is one aggregated price level of a depth view.
type LevelView struct {
	Price  uint64
	Amount *uint256.Int
	Count  uint32
}

// Depth aggregates the side's best n levels.
func (b *Orderbook) Depth(isBid bool, n int) []LevelView {
	s := b.side(isBid)
	var levels []LevelView
	for p := s.prices.headPrice(); p != 0 && len(levels) < n; p = s.prices.next(p) {
		q := s.levels[p]
		if q == nil {
			continue
		}
		total := new(uint256.Int)
		var count uint32
		for id := q.head; id != 0; id = s.order(id).next {
			if !s.order(id).live {
				continue
			}
			total.Add(total, &s.order(id).deposit)
			count++
		}
		levels = append(levels, LevelView{Price: p, Amount: total, Count: count})
	}
	return levels
}
