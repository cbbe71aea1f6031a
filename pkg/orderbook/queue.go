package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// orderNode is one resting order. Nodes live in a paged arena indexed
// directly by order id; ids are assigned monotonically per side and
// never reused, so each slot is written exactly once. next links the
// order into its price level's FIFO.
type orderNode struct {
	owner   common.Address
	deposit uint256.Int
	price   uint64
	next    uint32
	live    bool
}

// level is the FIFO of resting orders at one price. An order canceled
// in the middle of the queue stays linked as a dead node and is
// skipped when it surfaces at the head, which keeps cancel O(1)
// without a queue scan.
type level struct {
	head uint32
	tail uint32
	live uint32
}

// side is one side of a book: the sorted price list, the per-price
// FIFO queues, and the order arena. Order id 0 is reserved as null.
type side struct {
	isBid  bool
	lastID uint32
	pages  [][]orderNode
	levels map[uint64]*level
	prices *priceList
}

func newSide(isBid bool) *side {
	return &side{
		isBid:  isBid,
		levels: make(map[uint64]*level),
		prices: newPriceList(isBid),
	}
}

// order returns the arena slot for id, or nil when id was never
// issued.
func (s *side) order(id uint32) *orderNode {
	p := int(id) >> pageShift
	if p >= len(s.pages) {
		return nil
	}
	off := int(id) & pageMask
	if off >= len(s.pages[p]) {
		return nil
	}
	return &s.pages[p][off]
}

// createOrder allocates a fresh id and stores the order record. The
// order is not reachable from any queue until insertID.
func (s *side) createOrder(owner common.Address, deposit *uint256.Int, price uint64) uint32 {
	s.lastID++
	id := s.lastID

	p := int(id) >> pageShift
	for p >= len(s.pages) {
		s.pages = append(s.pages, make([]orderNode, 0, pageSize))
	}
	for len(s.pages[p]) <= int(id)&pageMask {
		s.pages[p] = append(s.pages[p], orderNode{})
	}

	n := &s.pages[p][int(id)&pageMask]
	n.owner = owner
	n.deposit.Set(deposit)
	n.price = price
	n.next = 0
	n.live = true
	return id
}

// insertID appends the order to the price's FIFO, registering the
// price level if it is new. Zero-deposit orders are dropped.
func (s *side) insertID(price uint64, id uint32) {
	n := s.order(id)
	if n == nil || n.deposit.IsZero() {
		return
	}
	q := s.levels[price]
	if q == nil {
		q = &level{}
		s.levels[price] = q
		s.prices.insert(price)
	}
	if q.tail == 0 {
		q.head = id
	} else {
		s.order(q.tail).next = id
	}
	q.tail = id
	q.live++
}

// dropLevel removes an emptied price level and its price list node.
func (s *side) dropLevel(price uint64) {
	delete(s.levels, price)
	s.prices.remove(price)
}

// normalize pops dead orders off the queue front and drops the level
// when no live order remains. Reports whether the level survives.
func (s *side) normalize(price uint64) bool {
	q := s.levels[price]
	if q == nil {
		s.prices.remove(price)
		return false
	}
	if q.live == 0 {
		s.dropLevel(price)
		return false
	}
	for q.head != 0 && !s.order(q.head).live {
		q.head = s.order(q.head).next
	}
	return true
}

// head returns the earliest live order id at price, 0 when empty.
func (s *side) head(price uint64) uint32 {
	if !s.normalize(price) {
		return 0
	}
	return s.levels[price].head
}

// fpop removes and returns the head order at price, 0 when empty.
func (s *side) fpop(price uint64) uint32 {
	id := s.head(price)
	if id == 0 {
		return 0
	}
	q := s.levels[price]
	n := s.order(id)
	q.head = n.next
	n.live = false
	q.live--
	if q.live == 0 {
		s.dropLevel(price)
	}
	return id
}

// decreaseOrder subtracts by from the head order's deposit, popping
// the order when depleted. Only the current head may be decreased.
func (s *side) decreaseOrder(price uint64, id uint32, by *uint256.Int) {
	if s.head(price) != id {
		panic("orderbook: decreaseOrder called for a non-head order")
	}
	n := s.order(id)
	if n.deposit.Cmp(by) <= 0 {
		s.fpop(price)
		n.deposit.Clear()
		return
	}
	n.deposit.Sub(&n.deposit, by)
}

// deleteOrder cancels the order resting at price and returns the
// canceled deposit. Dead or unknown ids report false.
func (s *side) deleteOrder(price uint64, id uint32) (*uint256.Int, bool) {
	n := s.order(id)
	if n == nil || !n.live || n.price != price {
		return nil, false
	}
	q := s.levels[price]
	if q == nil {
		return nil, false
	}

	refund := n.deposit.Clone()
	n.live = false
	n.deposit.Clear()
	q.live--
	if q.live == 0 {
		s.dropLevel(price)
	} else {
		s.normalize(price)
	}
	return refund, true
}

// isEmpty reports whether no live order rests at price.
func (s *side) isEmpty(price uint64) bool {
	return s.head(price) == 0
}

// orderIDs returns up to n live order ids at price in FIFO order.
func (s *side) orderIDs(price uint64, n int) []uint32 {
	if !s.normalize(price) {
		return nil
	}
	var ids []uint32
	for id := s.levels[price].head; id != 0 && len(ids) < n; id = s.order(id).next {
		if s.order(id).live {
			ids = append(ids, id)
		}
	}
	return ids
}

// liveCount returns the number of live orders at price.
func (s *side) liveCount(price uint64) uint32 {
	q := s.levels[price]
	if q == nil {
		return 0
	}
	return q.live
}
