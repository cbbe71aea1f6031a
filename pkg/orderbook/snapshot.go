package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// OrderSnapshot is one resting order in serialized form. Deposits are
// carried as big.Int because the RLP codec has no native 256-bit
// fixed-width integer.
type OrderSnapshot struct {
	ID      uint32
	Owner   common.Address
	Deposit *big.Int
}

// LevelSnapshot is one price level with its live orders in FIFO order.
type LevelSnapshot struct {
	Price  uint64
	Orders []OrderSnapshot
}

// SideSnapshot carries one side's levels from best price to worst,
// plus the id counter so restored books keep issuing fresh ids.
type SideSnapshot struct {
	LastID uint32
	Levels []LevelSnapshot
}

// Snapshot is the full serialized state of a book.
type Snapshot struct {
	ID          uint64
	Addr        common.Address
	Base        common.Address
	Quote       common.Address
	DecDiff     uint64
	BaseGeQuote bool
	Lmp         uint64
	Bids        SideSnapshot
	Asks        SideSnapshot
}

func flattenSide(s *side) SideSnapshot {
	snap := SideSnapshot{LastID: s.lastID}
	for p := s.prices.headPrice(); p != 0; p = s.prices.next(p) {
		q := s.levels[p]
		if q == nil {
			continue
		}
		var orders []OrderSnapshot
		for id := q.head; id != 0; id = s.order(id).next {
			n := s.order(id)
			if !n.live {
				continue
			}
			orders = append(orders, OrderSnapshot{
				ID:      id,
				Owner:   n.owner,
				Deposit: n.deposit.ToBig(),
			})
		}
		if len(orders) == 0 {
			continue
		}
		snap.Levels = append(snap.Levels, LevelSnapshot{Price: p, Orders: orders})
	}
	return snap
}

func unflattenSide(s *side, snap SideSnapshot) {
	for _, lvl := range snap.Levels {
		for _, o := range lvl.Orders {
			d, _ := uint256.FromBig(o.Deposit)
			s.restoreOrder(o.ID, o.Owner, d, lvl.Price)
			s.insertID(lvl.Price, o.ID)
		}
	}
	if snap.LastID > s.lastID {
		s.lastID = snap.LastID
	}
}

// restoreOrder writes an order record at a fixed id, growing the
// arena as needed. Used only when rebuilding from a snapshot.
func (s *side) restoreOrder(id uint32, owner common.Address, deposit *uint256.Int, price uint64) {
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
	if id > s.lastID {
		s.lastID = id
	}
}

// Snapshot flattens the book into its serializable form.
func (b *Orderbook) Snapshot() *Snapshot {
	return &Snapshot{
		ID:          b.id,
		Addr:        b.addr,
		Base:        b.base,
		Quote:       b.quote,
		DecDiff:     b.decDiff,
		BaseGeQuote: b.baseGeQuote,
		Lmp:         b.lmp,
		Bids:        flattenSide(b.bids),
		Asks:        flattenSide(b.asks),
	}
}

// EncodeSnapshot serializes the book with RLP.
func (b *Orderbook) EncodeSnapshot() ([]byte, error) {
	return rlp.EncodeToBytes(b.Snapshot())
}

// FromSnapshot rebuilds a book owned by engine from a snapshot.
func FromSnapshot(snap *Snapshot, engine common.Address, ledger Transferer) *Orderbook {
	b := &Orderbook{
		id:          snap.ID,
		addr:        snap.Addr,
		engine:      engine,
		base:        snap.Base,
		quote:       snap.Quote,
		decDiff:     snap.DecDiff,
		baseGeQuote: snap.BaseGeQuote,
		lmp:         snap.Lmp,
		ledger:      ledger,
		bids:        newSide(true),
		asks:        newSide(false),
	}
	unflattenSide(b.bids, snap.Bids)
	unflattenSide(b.asks, snap.Asks)
	return b
}

// DecodeSnapshot rebuilds a book owned by engine from RLP bytes.
func DecodeSnapshot(data []byte, engine common.Address, ledger Transferer) (*Orderbook, error) {
	var snap Snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return nil, err
	}
	return FromSnapshot(&snap, engine, ledger), nil
}
