package safex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PairAdded is emitted when a pair's orderbook is first created.
type PairAdded struct {
	Orderbook     uint64
	Base          common.Address
	Quote         common.Address
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// OrderDeposit is emitted when a deposit is pulled from the sender,
// after the fee is carved out.
type OrderDeposit struct {
	Sender common.Address
	Asset  common.Address
	Fee    *uint256.Int
}

// OrderPlaced is emitted when a residual rests on the book as maker.
type OrderPlaced struct {
	Orderbook uint64
	ID        uint32
	Owner     common.Address
	IsBid     bool
	Price     uint64
	Amount    *uint256.Int
}

// OrderMatched is emitted once per consumed resting order.
type OrderMatched struct {
	Orderbook uint64
	ID        uint32
	IsBid     bool
	Taker     common.Address
	Maker     common.Address
	Price     uint64
	Amount    *uint256.Int
}

// OrderCanceled is emitted when a resting order is canceled.
type OrderCanceled struct {
	Orderbook uint64
	ID        uint32
	IsBid     bool
	Owner     common.Address
	Amount    *uint256.Int
}

// Listener observes engine events. Implementations must be fast and
// must not call back into the engine: the engine is mid-operation
// when it notifies, and reentrant calls are rejected.
type Listener interface {
	OnPairAdded(e PairAdded)
	OnOrderDeposit(e OrderDeposit)
	OnOrderPlaced(e OrderPlaced)
	OnOrderMatched(e OrderMatched)
	OnOrderCanceled(e OrderCanceled)
}

// NopListener ignores all events. Embed it to observe a subset.
type NopListener struct{}

func (NopListener) OnPairAdded(PairAdded)         {}
func (NopListener) OnOrderDeposit(OrderDeposit)   {}
func (NopListener) OnOrderPlaced(OrderPlaced)     {}
func (NopListener) OnOrderMatched(OrderMatched)   {}
func (NopListener) OnOrderCanceled(OrderCanceled) {}
