package safex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReentrancy rejects a call into the public surface made
	// while another call is still in flight.
	ErrReentrancy = errors.New("reentrant call")

	// ErrNoLastMatchedPrice rejects a market order on a pair that
	// has no market price yet.
	ErrNoLastMatchedPrice = errors.New("no last matched price")

	// ErrNoWrappedNative rejects native-value orders on an engine
	// built without a wrapped-native bridge.
	ErrNoWrappedNative = errors.New("no wrapped native token configured")

	// ErrAmountOverflow rejects deposits too large for the
	// fixed-point conversion to stay within 256 bits.
	ErrAmountOverflow = errors.New("amount overflows conversion range")
)

// TooManyMatchesError rejects a match budget above MaxMatches.
type TooManyMatchesError struct {
	N uint32
}

func (e *TooManyMatchesError) Error() string {
	return fmt.Sprintf("too many matches: %d > %d", e.N, MaxMatches)
}

// InvalidPairError reports an operation on a pair with no orderbook.
type InvalidPairError struct {
	Base  common.Address
	Quote common.Address
}

func (e *InvalidPairError) Error() string {
	return fmt.Sprintf("invalid pair: base %x, quote %x", e.Base, e.Quote)
}

// PairExistsError rejects explicit creation of an existing pair.
type PairExistsError struct {
	Base  common.Address
	Quote common.Address
}

func (e *PairExistsError) Error() string {
	return fmt.Sprintf("pair exists: base %x, quote %x", e.Base, e.Quote)
}

// NoOrderMadeError reports an order request that could not produce an
// order, such as a zero limit price.
type NoOrderMadeError struct {
	Base  common.Address
	Quote common.Address
}

func (e *NoOrderMadeError) Error() string {
	return fmt.Sprintf("no order made: base %x, quote %x", e.Base, e.Quote)
}

// OrderSizeTooSmallError rejects deposits whose converted value would
// truncate below the minimum consumable unit.
type OrderSizeTooSmallError struct {
	Amount *big.Int
	Min    *big.Int
}

func (e *OrderSizeTooSmallError) Error() string {
	return fmt.Sprintf("order size too small: converted %v, min required %v", e.Amount, e.Min)
}

// BidPriceTooLowError rejects a bid limit below the spread band.
type BidPriceTooLowError struct {
	Limit uint64
	Lmp   uint64
	Floor uint64
}

func (e *BidPriceTooLowError) Error() string {
	return fmt.Sprintf("bid price too low: limit %d, lmp %d, floor %d", e.Limit, e.Lmp, e.Floor)
}

// AskPriceTooHighError rejects an ask limit above the spread band.
type AskPriceTooHighError struct {
	Limit   uint64
	Lmp     uint64
	Ceiling uint64
}

func (e *AskPriceTooHighError) Error() string {
	return fmt.Sprintf("ask price too high: limit %d, lmp %d, ceiling %d", e.Limit, e.Lmp, e.Ceiling)
}

// UnknownTokenError reports a token the decimals oracle has never
// seen.
type UnknownTokenError struct {
	Token common.Address
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token: %x", e.Token)
}

// InsufficientBalanceError is a ledger transfer failure.
type InsufficientBalanceError struct {
	Token common.Address
	Owner common.Address
	Have  *big.Int
	Need  *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: token %x, owner %x, have %v, need %v", e.Token, e.Owner, e.Have, e.Need)
}
