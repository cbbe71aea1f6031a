package orderbook

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOrderNotFound is returned when the referenced order does not
// exist or has already been executed or canceled.
var ErrOrderNotFound = errors.New("order not found")

// InvalidAccessError is returned when a book mutation is attempted by
// anything other than the owning engine.
type InvalidAccessError struct {
	Sender   common.Address
	Expected common.Address
}

func (e *InvalidAccessError) Error() string {
	return fmt.Sprintf("invalid access: sender %x, expected engine %x", e.Sender, e.Expected)
}

// UnauthorizedError is returned when an order cancel is requested by
// an account that does not own the order.
type UnauthorizedError struct {
	Sender   common.Address
	Expected common.Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: sender %x, owner %x", e.Sender, e.Expected)
}

// InvalidDecimalsError rejects pair construction when either asset
// carries more precision than the conversion math supports.
type InvalidDecimalsError struct {
	BaseDec  uint8
	QuoteDec uint8
}

func (e *InvalidDecimalsError) Error() string {
	return fmt.Sprintf("invalid decimals: base %d, quote %d (max %d)", e.BaseDec, e.QuoteDec, MaxDecimals)
}
