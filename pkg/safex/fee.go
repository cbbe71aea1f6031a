package safex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// FeeDenom is the denominator of fee numerators reported by the
	// fee oracle.
	FeeDenom = 1_000_000

	// defaultFeeDiv is the flat fee divisor for orders without a
	// reportable uid, makers and takers alike: amount/100, i.e. 1%.
	defaultFeeDiv = 100
)

// FeeOracle is the external membership accountant: it classifies an
// actor's fee tier by uid, receives volume reports, and pays fee
// rebates on cancels. uid 0 means anonymous and is never reported.
type FeeOracle interface {
	IsReportable(sender common.Address, uid uint64) bool
	FeeOf(uid uint64, isMaker bool) uint32
	Report(uid uint64, token common.Address, amount *uint256.Int, isAdd bool)
	RefundFee(to, token common.Address, amount *uint256.Int)
}

// feeFor computes the fee on amount: the oracle's numerator over
// FeeDenom for reportable uids, the flat default otherwise. Reports
// whether the uid was reportable.
func (e *Engine) feeFor(sender common.Address, uid uint64, amount *uint256.Int, isMaker bool) (*uint256.Int, bool) {
	if uid != 0 && e.fees != nil && e.fees.IsReportable(sender, uid) {
		num := e.fees.FeeOf(uid, isMaker)
		fee := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(num)))
		fee.Div(fee, uint256.NewInt(FeeDenom))
		return fee, true
	}
	return new(uint256.Int).Div(amount, uint256.NewInt(defaultFeeDiv)), false
}
