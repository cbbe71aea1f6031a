package orderbook

import (
	"github.com/holiman/uint256"
)

// PricePrecision is the fixed-point denominator of prices: a price P
// means P*1e-8 units of quote per unit of base, adjusted by the
// pair's decimal differential.
const PricePrecision = 100_000_000

// MaxDecimals is the largest token precision a pair may carry.
const MaxDecimals = 18

var pricePrec = uint256.NewInt(PricePrecision)

func pow10(n uint8) uint64 {
	r := uint64(1)
	for i := uint8(0); i < n; i++ {
		r *= 10
	}
	return r
}

// Convert converts amount between the pair's assets at price: base to
// quote when isBid, quote to base otherwise. All results truncate, so
// round-tripping an amount never returns more than it. Both steps
// truncate, so the loss can exceed decDiff units: with base 18 and
// quote 6 decimals at price 3.33, 1.2e12 base units convert to 3
// quote units and back to 0.
func (b *Orderbook) Convert(price uint64, amount *uint256.Int, isBid bool) *uint256.Int {
	if price == 0 {
		return new(uint256.Int)
	}
	z := new(uint256.Int)
	dd := uint256.NewInt(b.decDiff)
	if isBid {
		// base -> quote: amount * price / 1e8
		z.Mul(amount, uint256.NewInt(price))
		z.Div(z, pricePrec)
		if b.baseGeQuote {
			z.Div(z, dd)
		} else {
			z.Mul(z, dd)
		}
		return z
	}
	// quote -> base: amount * 1e8 / price
	z.Mul(amount, pricePrec)
	z.Div(z, uint256.NewInt(price))
	if b.baseGeQuote {
		z.Mul(z, dd)
	} else {
		z.Div(z, dd)
	}
	return z
}

// AssetValue values amount at the current market price; zero when the
// pair has no market price yet.
func (b *Orderbook) AssetValue(amount *uint256.Int, isBid bool) *uint256.Int {
	mp := b.MktPrice()
	if mp == 0 {
		return new(uint256.Int)
	}
	return b.Convert(mp, amount, isBid)
}
