// Package fees computes notional fees, alternate-asset discount conversion,
// maker rebates, bond sizing, and keeper/GC reward cuts. Intermediate math
// runs in 128-bit precision and saturates, never wraps, when clamped back to
// 64 bits.
package fees

import (
	"math"

	"github.com/holiman/uint256"
)

const bpsDenom = 10_000

// Params are the venue's fee knobs, all in basis points.
type Params struct {
	TradeFeeBps     uint64 // taker fee on notional
	DiscountBps     uint64 // share of the fee payable in the discount asset
	MakerRebateBps  uint64 // maker cut of the fee actually collected
	MakerBondBps    uint64 // anti-grief bond on a booked remainder's notional
	KeeperRewardBps uint64 // auto-match caller cut of the collected fee
	GcRewardBps     uint64 // GC caller cut of a slashed bond
}

// DefaultParams mirrors the venue's launch configuration.
func DefaultParams() Params {
	return Params{
		TradeFeeBps:     30,   // 0.30%
		DiscountBps:     3000, // up to 30% of the fee in the discount asset
		MakerRebateBps:  2000, // 20% of collected fee back to makers
		MakerBondBps:    10,
		KeeperRewardBps: 1000,
		GcRewardBps:     100,
	}
}

func mulBps(amount, bps uint64) uint64 {
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(bps))
	v.Div(v, uint256.NewInt(bpsDenom))
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// Notional returns price × qty computed in 128 bits and saturated to 64.
func Notional(price, qty uint64) uint64 {
	v := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(qty))
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// NotionalChecked returns price × qty, reporting overflow instead of
// saturating. Escrow sizing must not silently clamp.
func NotionalChecked(price, qty uint64) (uint64, bool) {
	v := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(qty))
	if !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}

// TradeFee returns the base fee on a trade's notional.
func (p Params) TradeFee(price, qty uint64) uint64 {
	return mulBps(Notional(price, qty), p.TradeFeeBps)
}

// FeeOnNotional returns the base fee on an already-computed notional.
func (p Params) FeeOnNotional(notional uint64) uint64 {
	return mulBps(notional, p.TradeFeeBps)
}

// MakerRebate returns the rebate owed on a fee actually collected, capped at
// the collected amount.
func (p Params) MakerRebate(feeCollected uint64) uint64 {
	r := mulBps(feeCollected, p.MakerRebateBps)
	if r > feeCollected {
		return feeCollected
	}
	return r
}

// BondFor sizes the anti-grief bond on a booked remainder.
func (p Params) BondFor(price, qty uint64) uint64 {
	return mulBps(Notional(price, qty), p.MakerBondBps)
}

// GcReward returns the GC caller's cut of a slashed bond. Rounds down, so
// tiny bonds pay the caller nothing and the treasury everything.
func (p Params) GcReward(bond uint64) uint64 {
	return mulBps(bond, p.GcRewardBps)
}

// KeeperReward returns the auto-match caller's cut of a collected fee.
func (p Params) KeeperReward(feeCollected uint64) uint64 {
	r := mulBps(feeCollected, p.KeeperRewardBps)
	if r > feeCollected {
		return feeCollected
	}
	return r
}

// ProRata returns floor(total × part / whole), in 128-bit precision. Used to
// split a rebate pool across makers by fill notional.
func ProRata(total, part, whole uint64) uint64 {
	if whole == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(part))
	v.Div(v, uint256.NewInt(whole))
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// DiscountQuote is the outcome of offering altPayment units of the discount
// asset against a fee.
type DiscountQuote struct {
	Applied     bool
	Fee         uint64 // fee still owed in the primary asset
	AltConsumed uint64 // discount asset actually kept
	AltRefund   uint64 // surplus (or the full payment when not applied)
}

// Discount converts up to DiscountBps of the fee into the discount asset at
// the oracle price (scaled 1e6). The required alternate amount is
// ceil(discountValue / price) so the venue is never underpaid; the discount
// applies only if the supplied payment covers it, otherwise the payment is
// returned unused and the full fee is charged in the primary asset.
func (p Params) Discount(fee, altPayment, oraclePrice1e6 uint64) DiscountQuote {
	none := DiscountQuote{Fee: fee, AltRefund: altPayment}
	if fee == 0 || altPayment == 0 || oraclePrice1e6 == 0 || p.DiscountBps == 0 {
		return none
	}
	discountValue := mulBps(fee, p.DiscountBps)
	if discountValue == 0 {
		return none
	}
	// required = ceil(discountValue * 1e6 / oraclePrice)
	num := new(uint256.Int).Mul(uint256.NewInt(discountValue), uint256.NewInt(1_000_000))
	den := uint256.NewInt(oraclePrice1e6)
	q, rem := new(uint256.Int).DivMod(num, den, new(uint256.Int))
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return none
	}
	required := q.Uint64()
	if required == 0 || altPayment < required {
		return none
	}
	return DiscountQuote{
		Applied:     true,
		Fee:         fee - discountValue,
		AltConsumed: required,
		AltRefund:   altPayment - required,
	}
}
