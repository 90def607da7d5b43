package market

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/escrow"
	"github.com/venuelabs/venue/pkg/venue/fees"
)

// PlaceRequest is one placement call. DiscountPayment is an offer of the
// alternate fee asset; the engine keeps only what the discount requires.
type PlaceRequest struct {
	Market          string
	Owner           common.Address
	Side            venue.Side
	Price           uint64
	Qty             uint64
	TIF             venue.TimeInForce
	SelfMatch       venue.SelfMatchPolicy
	ExpiryMs        uint64
	DiscountPayment uint64
}

// PlaceResult reports what a placement did.
type PlaceResult struct {
	OrderID      venue.OrderID // set when a remainder was posted
	Posted       bool
	FilledQty    uint64
	ExecNotional uint64
	Fee          uint64 // primary-asset fee charged after discount
	DiscountUsed uint64 // discount-asset amount kept
	RebatesPaid  uint64
	Bond         uint64
}

func must(err error) {
	if err != nil {
		panic(fmt.Errorf("market: commit-phase failure: %w", err))
	}
}

// Place fills an incoming limit order against the book under the requested
// time-in-force, settling escrow and fees, and (for TIFDefault) posting any
// remainder as a bonded resting order.
//
// TIFDefault settles maker proceeds by immediate delivery; IOC and FOK are
// taker-only calls that never post state, so the taker's payment is accrued
// into each matched maker's escrow entry for later Claim.
func (ex *Exchange) Place(req PlaceRequest, tr venue.Treasury) (PlaceResult, error) {
	var res PlaceResult
	if err := ex.checkTreasury(tr); err != nil {
		return res, err
	}
	m, err := ex.registry.Get(req.Market)
	if err != nil {
		return res, err
	}
	now := ex.clock.NowMs()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return res, venue.ErrPaused
	}
	if req.ExpiryMs != 0 && req.ExpiryMs <= now {
		return res, venue.ErrExpired
	}

	plan, err := m.book.ComputeFillPlan(req.Side, req.Price, req.Qty, req.Owner, req.SelfMatch, now)
	if err != nil {
		return res, err
	}
	if req.TIF == venue.TIFFOK && plan.Remainder != 0 {
		return res, fmt.Errorf("%w: fok matchable %d of %d", venue.ErrNotCrossed, plan.Matched(), req.Qty)
	}
	accrual := req.TIF != venue.TIFDefault
	post := req.TIF == venue.TIFDefault && plan.Remainder > 0

	p := ex.Fees()

	// Per-fill notionals at each maker's price; the taker fee is computed on
	// the total executed notional.
	notionals := make([]uint64, len(plan.Fills))
	var execNotional uint64
	for i, f := range plan.Fills {
		n, ok := fees.NotionalChecked(f.Maker.Price(), f.Qty)
		if !ok {
			return res, fmt.Errorf("%w: fill notional overflow", venue.ErrBadBounds)
		}
		sum, carry := bits.Add64(execNotional, n, 0)
		if carry != 0 {
			return res, fmt.Errorf("%w: notional overflow", venue.ErrBadBounds)
		}
		notionals[i], execNotional = n, sum
	}

	fee := p.FeeOnNotional(execNotional)
	dq := fees.DiscountQuote{Fee: fee, AltRefund: req.DiscountPayment}
	if req.DiscountPayment > 0 && ex.oracle != nil && ex.discountAsset != "" {
		oraclePrice, oerr := ex.oracle.PriceScaled1e6(ex.discountFeed, now)
		if oerr != nil {
			return res, fmt.Errorf("discount oracle: %w", oerr)
		}
		dq = p.Discount(fee, req.DiscountPayment, oraclePrice)
	}

	// Maker rebates come out of the primary-asset fee actually collected,
	// split pro-rata by fill notional. Rounding dust stays with the treasury.
	rebateTotal := p.MakerRebate(dq.Fee)
	rebates := make([]uint64, len(plan.Fills))
	var rebatesPaid uint64
	for i, n := range notionals {
		rebates[i] = fees.ProRata(rebateTotal, n, execNotional)
		rebatesPaid += rebates[i]
	}

	// Remainder escrow and bond, sized before anything moves.
	var escrowBase, escrowQuote, bond uint64
	if post {
		if req.Side == venue.Bid {
			q, ok := fees.NotionalChecked(req.Price, plan.Remainder)
			if !ok {
				return res, fmt.Errorf("%w: escrow notional overflow", venue.ErrBadBounds)
			}
			escrowQuote = q
		} else {
			escrowBase = plan.Remainder
		}
		bond = p.BondFor(req.Price, plan.Remainder)
	}

	// Makers whose remaining quantity this call drains. In immediate-delivery
	// mode their escrow entry closes now and the bond comes home; in accrual
	// mode the entry outlives the book order until the maker claims.
	drained := make([]bool, len(plan.Fills))
	for i, f := range plan.Fills {
		if o, ok := m.book.Get(f.Maker); ok && o.Remaining() == f.Qty {
			drained[i] = true
		}
	}

	// Stage all balance movements; a failed debit aborts the whole call with
	// nothing applied.
	err = ex.funds.Apply(func(tx *escrow.Tx) error {
		for i, f := range plan.Fills {
			n := notionals[i]
			if req.Side == venue.Bid {
				// Taker buys: pays quote, receives base out of maker escrow.
				if err := tx.Debit(req.Owner, m.Quote, n); err != nil {
					return err
				}
				if !accrual {
					tx.Credit(f.MakerOwner, m.Quote, n)
				}
				tx.Credit(req.Owner, m.Base, f.Qty)
			} else {
				// Taker sells: delivers base, receives quote out of maker escrow.
				if err := tx.Debit(req.Owner, m.Base, f.Qty); err != nil {
					return err
				}
				if !accrual {
					tx.Credit(f.MakerOwner, m.Base, f.Qty)
				}
				tx.Credit(req.Owner, m.Quote, n)
			}
			tx.Credit(f.MakerOwner, m.Quote, rebates[i])
			if drained[i] && !accrual {
				e, ok := m.ledger.Get(f.Maker)
				if !ok {
					return fmt.Errorf("%w: no escrow for %s", venue.ErrUnknownOrder, f.Maker)
				}
				// Residual accrued proceeds from earlier taker-only fills
				// plus the bond are returned on close.
				if f.Maker.Side() == venue.Ask {
					tx.Credit(f.MakerOwner, m.Quote, e.PendingCollateral)
				} else {
					tx.Credit(f.MakerOwner, m.Base, e.PendingBase)
				}
				tx.Credit(f.MakerOwner, m.Quote, e.Bond)
			}
		}
		if dq.Fee > 0 {
			if err := tx.Debit(req.Owner, m.Quote, dq.Fee); err != nil {
				return err
			}
		}
		if dq.Applied {
			if err := tx.Debit(req.Owner, ex.discountAsset, dq.AltConsumed); err != nil {
				return err
			}
		}
		if escrowQuote > 0 {
			if err := tx.Debit(req.Owner, m.Quote, escrowQuote); err != nil {
				return err
			}
		}
		if escrowBase > 0 {
			if err := tx.Debit(req.Owner, m.Base, escrowBase); err != nil {
				return err
			}
		}
		if bond > 0 {
			if err := tx.Debit(req.Owner, m.Quote, bond); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	// Commit. Nothing below may fail: the plan was computed under this lock
	// and every balance was validated above.
	for i, f := range plan.Fills {
		if req.Side == venue.Bid {
			must(m.ledger.DebitBase(f.Maker, f.Qty))
			if accrual {
				must(m.ledger.AccrueCollateral(f.Maker, notionals[i]))
			}
		} else {
			must(m.ledger.DebitCollateral(f.Maker, notionals[i]))
			if accrual {
				must(m.ledger.AccrueBase(f.Maker, f.Qty))
			}
		}
		if drained[i] && !accrual {
			_, cerr := m.ledger.Close(f.Maker)
			must(cerr)
			m.unregister(f.Maker)
		}
	}
	newID, posted := m.book.CommitFillPlan(plan, now, post, req.ExpiryMs)
	if posted {
		m.ledger.Open(newID, escrowBase, escrowQuote, bond)
		m.register(newID, req.Owner, bond)
	}

	// Fee routing: primary-asset remainder plus any discount-asset payment go
	// to the bound treasury's reward pool for the current epoch.
	epoch := ex.epochs.CurrentEpoch(now)
	if toTreasury := dq.Fee - rebatesPaid; toTreasury > 0 {
		ex.treasury.DepositWithRewardsForEpoch(epoch, m.Quote, toTreasury, "trade_fee", req.Owner)
	}
	if dq.Applied && dq.AltConsumed > 0 {
		ex.treasury.DepositWithRewardsForEpoch(epoch, ex.discountAsset, dq.AltConsumed, "trade_fee_discount", req.Owner)
	}

	for i, f := range plan.Fills {
		ex.sink.Emit(events.Event{
			Type: events.TypeOrderMatched, TimeMs: now, Market: m.Symbol,
			OrderID: f.Maker.String(), Owner: f.MakerOwner, Side: f.Maker.Side().String(),
			Price: f.Maker.Price(), Qty: f.Qty, Rebate: rebates[i],
		})
		ex.sink.Emit(events.Event{
			Type: events.TypeSwapExecuted, TimeMs: now, Market: m.Symbol,
			Price: f.Maker.Price(), Qty: f.Qty, Maker: f.MakerOwner, Taker: req.Owner,
		})
	}
	if posted {
		ex.sink.Emit(events.Event{
			Type: events.TypeOrderPlaced, TimeMs: now, Market: m.Symbol,
			OrderID: newID.String(), Owner: req.Owner, Side: req.Side.String(),
			Price: req.Price, Qty: plan.Remainder, Bond: bond,
		})
	}

	ex.log.Debug("placement executed",
		zap.String("market", m.Symbol),
		zap.Stringer("side", req.Side),
		zap.Stringer("tif", req.TIF),
		zap.Uint64("price", req.Price),
		zap.Uint64("filled", plan.Matched()),
		zap.Uint64("remainder", plan.Remainder),
		zap.Bool("posted", posted),
		zap.Uint64("fee", dq.Fee),
	)

	res = PlaceResult{
		OrderID:      newID,
		Posted:       posted,
		FilledQty:    plan.Matched(),
		ExecNotional: execNotional,
		Fee:          dq.Fee,
		DiscountUsed: dq.AltConsumed,
		RebatesPaid:  rebatesPaid,
		Bond:         bond,
	}
	return res, nil
}

// ClaimResult reports what a claim paid out.
type ClaimResult struct {
	Base   uint64
	Quote  uint64
	Bond   uint64
	Closed bool
}

// Claim pays out proceeds accrued into an order's escrow entry by taker-only
// fills. Once the order itself has left the book, claiming also refunds the
// bond and destroys the entry. Owner-only; a claim with nothing accrued is a
// no-op, not an error.
func (ex *Exchange) Claim(symbol string, id venue.OrderID, caller common.Address) (ClaimResult, error) {
	var res ClaimResult
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return res, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[id]
	if !ok {
		return res, venue.ErrUnknownOrder
	}
	if owner != caller {
		return res, venue.ErrUnauthorized
	}
	e, ok := m.ledger.Get(id)
	if !ok {
		panic(fmt.Sprintf("market: registry entry without escrow for %s", id))
	}

	// The claimable side is the opposite of the order's own escrow: an ask
	// accrues quote payments, a bid accrues base deliveries.
	if id.Side() == venue.Bid {
		res.Base = e.PendingBase
	} else {
		res.Quote = e.PendingCollateral
	}
	_, resting := m.book.Get(id)
	res.Closed = !resting
	if res.Closed {
		res.Bond = e.Bond
	}
	if res.Base == 0 && res.Quote == 0 && !res.Closed {
		return ClaimResult{}, nil
	}

	must(ex.funds.Apply(func(tx *escrow.Tx) error {
		tx.Credit(owner, m.Base, res.Base)
		tx.Credit(owner, m.Quote, res.Quote)
		tx.Credit(owner, m.Quote, res.Bond)
		return nil
	}))
	if res.Base > 0 {
		must(m.ledger.DebitBase(id, res.Base))
	}
	if res.Quote > 0 {
		must(m.ledger.DebitCollateral(id, res.Quote))
	}
	if res.Closed {
		_, cerr := m.ledger.Close(id)
		must(cerr)
		m.unregister(id)
	}

	ex.log.Debug("claim paid",
		zap.String("market", m.Symbol),
		zap.Stringer("order", id),
		zap.Uint64("base", res.Base),
		zap.Uint64("quote", res.Quote),
		zap.Bool("closed", res.Closed),
	)
	return res, nil
}
