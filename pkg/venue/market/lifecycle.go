package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/escrow"
	"github.com/venuelabs/venue/pkg/venue/fees"
)

// Cancel removes the caller's resting order and refunds its full remaining
// escrow, any accrued proceeds, and the bond in one transaction. Allowed any
// time, including while the market is paused.
func (ex *Exchange) Cancel(symbol string, id venue.OrderID, caller common.Address) error {
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if owner != caller {
		return venue.ErrUnauthorized
	}
	o, err := m.book.CancelOrderByID(id)
	if err != nil {
		// Fully filled but unclaimed orders are not cancelable; Claim them.
		return err
	}
	e, cerr := m.ledger.Close(id)
	must(cerr)
	m.unregister(id)

	must(ex.funds.Apply(func(tx *escrow.Tx) error {
		tx.Credit(owner, m.Base, e.PendingBase)
		tx.Credit(owner, m.Quote, e.PendingCollateral)
		tx.Credit(owner, m.Quote, e.Bond)
		return nil
	}))

	ex.sink.Emit(events.Event{
		Type: events.TypeOrderCanceled, TimeMs: ex.clock.NowMs(), Market: m.Symbol,
		OrderID: id.String(), Owner: owner, Side: id.Side().String(),
		Price: id.Price(), Qty: o.Remaining(), Bond: e.Bond,
	})
	ex.log.Debug("order canceled",
		zap.String("market", m.Symbol), zap.Stringer("order", id),
		zap.Uint64("remaining", o.Remaining()))
	return nil
}

// GCStep sweeps up to maxRemovals expired orders. Permissionless: any caller
// may invoke it; escrow balances return to each order's owner, the bond is
// slashed with the caller taking its GC reward cut and the remainder booked
// to the treasury's epoch reward pool. Returns the number of orders swept; a
// call finding nothing eligible is a no-op, not an error.
func (ex *Exchange) GCStep(symbol string, maxRemovals int, caller common.Address, tr venue.Treasury) (int, error) {
	if err := ex.checkTreasury(tr); err != nil {
		return 0, err
	}
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return 0, err
	}
	now := ex.clock.NowMs()

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.book.RemoveExpiredCollect(now, maxRemovals)
	if len(ids) == 0 {
		return 0, nil
	}
	p := ex.Fees()
	epoch := ex.epochs.CurrentEpoch(now)

	must(ex.funds.Apply(func(tx *escrow.Tx) error {
		for _, id := range ids {
			e, ok := m.ledger.Get(id)
			if !ok {
				return fmt.Errorf("%w: no escrow for %s", venue.ErrUnknownOrder, id)
			}
			owner := m.owners[id]
			tx.Credit(owner, m.Base, e.PendingBase)
			tx.Credit(owner, m.Quote, e.PendingCollateral)
			tx.Credit(caller, m.Quote, p.GcReward(e.Bond))
		}
		return nil
	}))

	for _, id := range ids {
		e, cerr := m.ledger.Close(id)
		must(cerr)
		owner := m.owners[id]
		m.unregister(id)

		reward := p.GcReward(e.Bond)
		if slashed := e.Bond - reward; slashed > 0 {
			ex.treasury.DepositWithRewardsForEpoch(epoch, m.Quote, slashed, "gc_slash", caller)
		}
		ex.sink.Emit(events.Event{
			Type: events.TypeOrderExpired, TimeMs: now, Market: m.Symbol,
			OrderID: id.String(), Owner: owner, Side: id.Side().String(),
			Price: id.Price(), Bond: e.Bond,
		})
	}
	ex.log.Info("gc step",
		zap.String("market", m.Symbol), zap.Int("removed", len(ids)),
		zap.Stringer("caller", caller))
	return len(ids), nil
}

// MatchResting crosses the book's best bid and best ask against each other
// for up to maxSteps fills, settling escrow to escrow. The earlier of the
// two orders is the maker and sets the execution price. Permissionless; the
// caller earns the keeper cut of each fee. A call on an uncrossed book does
// nothing and returns zero.
func (ex *Exchange) MatchResting(symbol string, maxSteps int, caller common.Address, tr venue.Treasury) (int, error) {
	if err := ex.checkTreasury(tr); err != nil {
		return 0, err
	}
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return 0, err
	}
	now := ex.clock.NowMs()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return 0, venue.ErrPaused
	}
	p := ex.Fees()
	epoch := ex.epochs.CurrentEpoch(now)

	steps := 0
	for steps < maxSteps {
		bidID, okB := m.book.BestBidID(now)
		askID, okA := m.book.BestAskID(now)
		if !okB || !okA || bidID.Price() < askID.Price() {
			break
		}
		bid, _ := m.book.Get(bidID)
		ask, _ := m.book.Get(askID)

		makerIsBid := bidID.Seq() < askID.Seq()
		execPrice := askID.Price()
		if makerIsBid {
			execPrice = bidID.Price()
		}
		qty := bid.Remaining()
		if ask.Remaining() < qty {
			qty = ask.Remaining()
		}

		// All amounts below fit: the bid's collateral was sized with checked
		// math at post time, and execPrice <= bid price.
		notional := fees.Notional(execPrice, qty)
		bidCost := fees.Notional(bidID.Price(), qty)
		surplus := bidCost - notional

		fee := p.FeeOnNotional(notional)
		rebate := p.MakerRebate(fee)
		keeper := p.KeeperReward(fee - rebate)
		slash := fee - rebate - keeper
		proceeds := notional - fee

		makerOwner := ask.Owner
		if makerIsBid {
			makerOwner = bid.Owner
		}
		bidE, _ := m.ledger.Get(bidID)
		askE, _ := m.ledger.Get(askID)
		bidDrained := bid.Remaining() == qty
		askDrained := ask.Remaining() == qty

		must(ex.funds.Apply(func(tx *escrow.Tx) error {
			tx.Credit(ask.Owner, m.Quote, proceeds)
			tx.Credit(bid.Owner, m.Base, qty)
			tx.Credit(bid.Owner, m.Quote, surplus)
			tx.Credit(makerOwner, m.Quote, rebate)
			tx.Credit(caller, m.Quote, keeper)
			if bidDrained {
				tx.Credit(bid.Owner, m.Base, bidE.PendingBase) // accrued deliveries
				tx.Credit(bid.Owner, m.Quote, bidE.Bond)
			}
			if askDrained {
				tx.Credit(ask.Owner, m.Quote, askE.PendingCollateral) // accrued payments
				tx.Credit(ask.Owner, m.Quote, askE.Bond)
			}
			return nil
		}))

		must(m.ledger.DebitCollateral(bidID, bidCost))
		must(m.ledger.DebitBase(askID, qty))
		must(m.book.CommitMakerFill(bidID, bidID.Price(), qty, now))
		must(m.book.CommitMakerFill(askID, askID.Price(), qty, now))
		if bidDrained {
			_, cerr := m.ledger.Close(bidID)
			must(cerr)
			m.unregister(bidID)
		}
		if askDrained {
			_, cerr := m.ledger.Close(askID)
			must(cerr)
			m.unregister(askID)
		}
		if slash > 0 {
			ex.treasury.DepositWithRewardsForEpoch(epoch, m.Quote, slash, "auto_match_fee", caller)
		}

		makerID, takerOwner := askID, bid.Owner
		if makerIsBid {
			makerID, takerOwner = bidID, ask.Owner
		}
		ex.sink.Emit(events.Event{
			Type: events.TypeOrderMatched, TimeMs: now, Market: m.Symbol,
			OrderID: makerID.String(), Owner: makerOwner, Side: makerID.Side().String(),
			Price: execPrice, Qty: qty, Rebate: rebate,
		})
		ex.sink.Emit(events.Event{
			Type: events.TypeSwapExecuted, TimeMs: now, Market: m.Symbol,
			Price: execPrice, Qty: qty, Maker: makerOwner, Taker: takerOwner,
		})
		steps++
	}
	if steps > 0 {
		ex.log.Debug("auto-match",
			zap.String("market", m.Symbol), zap.Int("steps", steps),
			zap.Stringer("caller", caller))
	}
	return steps, nil
}
