// Package synth implements cash-settled matching between margin vaults. No
// real asset is escrowed: orders reference a vault whose health is the
// external margin collaborator's concern, and matched fills net realized
// P&L between the two vaults.
package synth

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/util"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/fees"
)

// Order is a synthetic order: no escrow, backed by the referenced vault.
type Order struct {
	ID        uuid.UUID
	Owner     common.Address
	Vault     uuid.UUID
	Symbol    string
	Side      venue.Side
	Price     uint64
	Remaining uint64
	CreatedMs uint64
	ExpiryMs  uint64 // 0 = never
}

func (o *Order) expired(nowMs uint64) bool {
	return o.ExpiryMs != 0 && o.ExpiryMs <= nowMs
}

type Deps struct {
	Log    *zap.Logger
	Clock  util.Clock
	Margin venue.Margin
	Sink   events.Sink
}

// Matcher holds synthetic orders and settles them through the margin
// collaborator.
type Matcher struct {
	log    *zap.Logger
	clock  util.Clock
	margin venue.Margin
	sink   events.Sink

	mu     sync.Mutex
	orders map[uuid.UUID]*Order
}

func NewMatcher(d Deps) *Matcher {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = events.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	return &Matcher{
		log:    d.Log,
		clock:  d.Clock,
		margin: d.Margin,
		sink:   d.Sink,
		orders: make(map[uuid.UUID]*Order),
	}
}

// Get returns a copy of an order.
func (m *Matcher) Get(id uuid.UUID) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// checkSizes validates price and quantity against the instrument's tick, lot
// and minimum size.
func (m *Matcher) checkSizes(symbol string, price, qty uint64) error {
	minSize, lot, tick, err := m.margin.InstrumentSizes(symbol)
	if err != nil {
		return err
	}
	if qty < minSize {
		return fmt.Errorf("%w: qty %d below min size %d", venue.ErrBadBounds, qty, minSize)
	}
	if lot != 0 && qty%lot != 0 {
		return fmt.Errorf("%w: qty %d not a multiple of lot %d", venue.ErrBadBounds, qty, lot)
	}
	if tick != 0 && price%tick != 0 {
		return fmt.Errorf("%w: price %d not a multiple of tick %d", venue.ErrBadBounds, price, tick)
	}
	return nil
}

// Place posts a synthetic order after validating instrument bounds.
func (m *Matcher) Place(owner common.Address, vault uuid.UUID, symbol string, side venue.Side, price, qty, expiryMs uint64) (uuid.UUID, error) {
	if price == 0 || qty == 0 {
		return uuid.Nil, venue.ErrZeroAmount
	}
	now := m.clock.NowMs()
	if expiryMs != 0 && expiryMs <= now {
		return uuid.Nil, venue.ErrExpired
	}
	if err := m.checkSizes(symbol, price, qty); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o := &Order{
		ID:        uuid.New(),
		Owner:     owner,
		Vault:     vault,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Remaining: qty,
		CreatedMs: now,
		ExpiryMs:  expiryMs,
	}
	m.orders[o.ID] = o

	m.sink.Emit(events.Event{
		Type: events.TypeSynthOrderPlaced, TimeMs: now, Market: symbol,
		OrderID: o.ID.String(), Owner: owner, Side: side.String(),
		Price: price, Qty: qty,
	})
	return o.ID, nil
}

// Cancel destroys a synthetic order. Owner-only; nothing to refund.
func (m *Matcher) Cancel(id uuid.UUID, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if o.Owner != caller {
		return venue.ErrUnauthorized
	}
	delete(m.orders, id)

	m.sink.Emit(events.Event{
		Type: events.TypeSynthOrderCanceled, TimeMs: m.clock.NowMs(), Market: o.Symbol,
		OrderID: id.String(), Owner: o.Owner, Side: o.Side.String(),
		Price: o.Price, Qty: o.Remaining,
	})
	return nil
}

// MatchResult reports one cash-settled match.
type MatchResult struct {
	Price        uint64
	Qty          uint64
	ToMakerVault uint64 // net transfer taker -> maker
	ToTakerVault uint64 // net transfer maker -> taker
}

// Match settles a maker order against a taker order of the opposite side.
// The supplied price set must cover every open position in both vaults, so
// vault health is never evaluated against stale or missing prices. Each leg
// is applied independently through the margin collaborator; the two net
// directions are computed separately and both transfer when nonzero.
func (m *Matcher) Match(makerID, takerID uuid.UUID, maxQty uint64, prices map[string]uint64, caller common.Address) (MatchResult, error) {
	var res MatchResult
	now := m.clock.NowMs()

	m.mu.Lock()
	defer m.mu.Unlock()

	maker, ok := m.orders[makerID]
	if !ok {
		return res, fmt.Errorf("%w: maker %s", venue.ErrUnknownOrder, makerID)
	}
	taker, ok := m.orders[takerID]
	if !ok {
		return res, fmt.Errorf("%w: taker %s", venue.ErrUnknownOrder, takerID)
	}
	if maker.Symbol != taker.Symbol {
		return res, fmt.Errorf("%w: symbol %s vs %s", venue.ErrNotCrossed, maker.Symbol, taker.Symbol)
	}
	if maker.Side == taker.Side {
		return res, fmt.Errorf("%w: same side", venue.ErrNotCrossed)
	}
	if maker.expired(now) || taker.expired(now) {
		return res, venue.ErrExpired
	}
	buy, sell := maker, taker
	if maker.Side == venue.Ask {
		buy, sell = taker, maker
	}
	if buy.Price < sell.Price {
		return res, fmt.Errorf("%w: buy %d < sell %d", venue.ErrNotCrossed, buy.Price, sell.Price)
	}
	exec := maker.Price
	if exec < sell.Price || exec > buy.Price {
		return res, fmt.Errorf("%w: exec %d outside [%d, %d]", venue.ErrBadBounds, exec, sell.Price, buy.Price)
	}
	qty := maker.Remaining
	if taker.Remaining < qty {
		qty = taker.Remaining
	}
	if maxQty < qty {
		qty = maxQty
	}
	if qty == 0 {
		return res, venue.ErrZeroAmount
	}
	if err := m.checkSizes(maker.Symbol, exec, qty); err != nil {
		return res, err
	}
	if err := m.margin.AssertPricesCoverAllPositions(maker.Vault, prices); err != nil {
		return res, fmt.Errorf("maker vault: %w", err)
	}
	if err := m.margin.AssertPricesCoverAllPositions(taker.Vault, prices); err != nil {
		return res, fmt.Errorf("taker vault: %w", err)
	}

	payment := fees.Notional(exec, qty)
	makerGain, makerLoss, _, err := m.margin.ApplyFill(maker.Vault, maker.Symbol, maker.Side, qty, exec, payment)
	if err != nil {
		return res, fmt.Errorf("maker fill: %w", err)
	}
	takerGain, takerLoss, _, err := m.margin.ApplyFill(taker.Vault, taker.Symbol, taker.Side, qty, exec, payment)
	if err != nil {
		return res, fmt.Errorf("taker fill: %w", err)
	}

	if takerLoss > makerGain {
		res.ToMakerVault = takerLoss - makerGain
	}
	if takerGain > makerLoss {
		res.ToTakerVault = takerGain - makerLoss
	}
	if res.ToMakerVault > 0 {
		if err := m.margin.TransferBetweenVaults(taker.Vault, maker.Vault, res.ToMakerVault); err != nil {
			return res, err
		}
	}
	if res.ToTakerVault > 0 {
		if err := m.margin.TransferBetweenVaults(maker.Vault, taker.Vault, res.ToTakerVault); err != nil {
			return res, err
		}
	}

	maker.Remaining -= qty
	taker.Remaining -= qty
	if maker.Remaining == 0 {
		delete(m.orders, makerID)
	}
	if taker.Remaining == 0 {
		delete(m.orders, takerID)
	}

	m.sink.Emit(events.Event{
		Type: events.TypeSynthMatched, TimeMs: now, Market: maker.Symbol,
		OrderID: makerID.String(), Owner: maker.Owner, Side: maker.Side.String(),
		Price: exec, Qty: qty,
	})
	m.sink.Emit(events.Event{
		Type: events.TypeSwapExecuted, TimeMs: now, Market: maker.Symbol,
		Price: exec, Qty: qty, Maker: maker.Owner, Taker: taker.Owner,
	})

	m.log.Debug("synthetic match",
		zap.String("symbol", maker.Symbol), zap.Uint64("price", exec),
		zap.Uint64("qty", qty),
		zap.Uint64("to_maker", res.ToMakerVault), zap.Uint64("to_taker", res.ToTakerVault))

	res.Price, res.Qty = exec, qty
	return res, nil
}
