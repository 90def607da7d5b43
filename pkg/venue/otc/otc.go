// Package otc implements bilateral direct settlement: two independently
// posted escrow orders, one buy and one sell, matched by any caller within
// caller-supplied price bounds. The order book is not involved.
package otc

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/util"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/escrow"
	"github.com/venuelabs/venue/pkg/venue/fees"
)

// Order is one bilateral escrow order. A buy locks quote sized as
// price × quantity; a sell locks base sized as the quantity. The invariant
// escrowed >= price × remaining holds for buys until cancellation because
// fills drain escrow at the buy's own price, refunding any execution surplus
// immediately.
type Order struct {
	ID        uuid.UUID
	Owner     common.Address
	Side      venue.Side // Bid = buy, Ask = sell
	Price     uint64
	Remaining uint64
	Escrowed  uint64 // quote for buys, base for sells
	CreatedMs uint64
	ExpiryMs  uint64 // 0 = never
}

func (o *Order) expired(nowMs uint64) bool {
	return o.ExpiryMs != 0 && o.ExpiryMs <= nowMs
}

type Deps struct {
	Log      *zap.Logger
	Clock    util.Clock
	Funds    *escrow.Funds
	Treasury venue.Treasury
	Epochs   venue.EpochSource
	Sink     events.Sink
	Fees     fees.Params

	Base  string
	Quote string
}

// Desk holds the OTC orders of one asset pair.
type Desk struct {
	log   *zap.Logger
	clock util.Clock
	funds *escrow.Funds

	treasury   venue.Treasury
	treasuryID uuid.UUID
	epochs     venue.EpochSource
	sink       events.Sink
	fees       fees.Params

	base  string
	quote string

	mu     sync.Mutex
	orders map[uuid.UUID]*Order
}

func NewDesk(d Deps) *Desk {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = events.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	return &Desk{
		log:        d.Log,
		clock:      d.Clock,
		funds:      d.Funds,
		treasury:   d.Treasury,
		treasuryID: d.Treasury.ID(),
		epochs:     d.Epochs,
		sink:       d.Sink,
		fees:       d.Fees,
		base:       d.Base,
		quote:      d.Quote,
		orders:     make(map[uuid.UUID]*Order),
	}
}

func (d *Desk) symbol() string { return d.base + "-" + d.quote }

// Get returns a copy of an order.
func (d *Desk) Get(id uuid.UUID) (Order, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// EscrowTotals sums locked balances per asset, for conservation checks.
func (d *Desk) EscrowTotals() (base, quote uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.orders {
		if o.Side == venue.Bid {
			quote += o.Escrowed
		} else {
			base += o.Escrowed
		}
	}
	return base, quote
}

// Place posts a new escrow order, locking the backing asset.
func (d *Desk) Place(owner common.Address, side venue.Side, price, qty, expiryMs uint64) (uuid.UUID, error) {
	if price == 0 || qty == 0 {
		return uuid.Nil, venue.ErrZeroAmount
	}
	now := d.clock.NowMs()
	if expiryMs != 0 && expiryMs <= now {
		return uuid.Nil, venue.ErrExpired
	}
	lockAsset, lockAmt := d.base, qty
	if side == venue.Bid {
		n, ok := fees.NotionalChecked(price, qty)
		if !ok {
			return uuid.Nil, fmt.Errorf("%w: escrow notional overflow", venue.ErrBadBounds)
		}
		lockAsset, lockAmt = d.quote, n
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.funds.Apply(func(tx *escrow.Tx) error {
		return tx.Debit(owner, lockAsset, lockAmt)
	}); err != nil {
		return uuid.Nil, err
	}
	o := &Order{
		ID:        uuid.New(),
		Owner:     owner,
		Side:      side,
		Price:     price,
		Remaining: qty,
		Escrowed:  lockAmt,
		CreatedMs: now,
		ExpiryMs:  expiryMs,
	}
	d.orders[o.ID] = o

	d.sink.Emit(events.Event{
		Type: events.TypeOtcOrderPlaced, TimeMs: now, Market: d.symbol(),
		OrderID: o.ID.String(), Owner: owner, Side: side.String(),
		Price: price, Qty: qty,
	})
	return o.ID, nil
}

// Cancel refunds the full locked balance to the owner and destroys the order.
func (d *Desk) Cancel(id uuid.UUID, caller common.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.orders[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if o.Owner != caller {
		return venue.ErrUnauthorized
	}
	asset := d.base
	if o.Side == venue.Bid {
		asset = d.quote
	}
	if err := d.funds.Apply(func(tx *escrow.Tx) error {
		tx.Credit(o.Owner, asset, o.Escrowed)
		return nil
	}); err != nil {
		return err
	}
	delete(d.orders, id)

	d.sink.Emit(events.Event{
		Type: events.TypeOtcOrderCanceled, TimeMs: d.clock.NowMs(), Market: d.symbol(),
		OrderID: id.String(), Owner: o.Owner, Side: o.Side.String(),
		Price: o.Price, Qty: o.Remaining,
	})
	return nil
}

// MatchResult reports one bilateral settlement.
type MatchResult struct {
	Price  uint64
	Qty    uint64
	Fee    uint64
	Rebate uint64
}

// Match settles a buy order against a sell order. The resting maker's price
// executes: the seller's when takerIsBuyer, else the buyer's. Settlement is
// unconditional and immediate: base moves from sell escrow to the buyer,
// quote minus the net fee (plus the maker rebate where the maker is the
// seller) moves from buy escrow to the seller.
func (d *Desk) Match(buyID, sellID uuid.UUID, maxQty, minPrice, maxPrice uint64, takerIsBuyer bool, caller common.Address, tr venue.Treasury) (MatchResult, error) {
	var res MatchResult
	if tr == nil || tr.ID() != d.treasuryID {
		return res, venue.ErrBadTreasuryBinding
	}
	now := d.clock.NowMs()

	d.mu.Lock()
	defer d.mu.Unlock()

	buy, ok := d.orders[buyID]
	if !ok {
		return res, fmt.Errorf("%w: buy %s", venue.ErrUnknownOrder, buyID)
	}
	sell, ok := d.orders[sellID]
	if !ok {
		return res, fmt.Errorf("%w: sell %s", venue.ErrUnknownOrder, sellID)
	}
	if buy.Side != venue.Bid || sell.Side != venue.Ask {
		return res, fmt.Errorf("%w: side mismatch", venue.ErrNotCrossed)
	}
	if buy.expired(now) || sell.expired(now) {
		return res, venue.ErrExpired
	}
	if buy.Price < sell.Price {
		return res, fmt.Errorf("%w: buy %d < sell %d", venue.ErrNotCrossed, buy.Price, sell.Price)
	}
	exec := buy.Price
	if takerIsBuyer {
		exec = sell.Price
	}
	if exec < minPrice || exec > maxPrice {
		return res, fmt.Errorf("%w: exec %d outside [%d, %d]", venue.ErrBadBounds, exec, minPrice, maxPrice)
	}
	qty := buy.Remaining
	if sell.Remaining < qty {
		qty = sell.Remaining
	}
	if maxQty < qty {
		qty = maxQty
	}
	if qty == 0 {
		return res, venue.ErrZeroAmount
	}

	// buyCost fits: buy escrow was sized with checked math, exec <= buy price.
	notional := fees.Notional(exec, qty)
	buyCost := fees.Notional(buy.Price, qty)
	surplus := buyCost - notional

	fee := d.fees.FeeOnNotional(notional)
	rebate := d.fees.MakerRebate(fee)
	proceeds := notional - fee

	makerOwner, takerOwner := sell.Owner, buy.Owner
	if !takerIsBuyer {
		makerOwner, takerOwner = buy.Owner, sell.Owner
	}

	must(d.funds.Apply(func(tx *escrow.Tx) error {
		tx.Credit(sell.Owner, d.quote, proceeds)
		tx.Credit(buy.Owner, d.base, qty)
		tx.Credit(buy.Owner, d.quote, surplus)
		tx.Credit(makerOwner, d.quote, rebate)
		return nil
	}))
	buy.Remaining -= qty
	buy.Escrowed -= buyCost
	sell.Remaining -= qty
	sell.Escrowed -= qty
	if buy.Remaining == 0 {
		delete(d.orders, buyID)
	}
	if sell.Remaining == 0 {
		delete(d.orders, sellID)
	}

	if slashed := fee - rebate; slashed > 0 {
		d.treasury.DepositWithRewardsForEpoch(d.epochs.CurrentEpoch(now), d.quote, slashed, "otc_fee", caller)
	}

	d.sink.Emit(events.Event{
		Type: events.TypeOtcOrderMatched, TimeMs: now, Market: d.symbol(),
		OrderID: buyID.String(), Owner: buy.Owner, Side: "bid",
		Price: exec, Qty: qty, Fee: fee,
	})
	d.sink.Emit(events.Event{
		Type: events.TypeOtcOrderMatched, TimeMs: now, Market: d.symbol(),
		OrderID: sellID.String(), Owner: sell.Owner, Side: "ask",
		Price: exec, Qty: qty, Fee: fee,
	})
	d.sink.Emit(events.Event{
		Type: events.TypeSwapExecuted, TimeMs: now, Market: d.symbol(),
		Price: exec, Qty: qty, Maker: makerOwner, Taker: takerOwner,
	})

	d.log.Debug("otc match",
		zap.String("pair", d.symbol()), zap.Uint64("price", exec),
		zap.Uint64("qty", qty), zap.Uint64("fee", fee))

	return MatchResult{Price: exec, Qty: qty, Fee: fee, Rebate: rebate}, nil
}

func must(err error) {
	if err != nil {
		panic(fmt.Errorf("otc: commit-phase failure: %w", err))
	}
}
