// Package book implements the price-time-priority order book. Each side is a
// btree keyed so that in-order iteration yields best price first, earliest
// sequence first. Matching is split into a read-only fill-plan computation and
// a separate commit, so callers can validate settlement before any mutation.
package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"

	"github.com/venuelabs/venue/pkg/venue"
)

// Order is a resting order. Remaining quantity only ever decreases; a drained
// order is removed from both trees and the index.
type Order struct {
	ID       venue.OrderID
	Owner    common.Address
	Total    uint64
	Filled   uint64
	ExpiryMs uint64 // 0 = never expires
}

func (o *Order) Remaining() uint64 { return o.Total - o.Filled }

func (o *Order) expired(nowMs uint64) bool {
	return o.ExpiryMs != 0 && o.ExpiryMs <= nowMs
}

// Fill is one matched leg of a fill plan.
type Fill struct {
	Maker      venue.OrderID
	MakerOwner common.Address
	Qty        uint64
}

// FillPlan is the transient, non-mutating result of walking the opposite side.
// All book mutation happens in CommitFillPlan.
type FillPlan struct {
	Side      venue.Side
	Price     uint64
	Size      uint64
	Owner     common.Address
	Fills     []Fill
	Remainder uint64
}

// Matched returns the total quantity the plan would fill.
func (p *FillPlan) Matched() uint64 { return p.Size - p.Remainder }

// PriceLevel aggregates resting quantity at one price, for depth queries.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Qty   uint64 `json:"qty"`
}

// Book holds both sides of one market. It is not locked internally; the
// owning market serializes access.
type Book struct {
	bids *btree.BTreeG[*Order]
	asks *btree.BTreeG[*Order]
	byID map[venue.OrderID]*Order
	seq  uint64
}

func New() *Book {
	return &Book{
		// Bids iterate highest price first; ties break on lower sequence.
		bids: btree.NewG(32, func(a, b *Order) bool {
			if a.ID.Price() != b.ID.Price() {
				return a.ID.Price() > b.ID.Price()
			}
			return a.ID.Seq() < b.ID.Seq()
		}),
		// Asks iterate lowest price first; the packed key's natural order.
		asks: btree.NewG(32, func(a, b *Order) bool { return a.ID.Less(b.ID) }),
		byID: make(map[venue.OrderID]*Order),
	}
}

func (b *Book) tree(side venue.Side) *btree.BTreeG[*Order] {
	if side == venue.Bid {
		return b.bids
	}
	return b.asks
}

// crosses reports whether an incoming order at takerPrice can trade against a
// resting order at makerPrice.
func crosses(takerSide venue.Side, takerPrice, makerPrice uint64) bool {
	if takerSide == venue.Bid {
		return takerPrice >= makerPrice
	}
	return takerPrice <= makerPrice
}

// ComputeFillPlan walks the opposite side from best price outward while the
// incoming price still crosses, skipping expired orders, accumulating matched
// quantity up to size. The book is not mutated.
func (b *Book) ComputeFillPlan(side venue.Side, price, size uint64, owner common.Address, policy venue.SelfMatchPolicy, nowMs uint64) (FillPlan, error) {
	if size == 0 || price == 0 {
		return FillPlan{}, venue.ErrZeroAmount
	}
	if price > venue.MaxPrice {
		return FillPlan{}, fmt.Errorf("%w: price %d exceeds max", venue.ErrBadBounds, price)
	}

	plan := FillPlan{Side: side, Price: price, Size: size, Owner: owner, Remainder: size}
	var selfHit bool
	b.tree(side.Opposite()).Ascend(func(maker *Order) bool {
		if !crosses(side, price, maker.ID.Price()) {
			return false
		}
		if maker.expired(nowMs) {
			return true
		}
		if maker.Owner == owner && policy != venue.SelfMatchAllow {
			if policy == venue.SelfMatchReject {
				selfHit = true
				return false
			}
			return true // skip
		}
		qty := maker.Remaining()
		if qty > plan.Remainder {
			qty = plan.Remainder
		}
		if qty > 0 {
			plan.Fills = append(plan.Fills, Fill{Maker: maker.ID, MakerOwner: maker.Owner, Qty: qty})
			plan.Remainder -= qty
		}
		return plan.Remainder > 0
	})
	if selfHit {
		return FillPlan{}, venue.ErrSelfMatch
	}
	return plan, nil
}

// CommitFillPlan applies a plan: each matched maker's remaining quantity is
// decremented (drained makers leave the book), and if postRemainder is set and
// a nonzero remainder exists, a new resting order is inserted at the taker's
// price and its identifier returned.
//
// Must run in the same critical section that computed the plan; a stale plan
// is an invariant violation and panics rather than half-applying.
func (b *Book) CommitFillPlan(plan FillPlan, nowMs uint64, postRemainder bool, expiryMs uint64) (venue.OrderID, bool) {
	for _, f := range plan.Fills {
		maker, ok := b.byID[f.Maker]
		if !ok || maker.Remaining() < f.Qty {
			panic(fmt.Sprintf("book: stale fill plan for %s", f.Maker))
		}
		maker.Filled += f.Qty
		if maker.Remaining() == 0 {
			b.remove(maker)
		}
	}
	if postRemainder && plan.Remainder > 0 {
		return b.insert(plan.Side, plan.Price, plan.Remainder, plan.Owner, expiryMs), true
	}
	return venue.OrderID{}, false
}

// CommitMakerFill directly reduces a resting order's remaining quantity,
// bypassing fill plans. Used when two resting orders are crossed against each
// other. The supplied price must be the order's own price.
func (b *Book) CommitMakerFill(id venue.OrderID, price, qty uint64, nowMs uint64) error {
	o, ok := b.byID[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if o.expired(nowMs) {
		return venue.ErrExpired
	}
	if price != o.ID.Price() {
		return fmt.Errorf("%w: price %d != order price %d", venue.ErrBadBounds, price, o.ID.Price())
	}
	if qty == 0 {
		return venue.ErrZeroAmount
	}
	if qty > o.Remaining() {
		return fmt.Errorf("%w: fill %d exceeds remaining %d", venue.ErrBadBounds, qty, o.Remaining())
	}
	o.Filled += qty
	if o.Remaining() == 0 {
		b.remove(o)
	}
	return nil
}

func (b *Book) insert(side venue.Side, price, qty uint64, owner common.Address, expiryMs uint64) venue.OrderID {
	b.seq++
	o := &Order{
		ID:       venue.NewOrderID(side, price, b.seq),
		Owner:    owner,
		Total:    qty,
		ExpiryMs: expiryMs,
	}
	b.tree(side).ReplaceOrInsert(o)
	b.byID[o.ID] = o
	return o.ID
}

func (b *Book) remove(o *Order) {
	b.tree(o.ID.Side()).Delete(o)
	delete(b.byID, o.ID)
}

// Get returns the resting order for an identifier.
func (b *Book) Get(id venue.OrderID) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// OrderProgress returns (filled, total) for a resting order.
func (b *Book) OrderProgress(id venue.OrderID) (uint64, uint64, error) {
	o, ok := b.byID[id]
	if !ok {
		return 0, 0, venue.ErrUnknownOrder
	}
	return o.Filled, o.Total, nil
}

// BestBidID returns the identifier of the best non-expired bid.
func (b *Book) BestBidID(nowMs uint64) (venue.OrderID, bool) {
	return b.best(b.bids, nowMs)
}

// BestAskID returns the identifier of the best non-expired ask.
func (b *Book) BestAskID(nowMs uint64) (venue.OrderID, bool) {
	return b.best(b.asks, nowMs)
}

func (b *Book) best(tree *btree.BTreeG[*Order], nowMs uint64) (venue.OrderID, bool) {
	var id venue.OrderID
	var found bool
	tree.Ascend(func(o *Order) bool {
		if o.expired(nowMs) {
			return true
		}
		id, found = o.ID, true
		return false
	})
	return id, found
}

// CancelOrderByID removes a resting order and returns it.
func (b *Book) CancelOrderByID(id venue.OrderID) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, venue.ErrUnknownOrder
	}
	b.remove(o)
	return o, nil
}

// RemoveExpiredCollect removes up to max expired orders and returns their
// identifiers. A call finding nothing eligible returns an empty slice.
func (b *Book) RemoveExpiredCollect(nowMs uint64, max int) []venue.OrderID {
	var ids []venue.OrderID
	collect := func(tree *btree.BTreeG[*Order]) {
		var batch []*Order
		tree.Ascend(func(o *Order) bool {
			if len(ids)+len(batch) >= max {
				return false
			}
			if o.expired(nowMs) {
				batch = append(batch, o)
			}
			return true
		})
		for _, o := range batch {
			b.remove(o)
			ids = append(ids, o.ID)
		}
	}
	collect(b.bids)
	if len(ids) < max {
		collect(b.asks)
	}
	return ids
}

// Depth aggregates up to levels non-expired price levels per side, best first.
func (b *Book) Depth(levels int, nowMs uint64) (bids, asks []PriceLevel) {
	agg := func(tree *btree.BTreeG[*Order]) []PriceLevel {
		var out []PriceLevel
		tree.Ascend(func(o *Order) bool {
			if o.expired(nowMs) {
				return true
			}
			p := o.ID.Price()
			if n := len(out); n > 0 && out[n-1].Price == p {
				out[n-1].Qty += o.Remaining()
				return true
			}
			if len(out) == levels {
				return false
			}
			out = append(out, PriceLevel{Price: p, Qty: o.Remaining()})
			return true
		})
		return out
	}
	return agg(b.bids), agg(b.asks)
}

// Len returns the number of resting orders across both sides.
func (b *Book) Len() int { return len(b.byID) }
