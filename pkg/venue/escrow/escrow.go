// Package escrow holds the assets backing resting orders until they are
// delivered or refunded, plus the free-balance funds ledger the engine
// settles against.
package escrow

import (
	"fmt"

	"github.com/venuelabs/venue/pkg/venue"
)

// Entry is the escrow backing one resting order: base owed to a future taker,
// quote owed to a future taker, and an independent anti-grief bond. Balances
// never go negative and are drained only by matches, cancellation, or GC.
type Entry struct {
	PendingBase       uint64
	PendingCollateral uint64
	Bond              uint64
}

func (e Entry) Empty() bool {
	return e.PendingBase == 0 && e.PendingCollateral == 0 && e.Bond == 0
}

// Ledger maps order identifier to escrow entry for one market. Access is
// serialized by the owning market.
type Ledger struct {
	entries map[venue.OrderID]*Entry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[venue.OrderID]*Entry)}
}

// Open creates the entry backing a freshly booked order.
func (l *Ledger) Open(id venue.OrderID, base, collateral, bond uint64) {
	if _, ok := l.entries[id]; ok {
		panic(fmt.Sprintf("escrow: duplicate entry %s", id))
	}
	l.entries[id] = &Entry{PendingBase: base, PendingCollateral: collateral, Bond: bond}
}

func (l *Ledger) Get(id venue.OrderID) (Entry, bool) {
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (l *Ledger) Exists(id venue.OrderID) bool {
	_, ok := l.entries[id]
	return ok
}

// DebitBase drains base owed out of an entry, erroring on underflow.
func (l *Ledger) DebitBase(id venue.OrderID, amount uint64) error {
	e, ok := l.entries[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if e.PendingBase < amount {
		return fmt.Errorf("%w: escrow base %d < %d", venue.ErrInsufficientCollateral, e.PendingBase, amount)
	}
	e.PendingBase -= amount
	return nil
}

// DebitCollateral drains quote owed out of an entry, erroring on underflow.
func (l *Ledger) DebitCollateral(id venue.OrderID, amount uint64) error {
	e, ok := l.entries[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	if e.PendingCollateral < amount {
		return fmt.Errorf("%w: escrow collateral %d < %d", venue.ErrInsufficientCollateral, e.PendingCollateral, amount)
	}
	e.PendingCollateral -= amount
	return nil
}

// AccrueBase pushes a taker's base delivery into a maker's entry for later
// claim (accrual settlement mode).
func (l *Ledger) AccrueBase(id venue.OrderID, amount uint64) error {
	e, ok := l.entries[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	e.PendingBase += amount
	return nil
}

// AccrueCollateral pushes a taker's quote payment into a maker's entry for
// later claim (accrual settlement mode).
func (l *Ledger) AccrueCollateral(id venue.OrderID, amount uint64) error {
	e, ok := l.entries[id]
	if !ok {
		return venue.ErrUnknownOrder
	}
	e.PendingCollateral += amount
	return nil
}

// Close removes the entry and returns its final balances for refund or
// slashing. Registry, escrow and bond state are removed together or not at
// all; partial removal does not exist.
func (l *Ledger) Close(id venue.OrderID) (Entry, error) {
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, venue.ErrUnknownOrder
	}
	delete(l.entries, id)
	return *e, nil
}

// Totals sums all entry balances, for conservation checks.
func (l *Ledger) Totals() (base, collateral, bonds uint64) {
	for _, e := range l.entries {
		base += e.PendingBase
		collateral += e.PendingCollateral
		bonds += e.Bond
	}
	return base, collateral, bonds
}
