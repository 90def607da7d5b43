// Package market is the engine's lifecycle layer: markets, order placement
// with time-in-force variants, cancellation, claiming of accrued proceeds,
// expiry GC, and permissionless crossing of resting orders.
//
// Every operation is a whole-call transaction: preconditions are validated
// against a snapshot (fill plan plus a staged funds transaction), and state
// mutation starts only once nothing can fail. Operations on the same market
// serialize on its mutex; disjoint markets run concurrently.
package market

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/book"
	"github.com/venuelabs/venue/pkg/venue/escrow"
)

// Market is one base/quote trading pair: the book, the escrow ledger, and
// the registries mapping order identifier to owner, side and posted bond.
type Market struct {
	Symbol string
	Base   string
	Quote  string

	mu     sync.Mutex
	paused bool

	book   *book.Book
	ledger *escrow.Ledger

	owners map[venue.OrderID]common.Address
	sides  map[venue.OrderID]venue.Side
	bonds  map[venue.OrderID]uint64
}

func newMarket(base, quote string) *Market {
	return &Market{
		Symbol: base + "-" + quote,
		Base:   base,
		Quote:  quote,
		book:   book.New(),
		ledger: escrow.NewLedger(),
		owners: make(map[venue.OrderID]common.Address),
		sides:  make(map[venue.OrderID]venue.Side),
		bonds:  make(map[venue.OrderID]uint64),
	}
}

// register books the market-level state for a freshly posted order. Called
// with the market lock held.
func (m *Market) register(id venue.OrderID, owner common.Address, bond uint64) {
	m.owners[id] = owner
	m.sides[id] = id.Side()
	m.bonds[id] = bond
}

// unregister removes all market-level state for an order. Entries are
// removed together or not at all.
func (m *Market) unregister(id venue.OrderID) {
	delete(m.owners, id)
	delete(m.sides, id)
	delete(m.bonds, id)
}

// EscrowTotals exposes the ledger sums for conservation checks.
func (m *Market) EscrowTotals() (base, collateral, bonds uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Totals()
}

// Depth returns aggregated price levels, best first.
func (m *Market) Depth(levels int, nowMs uint64) (bids, asks []book.PriceLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Depth(levels, nowMs)
}

// Registry is the thread-safe set of markets, keyed by symbol.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

func (r *Registry) add(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("market %s already registered", m.Symbol)
	}
	r.markets[m.Symbol] = m
	return nil
}

func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownMarket, symbol)
	}
	return m, nil
}

func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}
