package market

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

// Deps wires the exchange to its collaborators. Admin and oracle bindings
// are optional; treasury, epochs and clock are not.
type Deps struct {
	Log      *zap.Logger
	Clock    util.Clock
	Treasury venue.Treasury
	Epochs   venue.EpochSource
	Oracle   venue.PriceOracle
	Admin    venue.AdminGate
	Sink     events.Sink

	Fees fees.Params

	// DiscountAsset is the alternate fee-payment asset; DiscountFeed is its
	// oracle feed quoting it in the primary (quote) asset, scaled 1e6.
	DiscountAsset string
	DiscountFeed  string
}

// Exchange is the matching-and-settlement engine: the funds ledger, the
// market registry, and the collaborator bindings. It is bound to exactly one
// treasury instance for its lifetime.
type Exchange struct {
	log   *zap.Logger
	clock util.Clock

	funds    *escrow.Funds
	registry *Registry

	treasury   venue.Treasury
	treasuryID uuid.UUID
	epochs     venue.EpochSource
	oracle     venue.PriceOracle
	admin      venue.AdminGate
	sink       events.Sink

	feeMu sync.RWMutex
	fees  fees.Params

	discountAsset string
	discountFeed  string
}

func NewExchange(d Deps) *Exchange {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = events.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	return &Exchange{
		log:           d.Log,
		clock:         d.Clock,
		funds:         escrow.NewFunds(),
		registry:      NewRegistry(),
		treasury:      d.Treasury,
		treasuryID:    d.Treasury.ID(),
		epochs:        d.Epochs,
		oracle:        d.Oracle,
		admin:         d.Admin,
		sink:          d.Sink,
		fees:          d.Fees,
		discountAsset: d.DiscountAsset,
		discountFeed:  d.DiscountFeed,
	}
}

// Funds exposes the free-balance ledger (deposits, balance queries).
func (ex *Exchange) Funds() *escrow.Funds { return ex.funds }

// Markets exposes the registry for read paths (API, tests).
func (ex *Exchange) Markets() *Registry { return ex.registry }

func (ex *Exchange) Fees() fees.Params {
	ex.feeMu.RLock()
	defer ex.feeMu.RUnlock()
	return ex.fees
}

// checkTreasury verifies an operation was handed the treasury instance the
// exchange is bound to.
func (ex *Exchange) checkTreasury(t venue.Treasury) error {
	if t == nil || t.ID() != ex.treasuryID {
		return venue.ErrBadTreasuryBinding
	}
	return nil
}

// CreateMarket registers a new base/quote pair. Permissionless, like the
// rest of the venue.
func (ex *Exchange) CreateMarket(base, quote string) (*Market, error) {
	if base == "" || quote == "" || base == quote {
		return nil, fmt.Errorf("%w: bad pair %q/%q", venue.ErrBadBounds, base, quote)
	}
	m := newMarket(base, quote)
	if err := ex.registry.add(m); err != nil {
		return nil, err
	}
	ex.sink.Emit(events.Event{
		Type:   events.TypeMarketCreated,
		TimeMs: ex.clock.NowMs(),
		Market: m.Symbol,
	})
	ex.log.Info("market created", zap.String("symbol", m.Symbol))
	return m, nil
}

// SetPaused halts or resumes placement and matching on one market.
// Admin-gated; cancellation, claims and GC keep working while paused.
func (ex *Exchange) SetPaused(caller common.Address, symbol string, paused bool) error {
	if ex.admin == nil || !ex.admin.IsAdmin(caller) {
		return venue.ErrUnauthorized
	}
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
	ex.log.Info("market pause flag set", zap.String("symbol", symbol), zap.Bool("paused", paused))
	return nil
}

// SetFees replaces the fee parameters. Admin-gated.
func (ex *Exchange) SetFees(caller common.Address, p fees.Params) error {
	if ex.admin == nil || !ex.admin.IsAdmin(caller) {
		return venue.ErrUnauthorized
	}
	ex.feeMu.Lock()
	ex.fees = p
	ex.feeMu.Unlock()
	return nil
}

// OrderProgress returns (filled, total) for a resting order.
func (ex *Exchange) OrderProgress(symbol string, id venue.OrderID) (uint64, uint64, error) {
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.OrderProgress(id)
}

// BestBidID returns the best non-expired bid on a market.
func (ex *Exchange) BestBidID(symbol string) (venue.OrderID, bool, error) {
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return venue.OrderID{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.book.BestBidID(ex.clock.NowMs())
	return id, ok, nil
}

// BestAskID returns the best non-expired ask on a market.
func (ex *Exchange) BestAskID(symbol string) (venue.OrderID, bool, error) {
	m, err := ex.registry.Get(symbol)
	if err != nil {
		return venue.OrderID{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.book.BestAskID(ex.clock.NowMs())
	return id, ok, nil
}
