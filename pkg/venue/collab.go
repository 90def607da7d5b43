package venue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Collaborators the engine consumes but does not implement. Everything
// downstream of matching and settlement (treasury bookkeeping, oracle
// infrastructure, margin accounting, admin capability management) lives
// behind these interfaces.

// Treasury books fees and slashed bonds, splitting proceeds into a reward
// pool scoped to the given epoch. The exchange is bound to exactly one
// treasury instance; operations verify the binding by ID.
type Treasury interface {
	ID() uuid.UUID
	DepositWithRewardsForEpoch(epoch uint64, asset string, amount uint64, reason string, recipient common.Address)
}

// EpochSource maps engine time to a reward epoch.
type EpochSource interface {
	CurrentEpoch(nowMs uint64) uint64
}

// PriceOracle supplies prices scaled by 1e6. The engine uses it only to
// convert fee discounts into the alternate payment asset.
type PriceOracle interface {
	PriceScaled1e6(feed string, nowMs uint64) (uint64, error)
}

// Margin is the external margin-vault accounting used by cash-settled
// matching. Vault health and realized P&L are entirely its concern; the
// engine only routes fills and net transfers through it.
type Margin interface {
	// InstrumentSizes returns (minSize, lotSize, tickSize) for a symbol.
	InstrumentSizes(symbol string) (uint64, uint64, uint64, error)
	// ApplyFill applies one leg of a fill to a vault and returns the
	// realized gain, realized loss and fee paid for that leg.
	ApplyFill(vault uuid.UUID, symbol string, side Side, qty, price, payment uint64) (gain, loss, feePaid uint64, err error)
	// AssertPricesCoverAllPositions fails unless the supplied price set
	// covers every open position in the vault.
	AssertPricesCoverAllPositions(vault uuid.UUID, prices map[string]uint64) error
	TransferBetweenVaults(from, to uuid.UUID, amount uint64) error
}

// AdminGate gates configuration mutators. Matching, cancellation and GC are
// permissionless and never consult it.
type AdminGate interface {
	IsAdmin(addr common.Address) bool
}
