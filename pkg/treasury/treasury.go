// Package treasury provides the in-process reference implementation of the
// engine's treasury collaborator: booked proceeds are split into epoch-scoped
// reward pools, with per-recipient attribution so recurring keepers and GC
// callers accumulate standing across an epoch.
package treasury

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type poolKey struct {
	epoch uint64
	asset string
}

type attribKey struct {
	epoch     uint64
	asset     string
	recipient common.Address
}

// Treasury is a thread-safe, in-memory treasury instance.
type Treasury struct {
	id uuid.UUID

	mu       sync.Mutex
	pools    map[poolKey]uint64
	attrib   map[attribKey]uint64
	byReason map[string]uint64
}

func New() *Treasury {
	return &Treasury{
		id:       uuid.New(),
		pools:    make(map[poolKey]uint64),
		attrib:   make(map[attribKey]uint64),
		byReason: make(map[string]uint64),
	}
}

func (t *Treasury) ID() uuid.UUID { return t.id }

// DepositWithRewardsForEpoch books a fee or slash into the epoch's reward
// pool, attributing it to the recipient that triggered it.
func (t *Treasury) DepositWithRewardsForEpoch(epoch uint64, asset string, amount uint64, reason string, recipient common.Address) {
	if amount == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pools[poolKey{epoch, asset}] += amount
	t.attrib[attribKey{epoch, asset, recipient}] += amount
	t.byReason[reason] += amount
}

// PoolBalance returns the booked total for one epoch and asset.
func (t *Treasury) PoolBalance(epoch uint64, asset string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pools[poolKey{epoch, asset}]
}

// Attributed returns how much a recipient drove into one epoch's pool.
func (t *Treasury) Attributed(epoch uint64, asset string, recipient common.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attrib[attribKey{epoch, asset, recipient}]
}

// TotalBooked sums all pools for one asset, for conservation checks.
func (t *Treasury) TotalBooked(asset string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum uint64
	for k, v := range t.pools {
		if k.asset == asset {
			sum += v
		}
	}
	return sum
}

// ByReason returns the total booked under one reason tag.
func (t *Treasury) ByReason(reason string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byReason[reason]
}

// FixedEpochs is a simple epoch source: epochs of a fixed millisecond length
// starting at a genesis timestamp.
type FixedEpochs struct {
	GenesisMs uint64
	LengthMs  uint64
}

func (e FixedEpochs) CurrentEpoch(nowMs uint64) uint64 {
	if e.LengthMs == 0 || nowMs < e.GenesisMs {
		return 0
	}
	return (nowMs - e.GenesisMs) / e.LengthMs
}
