package treasury

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

var (
	keeper = common.HexToAddress("0x6ee9e4")
	other  = common.HexToAddress("0x07e4")
)

func TestDepositsPoolByEpochWithAttribution(t *testing.T) {
	tr := New()
	tr.DepositWithRewardsForEpoch(1, "USD", 100, "trade_fee", keeper)
	tr.DepositWithRewardsForEpoch(1, "USD", 50, "gc_slash", keeper)
	tr.DepositWithRewardsForEpoch(1, "USD", 25, "trade_fee", other)
	tr.DepositWithRewardsForEpoch(2, "USD", 10, "trade_fee", keeper)
	tr.DepositWithRewardsForEpoch(1, "USD", 0, "trade_fee", keeper) // no-op

	assert.Equal(t, uint64(175), tr.PoolBalance(1, "USD"))
	assert.Equal(t, uint64(10), tr.PoolBalance(2, "USD"))
	assert.Equal(t, uint64(150), tr.Attributed(1, "USD", keeper))
	assert.Equal(t, uint64(25), tr.Attributed(1, "USD", other))
	assert.Equal(t, uint64(185), tr.TotalBooked("USD"))
	assert.Equal(t, uint64(135), tr.ByReason("trade_fee"))
	assert.Equal(t, uint64(50), tr.ByReason("gc_slash"))
}

func TestTreasuryIDsAreDistinct(t *testing.T) {
	assert.NotEqual(t, New().ID(), New().ID())
}

func TestFixedEpochs(t *testing.T) {
	e := FixedEpochs{GenesisMs: 1_000, LengthMs: 100}
	assert.Equal(t, uint64(0), e.CurrentEpoch(500)) // before genesis
	assert.Equal(t, uint64(0), e.CurrentEpoch(1_000))
	assert.Equal(t, uint64(0), e.CurrentEpoch(1_099))
	assert.Equal(t, uint64(1), e.CurrentEpoch(1_100))
	assert.Equal(t, uint64(42), e.CurrentEpoch(5_200))

	// Degenerate length never divides by zero.
	assert.Equal(t, uint64(0), FixedEpochs{}.CurrentEpoch(9_999))
}
