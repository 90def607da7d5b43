package synth_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/util"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/synth"
)

var (
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
	keeper = common.HexToAddress("0x6ee9e4")
)

type appliedFill struct {
	vault uuid.UUID
	side  venue.Side
	qty   uint64
	price uint64
}

type transfer struct {
	from, to uuid.UUID
	amount   uint64
}

// stubMargin scripts the margin collaborator: per-vault gain/loss outcomes,
// instrument sizes, and a record of every call.
type stubMargin struct {
	minSize, lot, tick uint64
	outcomes           map[uuid.UUID][2]uint64 // vault -> (gain, loss)
	coverErr           error

	fills     []appliedFill
	transfers []transfer
}

func newStubMargin() *stubMargin {
	return &stubMargin{
		minSize:  1,
		lot:      1,
		tick:     1,
		outcomes: make(map[uuid.UUID][2]uint64),
	}
}

func (s *stubMargin) InstrumentSizes(string) (uint64, uint64, uint64, error) {
	return s.minSize, s.lot, s.tick, nil
}

func (s *stubMargin) ApplyFill(vault uuid.UUID, _ string, side venue.Side, qty, price, _ uint64) (uint64, uint64, uint64, error) {
	s.fills = append(s.fills, appliedFill{vault, side, qty, price})
	o := s.outcomes[vault]
	return o[0], o[1], 0, nil
}

func (s *stubMargin) AssertPricesCoverAllPositions(uuid.UUID, map[string]uint64) error {
	return s.coverErr
}

func (s *stubMargin) TransferBetweenVaults(from, to uuid.UUID, amount uint64) error {
	s.transfers = append(s.transfers, transfer{from, to, amount})
	return nil
}

type fixture struct {
	m      *synth.Matcher
	margin *stubMargin
	clock  *util.ManualClock
	sink   *events.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		margin: newStubMargin(),
		clock:  util.NewManualClock(1_000_000),
		sink:   events.NewMemorySink(),
	}
	f.m = synth.NewMatcher(synth.Deps{
		Clock:  f.clock,
		Margin: f.margin,
		Sink:   f.sink,
	})
	return f
}

var prices = map[string]uint64{"ETH-PERP": 100}

func TestPlaceValidatesInstrumentBounds(t *testing.T) {
	f := newFixture(t)
	f.margin.minSize = 10
	f.margin.lot = 5
	f.margin.tick = 25

	vault := uuid.New()
	_, err := f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 100, 5, 0)
	assert.ErrorIs(t, err, venue.ErrBadBounds) // below min size
	_, err = f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 100, 12, 0)
	assert.ErrorIs(t, err, venue.ErrBadBounds) // off-lot
	_, err = f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 110, 10, 0)
	assert.ErrorIs(t, err, venue.ErrBadBounds) // off-tick
	_, err = f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 0, 10, 0)
	assert.ErrorIs(t, err, venue.ErrZeroAmount)
	_, err = f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 100, 10, f.clock.NowMs())
	assert.ErrorIs(t, err, venue.ErrExpired)

	id, err := f.m.Place(alice, vault, "ETH-PERP", venue.Bid, 100, 10, 0)
	require.NoError(t, err)
	o, ok := f.m.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(10), o.Remaining)
	assert.Len(t, f.sink.ByType(events.TypeSynthOrderPlaced), 1)
}

func TestMatchNetsBothDirections(t *testing.T) {
	f := newFixture(t)
	makerVault, takerVault := uuid.New(), uuid.New()

	makerID, err := f.m.Place(alice, makerVault, "ETH-PERP", venue.Ask, 100, 10, 0)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, takerVault, "ETH-PERP", venue.Bid, 105, 10, 0)
	require.NoError(t, err)

	// Taker loses 30 against a maker gain of 10, and gains 8 against a maker
	// loss of 3: both net directions transfer.
	f.margin.outcomes[makerVault] = [2]uint64{10, 3}
	f.margin.outcomes[takerVault] = [2]uint64{8, 30}

	res, err := f.m.Match(makerID, takerID, 10, prices, keeper)
	require.NoError(t, err)
	// Maker's price executes.
	assert.Equal(t, uint64(100), res.Price)
	assert.Equal(t, uint64(10), res.Qty)
	assert.Equal(t, uint64(20), res.ToMakerVault) // 30 - 10
	assert.Equal(t, uint64(5), res.ToTakerVault)  // 8 - 3

	require.Len(t, f.margin.fills, 2)
	assert.Equal(t, appliedFill{makerVault, venue.Ask, 10, 100}, f.margin.fills[0])
	assert.Equal(t, appliedFill{takerVault, venue.Bid, 10, 100}, f.margin.fills[1])
	assert.Equal(t, []transfer{
		{takerVault, makerVault, 20},
		{makerVault, takerVault, 5},
	}, f.margin.transfers)

	// Full fill destroys both orders.
	_, ok := f.m.Get(makerID)
	assert.False(t, ok)
	_, ok = f.m.Get(takerID)
	assert.False(t, ok)

	assert.Len(t, f.sink.ByType(events.TypeSynthMatched), 1)
	assert.Len(t, f.sink.ByType(events.TypeSwapExecuted), 1)
}

func TestMatchPartialDecrementsRemaining(t *testing.T) {
	f := newFixture(t)
	makerID, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Ask, 100, 10, 0)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Bid, 100, 10, 0)
	require.NoError(t, err)

	res, err := f.m.Match(makerID, takerID, 4, prices, keeper)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Qty)

	o, ok := f.m.Get(makerID)
	require.True(t, ok)
	assert.Equal(t, uint64(6), o.Remaining)
}

func TestMatchGuards(t *testing.T) {
	f := newFixture(t)
	makerID, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Ask, 100, 10, 0)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Bid, 105, 10, 0)
	require.NoError(t, err)

	_, err = f.m.Match(uuid.New(), takerID, 10, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrUnknownOrder)

	sameSide, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Ask, 101, 10, 0)
	require.NoError(t, err)
	_, err = f.m.Match(makerID, sameSide, 10, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrNotCrossed)

	otherSym, err := f.m.Place(bob, uuid.New(), "BTC-PERP", venue.Bid, 105, 10, 0)
	require.NoError(t, err)
	_, err = f.m.Match(makerID, otherSym, 10, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrNotCrossed)

	_, err = f.m.Match(makerID, takerID, 0, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrZeroAmount)
}

func TestMatchNotCrossedPrices(t *testing.T) {
	f := newFixture(t)
	makerID, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Ask, 106, 10, 0)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Bid, 105, 10, 0)
	require.NoError(t, err)

	_, err = f.m.Match(makerID, takerID, 10, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrNotCrossed)
}

func TestMatchRequiresPriceCoverage(t *testing.T) {
	f := newFixture(t)
	f.margin.coverErr = errors.New("missing oracle price for SOL-PERP")

	makerID, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Ask, 100, 10, 0)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Bid, 100, 10, 0)
	require.NoError(t, err)

	_, err = f.m.Match(makerID, takerID, 10, prices, keeper)
	require.Error(t, err)
	assert.Empty(t, f.margin.fills) // nothing applied

	// Orders untouched.
	o, ok := f.m.Get(makerID)
	require.True(t, ok)
	assert.Equal(t, uint64(10), o.Remaining)
}

func TestMatchExpired(t *testing.T) {
	f := newFixture(t)
	expiry := f.clock.NowMs() + 1_000
	makerID, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Ask, 100, 10, expiry)
	require.NoError(t, err)
	takerID, err := f.m.Place(bob, uuid.New(), "ETH-PERP", venue.Bid, 100, 10, 0)
	require.NoError(t, err)

	f.clock.Set(expiry)
	_, err = f.m.Match(makerID, takerID, 10, prices, keeper)
	assert.ErrorIs(t, err, venue.ErrExpired)
}

func TestCancelOwnerOnly(t *testing.T) {
	f := newFixture(t)
	id, err := f.m.Place(alice, uuid.New(), "ETH-PERP", venue.Bid, 100, 10, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, f.m.Cancel(id, bob), venue.ErrUnauthorized)
	require.NoError(t, f.m.Cancel(id, alice))
	_, ok := f.m.Get(id)
	assert.False(t, ok)
	assert.ErrorIs(t, f.m.Cancel(id, alice), venue.ErrUnknownOrder)
	assert.Len(t, f.sink.ByType(events.TypeSynthOrderCanceled), 1)
}
