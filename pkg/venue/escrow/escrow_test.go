package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/venue/pkg/venue"
)

func TestLedgerOpenDebitClose(t *testing.T) {
	l := NewLedger()
	id := venue.NewOrderID(venue.Ask, 100, 1)
	l.Open(id, 10, 0, 3)

	e, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, Entry{PendingBase: 10, Bond: 3}, e)

	require.NoError(t, l.DebitBase(id, 4))
	assert.ErrorIs(t, l.DebitBase(id, 7), venue.ErrInsufficientCollateral)
	assert.ErrorIs(t, l.DebitCollateral(id, 1), venue.ErrInsufficientCollateral)

	require.NoError(t, l.AccrueCollateral(id, 400))
	e, _ = l.Get(id)
	assert.Equal(t, Entry{PendingBase: 6, PendingCollateral: 400, Bond: 3}, e)

	final, err := l.Close(id)
	require.NoError(t, err)
	assert.Equal(t, Entry{PendingBase: 6, PendingCollateral: 400, Bond: 3}, final)
	assert.False(t, l.Exists(id))

	_, err = l.Close(id)
	assert.ErrorIs(t, err, venue.ErrUnknownOrder)
	assert.ErrorIs(t, l.DebitBase(id, 1), venue.ErrUnknownOrder)
}

func TestLedgerDuplicateOpenPanics(t *testing.T) {
	l := NewLedger()
	id := venue.NewOrderID(venue.Bid, 100, 1)
	l.Open(id, 0, 500, 1)
	assert.Panics(t, func() { l.Open(id, 0, 1, 0) })
}

func TestLedgerTotals(t *testing.T) {
	l := NewLedger()
	l.Open(venue.NewOrderID(venue.Ask, 100, 1), 10, 0, 1)
	l.Open(venue.NewOrderID(venue.Bid, 99, 2), 0, 495, 2)

	base, collateral, bonds := l.Totals()
	assert.Equal(t, uint64(10), base)
	assert.Equal(t, uint64(495), collateral)
	assert.Equal(t, uint64(3), bonds)
}
