package escrow

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/venuelabs/venue/pkg/venue"
)

type balanceKey struct {
	addr  common.Address
	asset string
}

// Funds is the free-balance ledger: address × asset → amount. It is shared
// across markets, so mutations go through Apply, which stages debits and
// credits against a snapshot and applies them atomically only if every debit
// is covered. A failed transaction leaves no trace.
type Funds struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
}

func NewFunds() *Funds {
	return &Funds{balances: make(map[balanceKey]uint64)}
}

// Deposit credits an address outside any transaction (external top-up).
func (f *Funds) Deposit(addr common.Address, asset string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[balanceKey{addr, asset}] += amount
}

func (f *Funds) Balance(addr common.Address, asset string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[balanceKey{addr, asset}]
}

// Total sums all balances of one asset, for conservation checks.
func (f *Funds) Total(asset string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum uint64
	for k, v := range f.balances {
		if k.asset == asset {
			sum += v
		}
	}
	return sum
}

// Tx stages balance movements. Debits are validated against the snapshot
// balance plus staged credits, so a transaction may spend what it receives.
type Tx struct {
	f      *Funds
	debit  map[balanceKey]uint64
	credit map[balanceKey]uint64
}

// Apply runs fn against a staged transaction under the ledger lock and
// commits the staged movements only if fn succeeds.
func (f *Funds) Apply(fn func(*Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &Tx{
		f:      f,
		debit:  make(map[balanceKey]uint64),
		credit: make(map[balanceKey]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// Credits first: a debit may have been validated against staged credits.
	for k, c := range tx.credit {
		f.balances[k] += c
	}
	for k, d := range tx.debit {
		f.balances[k] -= d
	}
	for k, v := range f.balances {
		if v == 0 {
			delete(f.balances, k)
		}
	}
	return nil
}

// Debit stages a withdrawal, failing the transaction if the effective
// balance cannot cover it.
func (tx *Tx) Debit(addr common.Address, asset string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	k := balanceKey{addr, asset}
	avail, carry := bits.Add64(tx.f.balances[k], tx.credit[k], 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance overflow for %s/%s", venue.ErrBadBounds, addr, asset)
	}
	staged, carry := bits.Add64(tx.debit[k], amount, 0)
	if carry != 0 || staged > avail {
		return fmt.Errorf("%w: %s has %d %s, needs %d", venue.ErrInsufficientPayment, addr, avail-tx.debit[k], asset, amount)
	}
	tx.debit[k] = staged
	return nil
}

// Credit stages a deposit.
func (tx *Tx) Credit(addr common.Address, asset string, amount uint64) {
	if amount == 0 {
		return
	}
	tx.credit[balanceKey{addr, asset}] += amount
}
