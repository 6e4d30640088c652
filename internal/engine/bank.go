package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"VeilPerp/internal/fixed"
)

var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// Bank moves plaintext tokens between trader accounts and the ledger's
// custody holdings. Amounts are tokens 10^6. The ledger only ever sees
// these plaintext transfer legs; position internals stay sealed.
type Bank interface {
	// TransferIn pulls a deposit from an account into a custody.
	TransferIn(ctx context.Context, account uuid.UUID, custodyName string, amount uint64) error

	// TransferOut pays out from a custody to an account.
	TransferOut(ctx context.Context, account uuid.UUID, custodyName string, amount uint64) error
}

// MemoryBank is an in-memory Bank for tests and single-node deploys.
// TransferOut never fails: custody solvency is the orchestrator's
// accounting concern, not the bank's.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[uuid.UUID]uint64
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[uuid.UUID]uint64)}
}

// Deposit credits an account.
func (b *MemoryBank) Deposit(account uuid.UUID, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances[account] += amount
}

// Balance returns an account's holdings.
func (b *MemoryBank) Balance(account uuid.UUID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.balances[account]
}

func (b *MemoryBank) TransferIn(_ context.Context, account uuid.UUID, _ string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[account] < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, account, b.balances[account], amount)
	}
	b.balances[account] -= amount
	return nil
}

func (b *MemoryBank) TransferOut(_ context.Context, account uuid.UUID, _ string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sum, ok := fixed.AddChecked(b.balances[account], amount)
	if !ok {
		return fmt.Errorf("bank: balance overflow for account %s", account)
	}
	b.balances[account] = sum
	return nil
}
