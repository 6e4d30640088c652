package custody

import (
	"errors"
	"fmt"
	"sync"

	"VeilPerp/internal/fixed"
)

var (
	ErrUnknownCustody          = errors.New("pool: unknown custody")
	ErrInsufficientLiquidity   = errors.New("pool: insufficient free liquidity")
	ErrSlippageExceeded        = errors.New("pool: output below minimum")
	ErrInsufficientShareSupply = errors.New("pool: burn exceeds share supply")
)

// Pool groups the custodies backing one market set and tracks the LP
// share supply. Shares price 1:1 against deposited liquidity; anything
// richer belongs to a pricing layer this ledger does not carry.
//
// Lock order: Pool.mu before Custody.mu, always.
type Pool struct {
	mu sync.Mutex

	Name        string
	custodies   map[string]*Custody
	ShareSupply uint64
}

func NewPool(name string) *Pool {
	return &Pool{
		Name:      name,
		custodies: make(map[string]*Custody),
	}
}

// AddCustody registers a custody under its asset name.
func (p *Pool) AddCustody(c *Custody) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.custodies[c.Name] = c
}

// Custody returns the custody for an asset.
func (p *Pool) Custody(name string) (*Custody, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.custodyLocked(name)
}

func (p *Pool) custodyLocked(name string) (*Custody, error) {
	c, ok := p.custodies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCustody, name)
	}
	return c, nil
}

// AddLiquidity deposits into a custody and mints shares. Validated in
// full before anything changes; mint and deposit commit together.
func (p *Pool) AddLiquidity(custodyName string, amount, minShares uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.custodyLocked(custodyName)
	if err != nil {
		return 0, err
	}

	shares := amount
	if shares < minShares {
		return 0, fmt.Errorf("%w: %d < %d", ErrSlippageExceeded, shares, minShares)
	}

	supply, ok := fixed.AddChecked(p.ShareSupply, shares)
	if !ok {
		return 0, fmt.Errorf("%w: share supply", ErrAmountOverflow)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	owned, ok := fixed.AddChecked(c.Assets.Owned, amount)
	if !ok {
		return 0, fmt.Errorf("%w: owned %d + %d", ErrAmountOverflow, c.Assets.Owned, amount)
	}

	c.Assets.Owned = owned
	p.ShareSupply = supply
	return shares, nil
}

// RemoveLiquidity burns shares and withdraws from a custody. Only
// liquidity not locked against positions is withdrawable.
func (p *Pool) RemoveLiquidity(custodyName string, shares, minAmount uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.custodyLocked(custodyName)
	if err != nil {
		return 0, err
	}

	if shares > p.ShareSupply {
		return 0, fmt.Errorf("%w: %d > %d", ErrInsufficientShareSupply, shares, p.ShareSupply)
	}

	amount := shares
	if amount < minAmount {
		return 0, fmt.Errorf("%w: %d < %d", ErrSlippageExceeded, amount, minAmount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	available := fixed.SubFloor(c.Assets.Owned, c.Assets.Locked)
	if amount > available {
		return 0, fmt.Errorf("%w: %d > %d free", ErrInsufficientLiquidity, amount, available)
	}

	c.Assets.Owned -= amount
	p.ShareSupply -= shares
	return amount, nil
}
