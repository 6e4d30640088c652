package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Prices are USD fixed-point with 6 decimals, matching the ledger's wire
// encoding. A price is usable only while it is fresh; everything else in
// the system treats the oracle as available-and-fresh or rejected.

var (
	ErrNoPrice    = errors.New("oracle: no price for feed")
	ErrStalePrice = errors.New("oracle: price too old")
)

// DefaultMaxAge is the staleness window applied when none is configured.
const DefaultMaxAge = 60 * time.Second

// Price is one oracle observation.
type Price struct {
	Value      uint64    `json:"value"` // USD 10^6
	Confidence uint64    `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Feed serves prices by feed ID. GetPrice fails rather than return a
// stale or missing price.
type Feed interface {
	GetPrice(feedID string) (Price, error)
}

// CachedFeed is an in-memory last-observation store with staleness
// enforcement on read. Fed by a price subscription or set directly.
type CachedFeed struct {
	mu     sync.RWMutex
	prices map[string]Price
	maxAge time.Duration
	now    func() time.Time
}

func NewCachedFeed(maxAge time.Duration) *CachedFeed {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &CachedFeed{
		prices: make(map[string]Price),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetPrice records the latest observation for a feed.
func (f *CachedFeed) SetPrice(feedID string, p Price) {
	f.mu.Lock()
	f.prices[feedID] = p
	f.mu.Unlock()
}

// GetPrice returns the last observation if it is within the staleness
// window.
func (f *CachedFeed) GetPrice(feedID string) (Price, error) {
	f.mu.RLock()
	p, ok := f.prices[feedID]
	f.mu.RUnlock()

	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrNoPrice, feedID)
	}
	if f.now().Sub(p.Timestamp) > f.maxAge {
		return Price{}, fmt.Errorf("%w: %s age=%s", ErrStalePrice, feedID, f.now().Sub(p.Timestamp))
	}
	return p, nil
}

// StaticFeed always serves the same fresh price. Test helper.
type StaticFeed struct {
	Value uint64
}

func (s StaticFeed) GetPrice(string) (Price, error) {
	if s.Value == 0 {
		return Price{}, ErrNoPrice
	}
	return Price{Value: s.Value, Timestamp: time.Now()}, nil
}

// ScalePrice converts an exponent-carrying quote to the 6-decimal wire
// encoding. Overflow on upscaling is an error, never a wrap.
func ScalePrice(price uint64, exponent int32) (uint64, error) {
	const target = -6

	switch {
	case exponent == target:
		return price, nil
	case exponent < target:
		div := pow10(uint32(target - exponent))
		if div == 0 {
			return 0, fmt.Errorf("oracle: exponent %d out of range", exponent)
		}
		return price / div, nil
	default:
		mul := pow10(uint32(exponent - target))
		if mul == 0 {
			return 0, fmt.Errorf("oracle: exponent %d out of range", exponent)
		}
		scaled := price * mul
		if price != 0 && scaled/price != mul {
			return 0, fmt.Errorf("oracle: price %d overflows at exponent %d", price, exponent)
		}
		return scaled, nil
	}
}

// pow10 returns 10^n for n up to 19, 0 beyond that.
func pow10(n uint32) uint64 {
	if n > 19 {
		return 0
	}
	out := uint64(1)
	for i := uint32(0); i < n; i++ {
		out *= 10
	}
	return out
}
