package lending

import (
	"fmt"
	"math/big"
	"time"
)

// PriceQuote captures a normalized asset price as a fixed-point value with 18
// fractional digits, together with the timestamp reported by the feed.
type PriceQuote struct {
	Price     *big.Int
	Timestamp time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceOracle resolves the normalized price for a single asset. Unavailability
// is an explicit error, never a zero quote, so callers choose fail-fast versus
// skip-validation semantics themselves.
type PriceOracle interface {
	GetNormalizedPrice(asset string) (PriceQuote, error)
}

// StaleGuard wraps an oracle and rejects quotes older than the configured
// window. A zero window disables the check.
type StaleGuard struct {
	inner  PriceOracle
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewStaleGuard wraps the oracle with a maximum staleness window.
func NewStaleGuard(inner PriceOracle, maxAge time.Duration) *StaleGuard {
	return &StaleGuard{inner: inner, maxAge: maxAge, nowFn: time.Now}
}

// SetNowFunc overrides the clock, primarily for deterministic tests.
func (g *StaleGuard) SetNowFunc(now func() time.Time) {
	if g == nil {
		return
	}
	if now == nil {
		g.nowFn = time.Now
		return
	}
	g.nowFn = now
}

// GetNormalizedPrice implements PriceOracle.
func (g *StaleGuard) GetNormalizedPrice(asset string) (PriceQuote, error) {
	if g == nil || g.inner == nil {
		return PriceQuote{}, ErrPriceUnavailable
	}
	quote, err := g.inner.GetNormalizedPrice(asset)
	if err != nil {
		return PriceQuote{}, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	if g.maxAge > 0 && g.nowFn().Sub(quote.Timestamp) > g.maxAge {
		return PriceQuote{}, fmt.Errorf("%w: %s quote stale", ErrPriceUnavailable, asset)
	}
	return quote.Clone(), nil
}

// fetchPrice resolves a price through the engine's oracle, reporting
// unavailability as ok=false rather than an error so match-time validation can
// degrade gracefully.
func (e *Engine) fetchPrice(asset string) (*big.Int, bool) {
	if e == nil || e.oracle == nil {
		return nil, false
	}
	quote, err := e.oracle.GetNormalizedPrice(asset)
	if err != nil || quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, false
	}
	return quote.Price, true
}
