// Package marketdata fronts the exchange adapter's kline endpoint with an
// in-memory TTL cache, giving strategies a cheap way to pull OHLCV frames
// without spending their own REST rate-limit budget on every tick.
package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

// ValidTimeframes mirrors the exchange's supported kline intervals.
var ValidTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// RestClient is the subset of the exchange adapter the provider depends on.
type RestClient interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error)
	Ticker(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type cacheEntry struct {
	fetchedAt time.Time
	bars      []types.Bar
}

// Provider serves OHLCV frames and current prices, caching each
// (symbol, timeframe) pair for CacheTTL.
type Provider struct {
	Client          RestClient
	DefaultTimeframe string
	DefaultLimit    int
	CacheTTL        time.Duration
	logger          *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewProvider builds a Provider. defaultTimeframe/defaultLimit/cacheTTL fall
// back to "5m", 100, and 60s respectively when zero-valued.
func NewProvider(client RestClient, defaultTimeframe string, defaultLimit int, cacheTTL time.Duration, logger *slog.Logger) *Provider {
	if defaultTimeframe == "" {
		defaultTimeframe = "5m"
	}
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Provider{
		Client:           client,
		DefaultTimeframe: defaultTimeframe,
		DefaultLimit:     defaultLimit,
		CacheTTL:         cacheTTL,
		logger:           logger.With("component", "market_data_provider"),
		cache:            make(map[string]cacheEntry),
	}
}

func (p *Provider) resolveTimeframe(timeframe string) string {
	if timeframe == "" {
		return p.DefaultTimeframe
	}
	if !ValidTimeframes[timeframe] {
		p.logger.Warn("invalid timeframe, using default", "timeframe", timeframe, "default", p.DefaultTimeframe)
		return p.DefaultTimeframe
	}
	return timeframe
}

// GetBars returns the cached or freshly-fetched kline bars for symbol,
// oldest first. limit<=0 uses DefaultLimit. Any fetch error yields an empty
// slice rather than propagating, matching the provider's fail-soft contract.
func (p *Provider) GetBars(ctx context.Context, symbol, timeframe string, limit int) []types.Bar {
	timeframe = p.resolveTimeframe(timeframe)
	if limit <= 0 {
		limit = p.DefaultLimit
	}

	key := symbol + ":" + timeframe
	if bars, ok := p.fromCache(key, limit); ok {
		return bars
	}

	bars, err := p.Client.Klines(ctx, symbol, timeframe, limit)
	if err != nil {
		p.logger.Error("klines fetch failed", "symbol", symbol, "timeframe", timeframe, "error", err)
		return nil
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{fetchedAt: time.Now(), bars: bars}
	p.mu.Unlock()

	return bars
}

// GetOHLCV is an alias for GetBars kept for parity with the Python provider's
// two near-identical accessors (bars and a DataFrame); in Go there is only
// one tabular representation, []types.Bar.
func (p *Provider) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) []types.Bar {
	return p.GetBars(ctx, symbol, timeframe, limit)
}

func (p *Provider) fromCache(key string, limit int) ([]types.Bar, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.fetchedAt) > p.CacheTTL {
		delete(p.cache, key)
		return nil, false
	}
	if len(entry.bars) > limit {
		return entry.bars[len(entry.bars)-limit:], true
	}
	return entry.bars, true
}

// GetCurrentPrice returns the latest ticker price for symbol, or a zero
// decimal and false if the fetch fails.
func (p *Provider) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	price, err := p.Client.Ticker(ctx, symbol)
	if err != nil {
		p.logger.Error("ticker fetch failed", "symbol", symbol, "error", err)
		return decimal.Zero, false
	}
	return price, true
}

// InvalidateSymbol drops every cached entry for symbol across all
// timeframes.
func (p *Provider) InvalidateSymbol(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := symbol + ":"
	for key := range p.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(p.cache, key)
		}
	}
}

// ClearCache drops every cached entry.
func (p *Provider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cacheEntry)
}
