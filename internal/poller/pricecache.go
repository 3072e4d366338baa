package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
)

// DefaultCacheSymbols is the set of USDT pairs kept warm in the price
// cache for downstream consumers (asset valuation, dust conversion).
var DefaultCacheSymbols = []string{"BNBUSDT", "BTCUSDT", "ETHUSDT", "XRPUSDT", "USDCUSDT"}

// PriceCacheConfigKey is the config_store row the cached ticker prices are
// kept under; read-only consumers (a dashboard, a strategy context) read it
// without hitting the exchange themselves.
const PriceCacheConfigKey = "prices"

// PriceCache refreshes a small set of ticker prices into config_store every
// minute by default, so other components can read a recent price without
// spending their own REST rate-limit budget.
type PriceCache struct {
	*Base
	Client  *exchange.Client
	Symbols []string
	logger  *slog.Logger
}

// NewPriceCache builds a PriceCache poller over the given symbols, or
// DefaultCacheSymbols if symbols is empty.
func NewPriceCache(client *exchange.Client, configs *store.ConfigStore, symbols []string, logger *slog.Logger) *PriceCache {
	if len(symbols) == 0 {
		symbols = DefaultCacheSymbols
	}
	return &PriceCache{
		Base:    &Base{PollerName: "price_cache", Configs: configs},
		Client:  client,
		Symbols: symbols,
		logger:  logger.With("component", "price_cache_poller"),
	}
}

func (p *PriceCache) Name() string { return "price_cache" }

// DoPoll fetches the current ticker for each symbol and writes whatever it
// could fetch into config_store as a single map, so one symbol's transient
// failure never blocks the rest from refreshing. since is unused: price_cache
// has no event-store backlog to replay, only a live snapshot to refresh.
func (p *PriceCache) DoPoll(ctx context.Context, _ time.Time) (int, error) {
	prices := make(map[string]any, len(p.Symbols))
	for _, symbol := range p.Symbols {
		price, err := p.Client.Ticker(ctx, symbol)
		if err != nil {
			p.logger.Warn("price cache: ticker fetch failed", "symbol", symbol, "error", err)
			continue
		}
		prices[symbol] = price.String()
	}

	if len(prices) == 0 {
		return 0, nil
	}

	if _, err := p.Configs.Set(ctx, PriceCacheConfigKey, prices, "poller", nil); err != nil {
		return 0, fmt.Errorf("price cache poller: save: %w", err)
	}
	return len(prices), nil
}
