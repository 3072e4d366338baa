package marketdata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	bars      []types.Bar
	klinesErr error
	price     decimal.Decimal
	tickerErr error
	calls     int
}

func (c *fakeClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error) {
	c.calls++
	if c.klinesErr != nil {
		return nil, c.klinesErr
	}
	return c.bars, nil
}

func (c *fakeClient) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.tickerErr != nil {
		return decimal.Zero, c.tickerErr
	}
	return c.price, nil
}

func barsN(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{OpenTime: time.Unix(int64(i)*60, 0), Close: decimal.NewFromInt(int64(i))}
	}
	return bars
}

func TestGetBarsFetchesAndCaches(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bars: barsN(5)}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	bars := p.GetBars(context.Background(), "XRPUSDT", "5m", 0)
	if len(bars) != 5 {
		t.Fatalf("GetBars() len = %d, want 5", len(bars))
	}

	p.GetBars(context.Background(), "XRPUSDT", "5m", 0)
	if client.calls != 1 {
		t.Errorf("expected second call to hit cache, Klines called %d times", client.calls)
	}
}

func TestGetBarsInvalidTimeframeFallsBackToDefault(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bars: barsN(3)}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	p.GetBars(context.Background(), "XRPUSDT", "bogus", 0)
	if got := len(p.cache); got != 1 {
		t.Fatalf("expected one cache entry keyed by the default timeframe, got %d", got)
	}
	if _, ok := p.cache["XRPUSDT:5m"]; !ok {
		t.Error("expected fallback to cache under the default timeframe key")
	}
}

func TestGetBarsReturnsEmptyOnFetchError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{klinesErr: errors.New("boom")}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	bars := p.GetBars(context.Background(), "XRPUSDT", "5m", 0)
	if len(bars) != 0 {
		t.Errorf("expected empty bars on fetch error, got %d", len(bars))
	}
}

func TestGetBarsExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bars: barsN(2)}
	p := NewProvider(client, "5m", 100, time.Millisecond, testLogger())

	p.GetBars(context.Background(), "XRPUSDT", "5m", 0)
	time.Sleep(5 * time.Millisecond)
	p.GetBars(context.Background(), "XRPUSDT", "5m", 0)

	if client.calls != 2 {
		t.Errorf("expected cache to expire and refetch, Klines called %d times", client.calls)
	}
}

func TestGetBarsAppliesLimitFromCache(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bars: barsN(10)}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	p.GetBars(context.Background(), "XRPUSDT", "5m", 10)
	limited := p.GetBars(context.Background(), "XRPUSDT", "5m", 3)
	if len(limited) != 3 {
		t.Fatalf("GetBars(limit=3) len = %d, want 3", len(limited))
	}
	if !limited[2].Close.Equal(decimal.NewFromInt(9)) {
		t.Errorf("expected the most recent 3 bars, got last close %s", limited[2].Close)
	}
}

func TestGetCurrentPriceReturnsFalseOnError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{tickerErr: errors.New("boom")}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	_, ok := p.GetCurrentPrice(context.Background(), "XRPUSDT")
	if ok {
		t.Error("expected ok=false on ticker error")
	}
}

func TestGetCurrentPriceReturnsValue(t *testing.T) {
	t.Parallel()

	client := &fakeClient{price: decimal.NewFromFloat(1.2345)}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	price, ok := p.GetCurrentPrice(context.Background(), "XRPUSDT")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !price.Equal(decimal.NewFromFloat(1.2345)) {
		t.Errorf("GetCurrentPrice() = %s, want 1.2345", price)
	}
}

func TestInvalidateSymbolDropsOnlyThatSymbol(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bars: barsN(2)}
	p := NewProvider(client, "5m", 100, time.Minute, testLogger())

	p.GetBars(context.Background(), "XRPUSDT", "5m", 0)
	p.GetBars(context.Background(), "BTCUSDT", "5m", 0)

	p.InvalidateSymbol("XRPUSDT")

	if _, ok := p.cache["XRPUSDT:5m"]; ok {
		t.Error("expected XRPUSDT entry to be invalidated")
	}
	if _, ok := p.cache["BTCUSDT:5m"]; !ok {
		t.Error("expected BTCUSDT entry to survive")
	}
}
