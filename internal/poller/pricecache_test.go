package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"alphaengine-core/internal/config"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
)

func newTickerServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price, ok := prices[symbol]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"price": price})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *exchange.Client {
	t.Helper()
	cfg := config.Config{Exchange: config.ExchangeConfig{RESTBaseURL: baseURL}}
	auth := exchange.NewAuth(cfg)
	return exchange.NewClient(cfg, auth, testLogger())
}

func TestPriceCacheRefreshSkipsFailedSymbols(t *testing.T) {
	t.Parallel()

	srv := newTickerServer(t, map[string]string{
		"BTCUSDT": "65000.50",
		"ETHUSDT": "3200.10",
	})
	client := newTestClient(t, srv.URL)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	configs := store.NewConfigStore(db)

	mock.ExpectQuery(`INSERT INTO config_store`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "value", "version", "updated_by", "updated_at"}).
			AddRow("prices", []byte(`{}`), 1, "poller", time.Now().UTC()))

	pc := NewPriceCache(client, configs, []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"}, testLogger())

	updated, err := pc.DoPoll(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("DoPoll: %v", err)
	}
	if updated != 2 {
		t.Errorf("DoPoll() updated = %d, want 2 (XRPUSDT has no ticker and should be skipped)", updated)
	}
}

func TestPriceCacheDefaultsToDefaultCacheSymbols(t *testing.T) {
	t.Parallel()

	pc := NewPriceCache(nil, nil, nil, testLogger())
	if len(pc.Symbols) != len(DefaultCacheSymbols) {
		t.Errorf("Symbols = %v, want DefaultCacheSymbols", pc.Symbols)
	}
}
