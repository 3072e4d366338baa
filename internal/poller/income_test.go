package poller

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
)

func TestIncomeAppendsFundingAndRebateRecords(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	events := store.NewEventStore(db)
	p := &Income{
		Base:   &Base{PollerName: "income"},
		Client: nil,
		Events: events,
		Scope:  testScope(),
	}

	records := []exchange.HistoryRecord{
		{ID: "1", Kind: "FUNDING_FEE", Symbol: "XRPUSDT", Asset: "USDT", Amount: decimal.NewFromFloat(-0.5), TxTime: time.Now().UTC()},
		{ID: "2", Kind: "COMMISSION_REBATE", Asset: "USDT", Amount: decimal.NewFromFloat(0.01), TxTime: time.Now().UTC()},
		{ID: "3", Kind: "TRANSFER", Asset: "USDT", Amount: decimal.NewFromInt(10), TxTime: time.Now().UTC()},
	}

	mock.ExpectQuery(`INSERT INTO event_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO event_store`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))

	created := 0
	for _, rec := range records {
		var ok bool
		var err error
		switch rec.Kind {
		case "FUNDING_FEE":
			ok, err = p.appendFunding(context.Background(), rec)
		case "COMMISSION_REBATE":
			ok, err = p.appendRebate(context.Background(), rec)
		default:
			continue
		}
		if err != nil {
			t.Fatalf("append %s: %v", rec.Kind, err)
		}
		if ok {
			created++
		}
	}

	if created != 2 {
		t.Errorf("created = %d, want 2 (TRANSFER records are skipped by the income poller)", created)
	}
}

func TestFundingDedupKeyUsesSymbolNotAsset(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	rec := exchange.HistoryRecord{ID: "1", Symbol: "XRPUSDT", Asset: "USDT", TxTime: ts}

	gotBySymbol := dedup.Funding("BINANCE", rec.Symbol, rec.TxTime.UnixMilli())
	gotByAsset := dedup.Funding("BINANCE", rec.Asset, rec.TxTime.UnixMilli())

	if gotBySymbol == gotByAsset {
		t.Fatalf("symbol %q and asset %q produced an identical dedup key; test fixture is not distinguishing", rec.Symbol, rec.Asset)
	}

	if got := dedup.Funding("BINANCE", "XRPUSDT", ts.UnixMilli()); got != gotBySymbol {
		t.Errorf("dedup.Funding is not deterministic for identical inputs: %q != %q", got, gotBySymbol)
	}
}
