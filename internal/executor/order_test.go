package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/config"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/pkg/types"
)

func dryRunExchangeClient() *exchange.Client {
	cfg := config.Config{DryRun: true, Exchange: config.ExchangeConfig{RESTBaseURL: "http://localhost"}}
	auth := exchange.NewAuth(cfg)
	return exchange.NewClient(cfg, auth, testLogger())
}

func TestPlaceOrderHandlerSuccess(t *testing.T) {
	t.Parallel()
	h := &PlaceOrderHandler{Client: dryRunExchangeClient()}
	cmd := types.Command{
		CommandID: "cmd-1",
		Scope:     types.Scope{Exchange: "BINANCE", Venue: types.VenueFutures, Symbol: "XRPUSDT"},
		Payload: map[string]any{
			"symbol":     "XRPUSDT",
			"side":       "BUY",
			"order_type": "MARKET",
			"quantity":   "10",
		},
	}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if len(res.Events) != 1 || res.Events[0].EventType != types.EvtOrderPlaced {
		t.Errorf("expected a single OrderPlaced event, got %+v", res.Events)
	}
	if res.Payload["client_order_id"] != "ae-cmd-1" {
		t.Errorf("client_order_id = %v, want ae-cmd-1", res.Payload["client_order_id"])
	}
}

type fakePositionGetter struct {
	pos types.Position
	has bool
	err error
}

func (p *fakePositionGetter) Position(ctx context.Context, scope types.Scope) (types.Position, bool, error) {
	return p.pos, p.has, p.err
}

func TestClosePositionHandlerNoPositionIsSuccessNoOp(t *testing.T) {
	t.Parallel()
	h := &ClosePositionHandler{Client: dryRunExchangeClient(), Projector: &fakePositionGetter{has: false}}
	cmd := types.Command{CommandID: "cmd-2", Payload: map[string]any{"symbol": "XRPUSDT"}}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(res.Events) != 0 {
		t.Errorf("expected a no-op success, got %+v", res)
	}
}

func TestClosePositionHandlerClosesLongWithSell(t *testing.T) {
	t.Parallel()
	h := &ClosePositionHandler{
		Client:    dryRunExchangeClient(),
		Projector: &fakePositionGetter{has: true, pos: types.Position{Symbol: "XRPUSDT", Side: types.PositionLong, Qty: decimal.NewFromInt(5)}},
	}
	cmd := types.Command{CommandID: "cmd-3", Payload: map[string]any{"symbol": "XRPUSDT"}}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("expected success with one event, got %+v", res)
	}
	if res.Events[0].Payload["side"] != "SELL" {
		t.Errorf("expected a SELL close for a long position, got %v", res.Events[0].Payload["side"])
	}
}

func TestCancelOrderHandlerRequiresAnID(t *testing.T) {
	t.Parallel()
	h := &CancelOrderHandler{Client: dryRunExchangeClient()}
	cmd := types.Command{CommandID: "cmd-4", Payload: map[string]any{"symbol": "XRPUSDT"}}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure when neither order id is supplied")
	}
}

func TestSetLeverageHandlerRejectsNonPositive(t *testing.T) {
	t.Parallel()
	h := &SetLeverageHandler{Client: dryRunExchangeClient()}
	cmd := types.Command{CommandID: "cmd-5", Payload: map[string]any{"symbol": "XRPUSDT", "leverage": 0}}

	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure for non-positive leverage")
	}
}
