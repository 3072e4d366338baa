package poller

import (
	"context"
	"fmt"
	"time"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// Income polls the exchange's income history (funding fees and commission
// rebates) every 5 minutes by default.
type Income struct {
	*Base
	Client *exchange.Client
	Events *store.EventStore
	Scope  types.Scope
}

// NewIncome builds an Income poller scoped to cfg.
func NewIncome(client *exchange.Client, events *store.EventStore, configs *store.ConfigStore, scope types.Scope) *Income {
	return &Income{
		Base:   &Base{PollerName: "income", Configs: configs},
		Client: client,
		Events: events,
		Scope:  scope,
	}
}

func (p *Income) Name() string { return "income" }

// DoPoll fetches income records since and appends FundingApplied /
// CommissionRebateReceived events for each, dedup-gated so reconnects and
// overlapping windows never double-append.
func (p *Income) DoPoll(ctx context.Context, since time.Time) (int, error) {
	records, err := p.Client.IncomeHistory(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("income poller: fetch: %w", err)
	}

	created := 0
	for _, rec := range records {
		var ok bool
		var appendErr error
		switch rec.Kind {
		case "FUNDING_FEE":
			ok, appendErr = p.appendFunding(ctx, rec)
		case "COMMISSION_REBATE":
			ok, appendErr = p.appendRebate(ctx, rec)
		default:
			continue
		}
		if appendErr != nil {
			return created, fmt.Errorf("income poller: append %s: %w", rec.Kind, appendErr)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// appendFunding dedups on (exchange, symbol, funding_ts) rather than asset,
// since a funding settlement's natural key is the contract it was charged
// against — two symbols can settle the same asset at the same millisecond.
func (p *Income) appendFunding(ctx context.Context, rec exchange.HistoryRecord) (bool, error) {
	key := dedup.Funding(p.Scope.Exchange, rec.Symbol, rec.TxTime.UnixMilli())
	res, err := p.Events.Append(ctx, types.Event{
		EventType:  types.EvtFundingApplied,
		TS:         rec.TxTime,
		Source:     types.SourceBot,
		EntityKind: types.EntityFunding,
		EntityID:   rec.ID,
		Scope:      p.Scope,
		DedupKey:   key,
		Payload: map[string]any{
			"symbol":      rec.Symbol,
			"asset":       rec.Asset,
			"funding_fee": rec.Amount.String(),
			"tran_id":     rec.ID,
			"source":      "poller",
		},
	})
	if err != nil {
		return false, err
	}
	return res.Stored, nil
}

func (p *Income) appendRebate(ctx context.Context, rec exchange.HistoryRecord) (bool, error) {
	key := dedup.Rebate(p.Scope.Exchange, rec.ID)
	res, err := p.Events.Append(ctx, types.Event{
		EventType:  types.EvtCommissionRebateReceived,
		TS:         rec.TxTime,
		Source:     types.SourceBot,
		EntityKind: types.EntityFunding,
		EntityID:   rec.ID,
		Scope:      p.Scope,
		DedupKey:   key,
		Payload: map[string]any{
			"asset":         rec.Asset,
			"rebate_amount": rec.Amount.String(),
			"tran_id":       rec.ID,
			"source":        "poller",
		},
	})
	if err != nil {
		return false, err
	}
	return res.Stored, nil
}
