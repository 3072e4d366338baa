// Package risk checks commands against a chain of typed rules before they
// are allowed to execute, and records every rejection as an event.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// Projector is the read-side query surface the guard needs to build a
// command's risk context. It is declared locally rather than imported from
// a projection package so this package stays decoupled from however the
// projection is maintained (incremental event application, a materialized
// view, a cache) — only the query shape matters here.
type Projector interface {
	Position(ctx context.Context, scope types.Scope) (types.Position, bool, error)
	Balance(ctx context.Context, scope types.Scope, asset string) (decimal.Decimal, error)
	OpenOrdersCount(ctx context.Context, scope types.Scope) (int, error)
}

// ConfigGetter returns the current risk config block (config_store's "risk"
// key).
type ConfigGetter func(ctx context.Context) (map[string]any, error)

// EngineModeGetter returns the engine's current run mode.
type EngineModeGetter func(ctx context.Context) (types.EngineMode, error)

// RiskGuard evaluates every applicable rule for a command; the first
// failing rule short-circuits the chain, and a rule that errors is treated
// as a rejection (fail-closed).
type RiskGuard struct {
	Events           *store.EventStore
	Projector        Projector
	PnL              *PnLCalculator
	ConfigGetter     ConfigGetter
	EngineModeGetter EngineModeGetter
	logger           *slog.Logger

	mu    sync.Mutex
	rules []RiskRule

	checkCount    int
	passedCount   int
	rejectedCount int
}

// NewRiskGuard builds a RiskGuard with the five default rules registered in
// the order they're evaluated: engine mode first (cheapest, most likely to
// short-circuit), then the per-order limits.
func NewRiskGuard(events *store.EventStore, projector Projector, pnl *PnLCalculator, configGetter ConfigGetter, engineModeGetter EngineModeGetter, logger *slog.Logger) *RiskGuard {
	g := &RiskGuard{
		Events:           events,
		Projector:        projector,
		PnL:              pnl,
		ConfigGetter:     configGetter,
		EngineModeGetter: engineModeGetter,
		logger:           logger.With("component", "risk_guard"),
	}
	g.AddRule(EngineModeRule{})
	g.AddRule(MaxPositionSizeRule{})
	g.AddRule(DailyLossLimitRule{})
	g.AddRule(MaxOpenOrdersRule{})
	g.AddRule(MinBalanceRule{})
	return g
}

// AddRule appends a rule to the chain.
func (g *RiskGuard) AddRule(rule RiskRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
}

// RemoveRule drops the first rule with the given name, reporting whether one
// was found.
func (g *RiskGuard) RemoveRule(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, r := range g.rules {
		if r.Name() == name {
			g.rules = append(g.rules[:i], g.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the names of the currently registered rules, in evaluation
// order.
func (g *RiskGuard) Rules() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name()
	}
	return names
}

// Check runs cmd through every applicable rule. passed is false if any rule
// rejected or errored; reason names the failing rule and why.
func (g *RiskGuard) Check(ctx context.Context, cmd types.Command) (passed bool, reason string, err error) {
	g.mu.Lock()
	g.checkCount++
	rules := make([]RiskRule, len(g.rules))
	copy(rules, g.rules)
	g.mu.Unlock()

	rc, err := g.buildContext(ctx, cmd)
	if err != nil {
		g.logger.Warn("failed to build risk context, proceeding with zero-value context", "error", err)
	}

	for _, rule := range rules {
		if !rule.AppliesTo(cmd.CommandType) {
			continue
		}
		result, checkErr := rule.Check(ctx, cmd, rc)
		if checkErr != nil {
			g.mu.Lock()
			g.rejectedCount++
			g.mu.Unlock()
			reason := fmt.Sprintf("RiskGuard rejected: %s: risk check error", rule.Name())
			g.recordRejection(ctx, cmd, RiskCheckResult{RuleName: rule.Name(), Reason: reason})
			return false, reason, nil
		}
		if !result.Passed {
			g.mu.Lock()
			g.rejectedCount++
			g.mu.Unlock()
			g.logger.Warn("command rejected", "command_id", cmd.CommandID, "rule", result.RuleName, "reason", result.Reason)
			g.recordRejection(ctx, cmd, result)
			return false, fmt.Sprintf("RiskGuard rejected: %s: %s", result.RuleName, result.Reason), nil
		}
	}

	g.mu.Lock()
	g.passedCount++
	g.mu.Unlock()
	return true, "", nil
}

func (g *RiskGuard) buildContext(ctx context.Context, cmd types.Command) (RiskContext, error) {
	rc := RiskContext{EngineMode: types.ModeRunning}

	if g.EngineModeGetter != nil {
		if mode, err := g.EngineModeGetter(ctx); err == nil {
			rc.EngineMode = mode
		}
	}
	if g.ConfigGetter != nil {
		if cfg, err := g.ConfigGetter(ctx); err == nil {
			rc.Config = cfg
		}
	}
	if rc.Config == nil {
		rc.Config = map[string]any{}
	}

	if g.Projector != nil && cmd.Scope.Symbol != "" {
		if pos, ok, posErr := g.Projector.Position(ctx, cmd.Scope); posErr == nil {
			rc.Position, rc.HasPosition = pos, ok
		}
		if bal, balErr := g.Projector.Balance(ctx, cmd.Scope, "USDT"); balErr == nil {
			rc.Balance = bal
		}
		if n, countErr := g.Projector.OpenOrdersCount(ctx, cmd.Scope); countErr == nil {
			rc.OpenOrdersCount = n
		}
	}

	if g.PnL != nil {
		if pnl, pnlErr := g.PnL.DailyPnL(ctx, cmd.Scope); pnlErr == nil {
			rc.DailyPnL = pnl
		}
	}

	return rc, nil
}

func (g *RiskGuard) recordRejection(ctx context.Context, cmd types.Command, result RiskCheckResult) {
	now := time.Now().UTC()
	key := dedup.EngineEvent(fmt.Sprintf("risk_rejected:%s", cmd.CommandID), now.UnixMilli())

	_, err := g.Events.Append(ctx, types.Event{
		EventType:     types.EvtRiskGuardRejected,
		TS:            now,
		Source:        types.SourceBot,
		EntityKind:    types.EntityEngine,
		EntityID:      cmd.CommandID,
		Scope:         cmd.Scope,
		DedupKey:      key,
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"command_type": string(cmd.CommandType),
			"rule_name":    result.RuleName,
			"reason":       result.Reason,
			"details":      result.Details,
		},
	})
	if err != nil {
		g.logger.Error("failed to record risk rejection", "command_id", cmd.CommandID, "error", err)
	}
}

// Stats reports the guard's running check/pass/reject counters.
type Stats struct {
	CheckCount    int
	PassedCount   int
	RejectedCount int
	Rules         []string
}

// Stats returns a snapshot of the guard's counters.
func (g *RiskGuard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name()
	}
	return Stats{
		CheckCount:    g.checkCount,
		PassedCount:   g.passedCount,
		RejectedCount: g.rejectedCount,
		Rules:         names,
	}
}

// ResetStats zeroes the guard's counters.
func (g *RiskGuard) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCount, g.passedCount, g.rejectedCount = 0, 0, 0
}
