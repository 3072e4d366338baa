package strategy

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

// StrategyStateKey is the config_store row the canonical accounting triple
// is persisted under.
const StrategyStateKey = "strategy_state"

// BotStatusKey is the config_store row the runner's lifecycle status is
// published to for the web layer to observe.
const BotStatusKey = "bot_status"

// ConfigGetter returns the current risk/reward config block handed to the
// strategy via TickContext.RiskConfig.
type ConfigGetter func(ctx context.Context) (map[string]any, error)

// EngineModeGetter returns the engine's current run mode.
type EngineModeGetter func(ctx context.Context) (types.EngineMode, error)

// StatusChangeCallback observes strategy lifecycle transitions.
type StatusChangeCallback func(strategyName string, isRunning bool, action string)

// Runner drives a single loaded strategy's lifecycle and tick/event
// callbacks, owning its persisted state and status propagation.
type Runner struct {
	Events           *store.EventStore
	Commands         *store.CommandStore
	Configs          *store.ConfigStore
	Scope            types.Scope
	Builder          *ContextBuilder
	RiskGuard        RiskChecker
	ConfigGetter     ConfigGetter
	EngineModeGetter EngineModeGetter
	logger           *slog.Logger

	mu                  sync.Mutex
	strategy            Strategy
	emitter             *CommandEmitterImpl
	state               map[string]any
	params              map[string]any
	isRunning           bool
	tickCount           int
	errorCount          int
	lastTickTime        time.Time
	startedAt           time.Time
	lastSavedTradeCount int
	onStatusChange      StatusChangeCallback
}

// NewRunner builds a Runner for one symbol scope.
func NewRunner(events *store.EventStore, commands *store.CommandStore, configs *store.ConfigStore, scope types.Scope, builder *ContextBuilder, riskGuard RiskChecker, configGetter ConfigGetter, engineModeGetter EngineModeGetter, logger *slog.Logger) *Runner {
	return &Runner{
		Events:           events,
		Commands:         commands,
		Configs:          configs,
		Scope:            scope,
		Builder:          builder,
		RiskGuard:        riskGuard,
		ConfigGetter:     configGetter,
		EngineModeGetter: engineModeGetter,
		logger:           logger.With("component", "strategy_runner"),
		state:            map[string]any{},
	}
}

// SetStatusChangeCallback installs the callback invoked on load/start/stop.
func (r *Runner) SetStatusChangeCallback(cb StatusChangeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatusChange = cb
}

// Strategy returns the currently loaded strategy, or nil if none is loaded.
func (r *Runner) Strategy() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// IsRunning reports whether the strategy has been started and not yet
// stopped.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

// StrategyState returns a snapshot copy of the strategy's private state map.
func (r *Runner) StrategyState() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}

// LoadStrategy installs strategy as the runner's active plug-in, merging
// overrideParams onto the strategy's own DefaultParams(), builds its
// emitter, and invokes OnInit.
func (r *Runner) LoadStrategy(ctx context.Context, s Strategy, overrideParams map[string]any) error {
	params := map[string]any{}
	for k, v := range s.DefaultParams() {
		params[k] = v
	}
	for k, v := range overrideParams {
		params[k] = v
	}

	if err := s.OnInit(ctx, params); err != nil {
		return fmt.Errorf("strategy runner: on_init: %w", err)
	}

	r.mu.Lock()
	r.strategy = s
	r.params = params
	r.emitter = NewCommandEmitter(r.Commands, r.Scope, s.Name(), r.RiskGuard, r.logger)
	r.mu.Unlock()

	r.recordStrategyEvent(ctx, s.Name(), "loaded")
	r.notifyStatusChange(s.Name(), "loaded")
	return nil
}

// Start restores persisted strategy state, builds the initial tick context,
// and invokes OnStart.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	s := r.strategy
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("strategy runner: no strategy loaded")
	}

	r.restoreStrategyState(ctx)

	tc := r.buildContext(ctx)
	if err := s.OnStart(ctx, tc); err != nil {
		return fmt.Errorf("strategy runner: on_start: %w", err)
	}

	r.mu.Lock()
	r.isRunning = true
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()

	r.recordStrategyEvent(ctx, s.Name(), "started")
	r.notifyStatusChange(s.Name(), "started")
	r.updateBotStatus(ctx)
	return nil
}

// Stop invokes OnStop, persists final strategy state, and marks the runner
// stopped.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	s := r.strategy
	r.mu.Unlock()
	if s == nil {
		return nil
	}

	tc := r.buildContext(ctx)
	if err := s.OnStop(ctx, tc); err != nil {
		r.logger.Error("on_stop returned an error", "error", err)
	}
	r.saveStrategyState(ctx)

	r.mu.Lock()
	r.isRunning = false
	r.mu.Unlock()

	r.recordStrategyEvent(ctx, s.Name(), "stopped")
	r.notifyStatusChange(s.Name(), "stopped")
	r.updateBotStatus(ctx)
	return nil
}

// Tick drives one OnTick invocation. Any error is routed through the
// strategy's OnError; if it reports the strategy should not continue, the
// runner stops it.
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	s, emitter, running := r.strategy, r.emitter, r.isRunning
	r.mu.Unlock()
	if s == nil || !running {
		return
	}

	tc := r.buildContext(ctx)
	err := s.OnTick(ctx, tc, emitter)

	r.mu.Lock()
	r.tickCount++
	r.lastTickTime = time.Now().UTC()
	r.mu.Unlock()

	if err != nil {
		r.handleStrategyError(ctx, s, err, tc)
	}
	r.maybeSaveStrategyState(ctx)
}

// HandleTradeEvent routes a fill to the strategy's optional TradeCallback,
// filtered to this runner's symbol.
func (r *Runner) HandleTradeEvent(ctx context.Context, trade types.TradeEvent) {
	if trade.Symbol != r.Scope.Symbol {
		return
	}
	r.mu.Lock()
	s, emitter, running := r.strategy, r.emitter, r.isRunning
	r.mu.Unlock()
	if !running {
		return
	}
	cb, ok := s.(TradeCallback)
	if !ok {
		return
	}

	tc := r.buildContext(ctx)
	if err := cb.OnTrade(ctx, trade, tc, emitter); err != nil {
		r.handleStrategyError(ctx, s, err, tc)
	}
}

// HandleOrderEvent routes an order status change to the strategy's optional
// OrderCallback, filtered to this runner's symbol.
func (r *Runner) HandleOrderEvent(ctx context.Context, order types.OrderEvent) {
	if order.Symbol != r.Scope.Symbol {
		return
	}
	r.mu.Lock()
	s, emitter, running := r.strategy, r.emitter, r.isRunning
	r.mu.Unlock()
	if !running {
		return
	}
	cb, ok := s.(OrderCallback)
	if !ok {
		return
	}

	tc := r.buildContext(ctx)
	if err := cb.OnOrderUpdate(ctx, order, tc, emitter); err != nil {
		r.handleStrategyError(ctx, s, err, tc)
	}
	r.maybeSaveStrategyState(ctx)
}

func (r *Runner) handleStrategyError(ctx context.Context, s Strategy, err error, tc *TickContext) {
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
	r.logger.Error("strategy callback error", "strategy", s.Name(), "error", err)

	if !s.OnError(ctx, err, tc) {
		r.logger.Warn("strategy requested stop after error", "strategy", s.Name())
		if stopErr := r.Stop(ctx); stopErr != nil {
			r.logger.Error("failed to stop strategy after error", "error", stopErr)
		}
	}
}

func (r *Runner) buildContext(ctx context.Context) *TickContext {
	mode := r.getEngineMode(ctx)
	cfg := r.getRiskConfig(ctx)

	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	return r.Builder.Build(ctx, mode, state, cfg)
}

func (r *Runner) getEngineMode(ctx context.Context) types.EngineMode {
	if r.EngineModeGetter == nil {
		return types.ModeRunning
	}
	mode, err := r.EngineModeGetter(ctx)
	if err != nil {
		r.logger.Warn("failed to read engine mode, defaulting to RUNNING", "error", err)
		return types.ModeRunning
	}
	return mode
}

func (r *Runner) getRiskConfig(ctx context.Context) map[string]any {
	if r.ConfigGetter == nil {
		return nil
	}
	cfg, err := r.ConfigGetter(ctx)
	if err != nil {
		r.logger.Warn("failed to read risk config", "error", err)
		return nil
	}
	return cfg
}

func (r *Runner) recordStrategyEvent(ctx context.Context, strategyName, action string) {
	if r.Events == nil {
		return
	}
	now := time.Now().UTC()
	eventType := types.EvtEngineModeChanged
	if action == "loaded" {
		eventType = types.EvtStrategyLoaded
	}
	key := dedup.EngineEvent(fmt.Sprintf("strategy:%s:%s:%d", strategyName, action, now.UnixMilli()), now.UnixMilli())

	_, err := r.Events.Append(ctx, types.Event{
		EventType:  eventType,
		TS:         now,
		Source:     types.SourceBot,
		EntityKind: types.EntityEngine,
		EntityID:   strategyName,
		Scope:      r.Scope,
		DedupKey:   key,
		Payload:    map[string]any{"strategy_name": strategyName, "action": action},
	})
	if err != nil {
		r.logger.Error("failed to record strategy lifecycle event", "action", action, "error", err)
	}
}

func (r *Runner) notifyStatusChange(strategyName, action string) {
	r.mu.Lock()
	cb, running := r.onStatusChange, r.isRunning
	r.mu.Unlock()
	if cb != nil {
		cb(strategyName, running, action)
	}
}

func (r *Runner) updateBotStatus(ctx context.Context) {
	if r.Configs == nil {
		return
	}
	r.mu.Lock()
	s, running, tickCount, startedAt, lastTick := r.strategy, r.isRunning, r.tickCount, r.startedAt, r.lastTickTime
	r.mu.Unlock()

	name := ""
	if s != nil {
		name = s.Name()
	}
	status := map[string]any{
		"is_running":       running,
		"strategy_name":    name,
		"strategy_running": running,
		"last_heartbeat":   lastTick.Format(time.RFC3339),
		"tick_count":       tickCount,
		"started_at":       startedAt.Format(time.RFC3339),
	}
	if _, err := r.Configs.Set(ctx, BotStatusKey, status, "strategy_runner", nil); err != nil {
		r.logger.Error("failed to publish bot_status", "error", err)
	}
}

// restoreStrategyState reads the persisted accounting triple back into the
// strategy's state map. It only restores if account_equity is non-zero,
// matching the source's guard against seeding a fresh strategy with an
// empty-but-present row.
func (r *Runner) restoreStrategyState(ctx context.Context) {
	if r.Configs == nil {
		return
	}
	entry, err := r.Configs.Get(ctx, StrategyStateKey)
	if err != nil {
		return
	}
	equity, ok := stateDecimal(entry.Value, "account_equity")
	if !ok || equity.IsZero() {
		return
	}

	r.mu.Lock()
	r.state["account_equity"] = equity
	r.state["trade_count_since_reset"] = stateInt(entry.Value, "trade_count_since_reset")
	r.state["total_trade_count"] = stateInt(entry.Value, "total_trade_count")
	r.lastSavedTradeCount = stateInt(entry.Value, "total_trade_count")
	r.mu.Unlock()

	r.logger.Info("restored strategy state",
		"account_equity", equity,
		"trade_count_since_reset", entry.Value["trade_count_since_reset"],
		"total_trade_count", entry.Value["total_trade_count"])
}

// saveStrategyState writes the canonical accounting triple to config_store,
// skipping the write entirely if account_equity was never set.
func (r *Runner) saveStrategyState(ctx context.Context) {
	if r.Configs == nil {
		return
	}
	r.mu.Lock()
	equity, ok := stateDecimal(r.state, "account_equity")
	tradeCountSinceReset := stateInt(r.state, "trade_count_since_reset")
	totalTradeCount := stateInt(r.state, "total_trade_count")
	r.mu.Unlock()
	if !ok {
		return
	}

	value := map[string]any{
		"account_equity":          equity.String(),
		"trade_count_since_reset": tradeCountSinceReset,
		"total_trade_count":       totalTradeCount,
	}
	if _, err := r.Configs.Set(ctx, StrategyStateKey, value, "strategy_runner", nil); err != nil {
		r.logger.Error("failed to persist strategy state", "error", err)
		return
	}
	r.mu.Lock()
	r.lastSavedTradeCount = totalTradeCount
	r.mu.Unlock()
}

// maybeSaveStrategyState persists state only if total_trade_count changed
// since the last save, so a tick with no trade activity never writes.
func (r *Runner) maybeSaveStrategyState(ctx context.Context) {
	r.mu.Lock()
	totalTradeCount := stateInt(r.state, "total_trade_count")
	changed := totalTradeCount != r.lastSavedTradeCount
	r.mu.Unlock()
	if changed {
		r.saveStrategyState(ctx)
	}
}

// Stats reports the runner's running counters.
type Stats struct {
	TickCount    int
	ErrorCount   int
	LastTickTime time.Time
	IsRunning    bool
}

// Stats returns a snapshot of the runner's counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		TickCount:    r.tickCount,
		ErrorCount:   r.errorCount,
		LastTickTime: r.lastTickTime,
		IsRunning:    r.isRunning,
	}
}

// ResetStats zeroes the runner's tick/error counters.
func (r *Runner) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickCount, r.errorCount = 0, 0
}

func stateDecimal(state map[string]any, key string) (decimal.Decimal, bool) {
	switch v := state[key].(type) {
	case decimal.Decimal:
		return v, true
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func stateInt(state map[string]any, key string) int {
	switch v := state[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
