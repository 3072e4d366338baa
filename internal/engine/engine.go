// Package engine is the central orchestrator of the trading bot.
//
// It wires together every subsystem: the durable store, the exchange
// adapter and its WebSocket user stream, the streaming mapper and
// in-memory projection, the command pipeline (risk guard + executor),
// the strategy runtime, and the poller set.
//
// Lifecycle: New() -> Bootstrap() -> Start() -> [runs until ctx is
// cancelled] -> Stop().
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/config"
	"alphaengine-core/internal/exchange"
	"alphaengine-core/internal/executor"
	"alphaengine-core/internal/ingest"
	"alphaengine-core/internal/marketdata"
	"alphaengine-core/internal/metrics"
	"alphaengine-core/internal/poller"
	"alphaengine-core/internal/projection"
	"alphaengine-core/internal/recovery"
	"alphaengine-core/internal/risk"
	"alphaengine-core/internal/store"
	"alphaengine-core/internal/strategy"
	"alphaengine-core/pkg/types"
)

// commandLoopInterval is the tick cadence of the claim-and-execute loop.
const commandLoopInterval = 100 * time.Millisecond

// commandBatchSize bounds how many commands one tick claims, so a burst of
// strategy-emitted orders never starves the poller/strategy ticks sharing
// the same process.
const commandBatchSize = 20

// shutdownBudget bounds graceful drain on Stop.
const shutdownBudget = 30 * time.Second

// Engine owns construction and lifecycle of every component.
type Engine struct {
	cfg    config.Config
	scope  types.Scope
	logger *slog.Logger
	m      *metrics.Metrics

	db       *sql.DB
	events   *store.EventStore
	commands *store.CommandStore
	configs  *store.ConfigStore

	client     *exchange.Client
	auth       *exchange.Auth
	userStream *exchange.UserStream

	projector *projection.Store
	mapper    *ingest.Mapper

	riskGuard *risk.RiskGuard
	exec      *executor.Executor
	runner    *strategy.Runner

	marketData *marketdata.Provider
	scheduler  *poller.Scheduler

	modeMu sync.RWMutex
	mode   types.EngineMode

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects the store, builds every component, and registers every
// executor handler and poller, but starts no goroutines yet.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	db, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Store.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}
	if cfg.Store.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	}
	if cfg.Store.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Store.ConnMaxLifetime)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	events := store.NewEventStore(db)
	commands := store.NewCommandStore(db)
	configs := store.NewConfigStore(db)
	if err := configs.EnsureDefaults(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: seed default config: %w", err)
	}

	scope := types.Scope{
		Exchange: cfg.Exchange.Name,
		Venue:    types.VenueFutures,
		Account:  cfg.Exchange.Account,
		Symbol:   cfg.Strategy.Symbol,
		Mode:     cfg.Exchange.Mode,
	}

	auth := exchange.NewAuth(cfg)
	client := exchange.NewClient(cfg, auth, logger)
	userStream := exchange.NewUserStream(cfg.Exchange.WSBaseURL, client, auth, logger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	} else {
		m = metrics.NewWithRegistry(prometheus.NewRegistry())
	}

	proj := projection.New()

	eng := &Engine{
		cfg:        cfg,
		scope:      scope,
		logger:     logger,
		m:          m,
		db:         db,
		events:     events,
		commands:   commands,
		configs:    configs,
		client:     client,
		auth:       auth,
		userStream: userStream,
		projector:  proj,
		mode:       types.ModeRunning,
	}
	if engineCfg, err := configs.Get(ctx, "engine"); err == nil {
		if mode, ok := engineCfg.Value["mode"].(string); ok && mode != "" {
			eng.mode = types.EngineMode(mode)
		}
	}

	if err := eng.wireCommandPipeline(ctx); err != nil {
		db.Close()
		return nil, err
	}
	eng.wireStrategyRuntime(logger)
	eng.wirePollers(logger)

	eng.mapper = ingest.NewMapper(events, proj, eng.runner, scope, logger)

	return eng, nil
}

// wireCommandPipeline builds the risk guard and executor, registering every
// handler named by the command-type enumeration.
func (e *Engine) wireCommandPipeline(ctx context.Context) error {
	pnl := risk.NewPnLCalculator(e.events)
	e.riskGuard = risk.NewRiskGuard(e.events, e.projector, pnl, e.riskConfig, e.engineMode, e.logger)

	e.exec = executor.NewExecutor(e.events, e.commands, e.logger)
	e.exec.RegisterHandler(&executor.PlaceOrderHandler{Client: e.client})
	e.exec.RegisterHandler(&executor.CancelOrderHandler{Client: e.client})
	e.exec.RegisterHandler(&executor.CancelAllHandler{Client: e.client})
	e.exec.RegisterHandler(&executor.ClosePositionHandler{Client: e.client, Projector: e.projector})
	e.exec.RegisterHandler(&executor.SetLeverageHandler{Client: e.client})
	e.exec.RegisterHandler(&executor.PauseEngineHandler{SetState: e.setEngineMode})
	e.exec.RegisterHandler(&executor.ResumeEngineHandler{SetState: e.setEngineMode})
	e.exec.RegisterHandler(&executor.SetEngineModeHandler{SetState: e.setEngineMode})
	e.exec.RegisterHandler(&executor.UpdateConfigHandler{Configs: e.configs})
	e.exec.RegisterHandler(&executor.InternalTransferHandler{Client: e.client})

	transferCfg, err := e.configs.Get(ctx, "transfer")
	if err != nil {
		return fmt.Errorf("engine: load transfer config: %w", err)
	}
	minWithdraw := decimalFromConfig(transferCfg.Value, "min_withdraw_usdt")
	e.exec.RegisterHandler(&executor.WithdrawHandler{Client: e.client, MinWithdrawUSDT: minWithdraw})

	openingReconciler := recovery.NewOpeningReconciler(e.client, e.events, e.scope)
	e.exec.RegisterHandler(&executor.RunReconcileHandler{
		Reconciler:     openingReconciler.AsPoller(),
		LedgerBalances: e.ledgerBalances,
	})
	e.exec.RegisterHandler(&executor.RebuildProjectionHandler{Rebuild: e.rebuildProjection})

	return nil
}

// wireStrategyRuntime builds the market-data provider, context builder, and
// runner. The command emitter that turns strategy decisions into commands
// is constructed per-strategy inside Runner.LoadStrategy.
func (e *Engine) wireStrategyRuntime(logger *slog.Logger) {
	e.marketData = marketdata.NewProvider(e.client, "1h", 200, time.Minute, logger)
	builder := strategy.NewContextBuilder(e.scope, e.projector, e.marketData, "1h", 200, logger)
	e.runner = strategy.NewRunner(e.events, e.commands, e.configs, e.scope, builder, e.riskGuard, e.riskConfig, e.engineMode, logger)
}

// wirePollers registers every poller against the scheduler, on the cron
// cadence configured under config.Poller.
func (e *Engine) wirePollers(logger *slog.Logger) {
	e.scheduler = poller.NewScheduler(logger)

	income := poller.NewIncome(e.client, e.events, e.configs, e.scope)
	transfer := poller.NewTransfer(e.client, e.events, e.configs, e.scope)
	convert := poller.NewConvert(e.client, e.events, e.configs, e.scope)
	depositWithdraw := poller.NewDepositWithdraw(e.client, e.events, e.configs, e.scope)
	dust := poller.NewDust(e.client, e.events, e.configs, e.scope)
	priceCache := poller.NewPriceCache(e.client, e.configs, []string{e.scope.Symbol}, logger)

	openingReconciler := recovery.NewOpeningReconciler(e.client, e.events, e.scope)
	reconciliation := poller.NewReconciliation(e.client, openingReconciler.AsPoller(), e.ledgerBalances, e.configs, e.scope.Symbol, logger)

	e.registerPoller(income, income.Base, e.cfg.Poller.IncomeCron, 5*time.Minute)
	e.registerPoller(transfer, transfer.Base, e.cfg.Poller.TransferCron, 30*time.Minute)
	e.registerPoller(convert, convert.Base, e.cfg.Poller.ConvertCron, time.Hour)
	e.registerPoller(depositWithdraw, depositWithdraw.Base, e.cfg.Poller.DepositWithdrawCron, 6*time.Hour)
	// Dust-to-BNB conversion has no dedicated cron config slot; it runs on a
	// fixed 30-minute cadence, the same as the transfer poller.
	e.registerPoller(dust, dust.Base, "@every 30m", 30*time.Minute)
	e.registerPoller(priceCache, priceCache.Base, e.cfg.Poller.PriceCacheCron, time.Minute)
	e.registerPoller(reconciliation, reconciliation.Base, e.cfg.Poller.ReconcileCron, time.Hour)
}

func (e *Engine) registerPoller(p poller.Poller, base *poller.Base, cronSpec string, interval time.Duration) {
	if cronSpec == "" {
		cronSpec = "@every 1m"
	}
	if err := e.scheduler.Register(e.ctxOrBackground(), poller.RegisteredPoller{
		Poller:   p,
		Base:     base,
		CronSpec: cronSpec,
		Interval: interval,
	}, e.m); err != nil {
		e.logger.Error("failed to register poller", "poller", p.Name(), "error", err)
	}
}

func (e *Engine) ctxOrBackground() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// Bootstrap runs the first-run recovery sequence: establish initial capital
// (no-op if already recorded), backfill history since that epoch, rebuild
// the projection from the resulting log, and run an opening reconciliation
// pass. Safe to call on every start; each step is idempotent.
func (e *Engine) Bootstrap(ctx context.Context) error {
	capRecorder := recovery.NewInitialCapitalRecorder(e.client, e.events, e.configs, e.scope)
	snap, err := capRecorder.Record(ctx)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: initial capital: %w", err)
	}

	since, err := recovery.SinceFromEpoch(snap.EpochDate)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: epoch date: %w", err)
	}
	backfill := recovery.NewBackfill(e.client, e.events, e.configs, e.scope)
	result, err := backfill.Run(ctx, since)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: backfill: %w", err)
	}
	e.logger.Info("backfill complete", "events_created", result.Total())

	if _, _, err := e.rebuildProjection(ctx); err != nil {
		return fmt.Errorf("engine: bootstrap: rebuild projection: %w", err)
	}

	openingReconciler := recovery.NewOpeningReconciler(e.client, e.events, e.scope)
	ledgerBalances, err := e.ledgerBalances(ctx)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: ledger balances: %w", err)
	}
	if _, err := openingReconciler.Reconcile(ctx, ledgerBalances); err != nil {
		return fmt.Errorf("engine: bootstrap: opening reconcile: %w", err)
	}

	if e.cfg.Strategy.AutoStart && e.cfg.Strategy.Name != "" {
		s, err := strategy.DefaultRegistry.Build(e.cfg.Strategy.Name, e.logger)
		if err != nil {
			return fmt.Errorf("engine: bootstrap: build strategy: %w", err)
		}
		if err := e.runner.LoadStrategy(ctx, s, nil); err != nil {
			return fmt.Errorf("engine: bootstrap: load strategy: %w", err)
		}
		if err := e.runner.Start(ctx); err != nil {
			return fmt.Errorf("engine: bootstrap: start strategy: %w", err)
		}
	}

	return nil
}

// Start launches the concurrent activities that keep the engine running:
// the WebSocket listener and mapper, the main command/strategy loop, and
// the poller scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.userStream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user stream error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mapper.Run(e.ctx, e.userStream)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runCommandLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runStrategyTickLoop()
	}()

	e.scheduler.Start()

	e.logger.Info("engine started", "scope", e.scope)
	return nil
}

// Stop cancels every worker, waits up to shutdownBudget for graceful drain,
// and closes the store last.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	if e.cancel != nil {
		e.cancel()
	}
	e.scheduler.Stop()

	if e.runner.IsRunning() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		if err := e.runner.Stop(stopCtx); err != nil {
			e.logger.Error("failed to stop strategy runner", "error", err)
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownBudget):
		e.logger.Warn("shutdown budget exceeded, closing store anyway")
	}

	e.userStream.Close()
	e.db.Close()
	e.logger.Info("shutdown complete")
}

func (e *Engine) runCommandLoop() {
	ticker := time.NewTicker(commandLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.claimAndExecuteBatch(e.ctx)
		}
	}
}

func (e *Engine) claimAndExecuteBatch(ctx context.Context) {
	for i := 0; i < commandBatchSize; i++ {
		cmd, ok, err := e.commands.ClaimOne(ctx)
		if err != nil {
			e.logger.Error("failed to claim command", "error", err)
			return
		}
		if !ok {
			return
		}
		e.m.CommandsClaimed.Inc()

		passed, reason, err := e.riskGuard.Check(ctx, cmd)
		if err != nil {
			e.logger.Error("risk guard check errored", "command_id", cmd.CommandID, "error", err)
			continue
		}
		if !passed {
			if err := e.commands.UpdateStatus(ctx, cmd.CommandID, types.StatusFailed, nil, reason); err != nil {
				e.logger.Error("failed to mark risk-rejected command", "command_id", cmd.CommandID, "error", err)
			}
			e.m.CommandsFailed.WithLabelValues(string(cmd.CommandType)).Inc()
			continue
		}

		success, _, errMsg, err := e.exec.Execute(ctx, cmd)
		if err != nil {
			e.logger.Error("executor infrastructure error", "command_id", cmd.CommandID, "error", err)
			continue
		}
		if success {
			e.m.CommandsAcked.WithLabelValues(string(cmd.CommandType)).Inc()
		} else {
			e.m.CommandsFailed.WithLabelValues(string(cmd.CommandType)).Inc()
			e.logger.Debug("command failed", "command_id", cmd.CommandID, "error", errMsg)
		}
	}
}

func (e *Engine) runStrategyTickLoop() {
	interval := e.cfg.Strategy.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runner.Tick(e.ctx)
		}
	}
}

// riskConfig is the risk.ConfigGetter / strategy.ConfigGetter
// implementation shared by the risk guard and the strategy runner.
func (e *Engine) riskConfig(ctx context.Context) (map[string]any, error) {
	entry, err := e.configs.Get(ctx, "risk")
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// engineMode is the risk.EngineModeGetter / strategy.EngineModeGetter
// implementation, backed by the in-memory mode flag the executor handlers
// below set.
func (e *Engine) engineMode(ctx context.Context) (types.EngineMode, error) {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode, nil
}

// setEngineMode is the executor.EngineStateSetter callback PauseEngine,
// ResumeEngine, and SetEngineMode all share. It persists the new mode to
// config_store (so a restart resumes paused rather than silently
// re-running) and updates the fast in-memory copy the command loop reads.
func (e *Engine) setEngineMode(ctx context.Context, mode types.EngineMode) error {
	entry, err := e.configs.Get(ctx, "engine")
	value := map[string]any{"mode": string(mode), "poll_interval_sec": 30}
	if err == nil {
		for k, v := range entry.Value {
			if k != "mode" {
				value[k] = v
			}
		}
	}
	if _, err := e.configs.Set(ctx, "engine", value, "engine", nil); err != nil {
		return err
	}
	e.modeMu.Lock()
	e.mode = mode
	e.modeMu.Unlock()
	return nil
}

// ledgerBalances sums the projection's FUTURES and SPOT balances, in the
// shape recovery.OpeningReconciler.Reconcile and the reconciliation poller
// compare against the exchange's own account snapshot.
func (e *Engine) ledgerBalances(ctx context.Context) (map[types.Venue]map[string]decimal.Decimal, error) {
	out := map[types.Venue]map[string]decimal.Decimal{
		types.VenueFutures: {},
		types.VenueSpot:    {},
	}
	for _, venue := range []types.Venue{types.VenueFutures, types.VenueSpot} {
		scope := e.scope
		scope.Venue = venue
		balances, err := e.projector.Balances(ctx, scope)
		if err != nil {
			return nil, err
		}
		for _, b := range balances {
			out[venue][b.Asset] = b.Free.Add(b.Locked)
		}
	}
	return out, nil
}

// rebuildProjection resets the in-memory projection and replays the event log
// into it in place, backing the RebuildProjection command.
func (e *Engine) rebuildProjection(ctx context.Context) (fromSeq, toSeq int64, err error) {
	return e.projector.RebuildFrom(ctx, e.events)
}

func decimalFromConfig(value map[string]any, key string) decimal.Decimal {
	switch v := value[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	default:
		return decimal.Zero
	}
}
