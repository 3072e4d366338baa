// THE CORE — an event-sourced trading bot for perpetual futures.
//
// Architecture:
//
//	main.go                — entry point: loads config, bootstraps and starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go        — orchestrator: wires store, exchange, risk, strategy runtime, and pollers
//	store/{event,command,config}_store.go — the durable event log, command queue, and typed config KV
//	projection/projection.go — in-memory materialized view of positions, balances, and open orders
//	ingest/mapper.go         — WebSocket frame -> event/projection/strategy-callback translation
//	risk/guard.go            — fail-closed risk checks gating every command before execution
//	strategy/runner.go       — loads and ticks the configured strategy, emits commands through the risk guard
//	executor/executor.go     — claims commands, dispatches to handlers, appends resulting events
//	poller/*.go              — scheduled reconciliation against exchange history (income, transfers, prices, ...)
//	recovery/*.go            — first-run bootstrap: initial capital, backfill, opening reconciliation
//	exchange/client.go       — REST client for the exchange's futures/spot APIs
//	exchange/ws.go           — authenticated user-data WebSocket stream with auto-reconnect
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"alphaengine-core/internal/config"
	"alphaengine-core/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("the core started",
		"exchange", cfg.Exchange.Name,
		"symbol", cfg.Strategy.Symbol,
		"strategy", cfg.Strategy.Name,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
