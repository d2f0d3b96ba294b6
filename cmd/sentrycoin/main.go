// SentryCoin — a market-microstructure intelligence engine for a single
// crypto pair.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: wires feeds → book → analyzer → classifier → sinks
//	market/book.go        — local order book mirror fed by REST snapshots + diff-depth deltas
//	liquidity/analyzer.go — Dynamic Liquidity Score with a 24h adaptive percentile ring
//	classifier/           — regime classification (CASCADE/COIL/SHAKEOUT) + adaptive thresholds
//	exchange/ws.go        — WebSocket feeds (depth + derivatives) with auto-reconnect
//	whale/                — on-chain whale webhook decoding and balance probing
//	sched/                — priority task scheduler with isolated workers
//	notify/telegram.go    — prioritized Telegram alert sink with rate limiting
//	api/                  — HTTP control plane: /health, /status, webhook intake
//
// What it watches for:
//
//	The engine scores order-book liquidity every tick and ranks it against
//	the trailing 24 hours. When liquidity thins while sell pressure and
//	negative momentum build, that is the signature of a forced-selling
//	cascade; whale exchange deposits and derivatives spikes (open interest,
//	funding, mark volatility) temporarily lower the bar for calling it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sentrycoin/internal/api"
	"sentrycoin/internal/config"
	"sentrycoin/internal/engine"
	"sentrycoin/internal/logging"
)

const paperCooldown = 5 * time.Minute

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SENTRY_CONFIG"); p != "" {
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

	log, err := logging.New(cfg.Logging)
	if err != nil {
		// Console logging still works; only the file sink failed.
		slog.Warn("logging degraded", "error", err)
	}
	logger := log.Slog()

	eng, err := engine.New(cfg, log)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Initialize(); err != nil {
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	if cfg.PaperTrading {
		eng.RegisterConsumer(engine.NewPaperTrader(paperCooldown, logger))
		logger.Warn("PAPER TRADING MODE — regime events recorded, no orders placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg.Server, eng, cfg.Whale.WebhookToken, logger)
	apiErrCh := make(chan error, 1)
	go func() {
		apiErrCh <- apiServer.Start()
	}()

	logger.Info("sentrycoin started",
		"symbol", cfg.Symbol,
		"profile", cfg.Classifier.Profile,
		"real_time", cfg.RealTime,
		"api", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-apiErrCh:
		// A dead control plane means no webhook intake: fail loudly.
		logger.Error("api server failed", "error", err)
		exitCode = 1
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	eng.Shutdown()
	_ = log.Close()
	os.Exit(exitCode)
}
