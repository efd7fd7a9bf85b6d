// Package main runs the swap engine: route resolution, transaction
// building, validation, broadcast, and confirmation behind one HTTP
// surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"solana-swap-engine/internal/api"
	"solana-swap-engine/internal/broadcast"
	"solana-swap-engine/internal/builder"
	"solana-swap-engine/internal/confirm"
	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/curve"
	"solana-swap-engine/internal/fees"
	"solana-swap-engine/internal/jupiter"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/router"
	"solana-swap-engine/internal/security"
	"solana-swap-engine/internal/solana"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWAP_CONFIG"), "Path to config file (YAML)")
	listenAddr := flag.String("listen", "", "Listen address override")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration failed", "err", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace)

	primary := solana.NewHTTPClient(cfg.RPC.Primary, solana.WithTimeout(cfg.RPC.Timeout))
	secondary := solana.NewHTTPClient(cfg.RPC.Secondary, solana.WithTimeout(cfg.RPC.Timeout))

	aggregator := jupiter.NewClient(cfg.Aggregator.BaseURL, cfg.Aggregator.Timeout, logger)
	curveClient := curve.NewClient(cfg.Curve.BaseURL, cfg.Curve.Timeout, logger)

	feeResolver := fees.NewResolver(primary, cfg.Fees.Treasury, cfg.Fees.Enabled, cfg.Fees.Bps, cfg.Cache.MetadataTTL, logger)

	routerOpts := router.DefaultOptions()
	routerOpts.RouteTTL = cfg.Cache.RouteTTL
	routerOpts.DetectionTTL = cfg.Cache.DetectionTTL
	resolver := router.NewResolver(aggregator, curveClient, feeResolver, routerOpts, logger, metrics)
	resolver.StartPruning(ctx, cfg.Cache.PruneEvery)

	txBuilder := builder.New(aggregator, curveClient, primary, feeResolver, resolver, cfg.Fees, cfg.Curve.Simulate, logger, metrics)

	validator := security.New(primary, nil, logger, metrics)

	dests := []broadcast.Destination{
		{Name: "rpc-primary", RPC: primary},
		{Name: "rpc-secondary", RPC: secondary},
	}
	if cfg.RPC.Accelerator != "" {
		accel := solana.NewHTTPClient(cfg.RPC.Accelerator, solana.WithTimeout(cfg.RPC.Timeout))
		dests = append(dests, broadcast.Destination{Name: "accelerator", RPC: accel, Accelerator: true})
	}
	sender := broadcast.New(dests, cfg.Broadcast, logger, metrics)

	sources := []confirm.StatusSource{
		confirm.RPCSource("rpc-primary", primary),
		confirm.RPCSource("rpc-secondary", secondary),
	}
	var waiter confirm.SignatureWaiter
	if cfg.RPC.WS != "" {
		waiter = solana.NewWSWatcher(cfg.RPC.WS, nil)
	}
	poller := confirm.New(sources, waiter, sender, cfg.Confirm, logger, metrics)

	server := api.NewServer(resolver, txBuilder, validator, sender, poller, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("swap engine listening",
		"addr", cfg.Server.ListenAddr,
		"aggregator", cfg.Aggregator.BaseURL,
		"curve", cfg.Curve.BaseURL,
		"accelerator", cfg.RPC.Accelerator != "",
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
