package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"pm-arb-worker/internal/alerts"
	"pm-arb-worker/internal/config"
	"pm-arb-worker/internal/history"
	"pm-arb-worker/internal/logging"
	"pm-arb-worker/internal/metrics"
	"pm-arb-worker/internal/pm/clob"
	"pm-arb-worker/internal/pm/stream"
	"pm-arb-worker/internal/pm/ws"
	"pm-arb-worker/internal/state/sqlite"
	"pm-arb-worker/internal/store"
	"pm-arb-worker/internal/strategy"
	"pm-arb-worker/internal/task"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	} else {
		m = metrics.NewNoop()
	}

	creds := &clob.Credentials{
		Address:    os.Getenv("POLY_ADDRESS"),
		APIKey:     os.Getenv("POLY_API_KEY"),
		Secret:     os.Getenv("POLY_API_SECRET"),
		Passphrase: os.Getenv("POLY_API_PASSPHRASE"),
	}
	venue := clob.New(clob.Config{
		ClobURL:    cfg.Venue.ClobURL,
		GammaURL:   cfg.Venue.GammaURL,
		DataAPIURL: cfg.Venue.DataAPIURL,
		Timeout:    cfg.Venue.Timeout,
	}, creds, log)

	bus := store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bus.Ping(ctx); err != nil {
		log.Error("redis unreachable", zap.Error(err))
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		log.Error("state directory create failed", zap.Error(err))
		os.Exit(1)
	}
	journal, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Error("order journal open failed", zap.Error(err))
		os.Exit(1)
	}
	defer journal.Close()

	hist, err := history.New(cfg.History, log)
	if err != nil {
		log.Error("history writer init failed", zap.Error(err))
		os.Exit(1)
	}
	hist.Start(ctx)
	defer hist.Close()

	wsCfg := ws.Config{
		URL:                  cfg.WS.URL,
		ConnectTimeout:       cfg.WS.ConnectTimeout,
		PingInterval:         cfg.WS.PingInterval,
		ReconnectBaseDelay:   cfg.WS.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.WS.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.WS.MaxReconnectAttempts,
	}
	streams := func(assetIDs []string) task.Stream {
		client := ws.New(wsCfg, log, m)
		return stream.New(client, log, assetIDs, cfg.WS.QueueSize)
	}

	manager := task.NewManager(task.ManagerDeps{
		Bus:            bus,
		Venue:          venue,
		Streams:        streams,
		Registry:       strategy.NewDefaultRegistry(),
		Journal:        journal,
		History:        hist,
		Alerts:         alerts.NewTelegram(cfg.Alerts, log),
		Keys:           task.NewKeys(cfg.Redis.KeyPrefix),
		Log:            log,
		Metrics:        m,
		Funder:         creds.Address,
		HasCredentials: creds.Complete(),
	})

	log.Info("worker started",
		zap.String("redis", cfg.Redis.Addr),
		zap.String("prefix", cfg.Redis.KeyPrefix),
	)
	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker terminated", zap.Error(err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}
