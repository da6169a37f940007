package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/budgetly/budgetly/pkg/auth"
	"github.com/budgetly/budgetly/pkg/config"
	"github.com/budgetly/budgetly/pkg/custody"
	"github.com/budgetly/budgetly/pkg/events"
	"github.com/budgetly/budgetly/pkg/ledger"
	"github.com/budgetly/budgetly/pkg/logger"
	"github.com/budgetly/budgetly/pkg/metrics"
	"github.com/budgetly/budgetly/pkg/store"
)

// app is the fully wired ledger stack behind every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLiteStore
	vault    *custody.Vault
	events   *events.Log
	registry *prometheus.Registry
	engine   *ledger.Engine
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp opens every database named in the config and seeds the whitelist.
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	if a.store, err = store.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if a.vault, err = custody.New(cfg.Custody.DBPath, cfg.Custody.Escrow); err != nil {
		a.Close()
		return nil, fmt.Errorf("init custody: %w", err)
	}
	if a.events, err = events.New(cfg.Events); err != nil {
		a.Close()
		return nil, fmt.Errorf("init event log: %w", err)
	}

	a.engine = ledger.New(a.store, a.vault, auth.NewController(cfg.Controller), log).
		WithEvents(a.events)
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.engine.WithMetrics(metrics.New(cfg.Metrics.Namespace, a.registry))
	}

	if err := a.engine.SeedWhitelist(ctx, cfg.Tokens); err != nil {
		a.Close()
		return nil, fmt.Errorf("seed whitelist: %w", err)
	}
	return a, nil
}

// caller resolves the identity a command acts as.
func (a *app) caller(as string) string {
	if as != "" {
		return as
	}
	return a.cfg.Controller
}

func (a *app) Close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.vault != nil {
		_ = a.vault.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logger.Sync()
}
