// Package app wires the chain adapters, the analysis pipeline and the history
// store into one service the CLI drives.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"supravault/internal/core/config"
	"supravault/internal/core/ports"
	"supravault/internal/data/chain"
	"supravault/internal/data/history"
	"supravault/internal/engine/behavior"
	"supravault/internal/engine/inventory"
	"supravault/internal/engine/pinning"
	"supravault/internal/engine/snapshot"
	"supravault/internal/shared/util"
	"time"
)

// Deps are the upstream collaborators. Alternate, TxIndexer, Parity and
// Store may be nil.
type Deps struct {
	Resources    ports.ResourceReader
	Primary      ports.ModuleLister
	Alternate    ports.ModuleLister
	Fetcher      ports.ArtifactFetcher
	Transactions ports.TransactionSource
	TxIndexer    ports.TransactionIndexer
	Parity       ports.ParityIndexer
	Store        ports.SnapshotStore
}

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	assembler *snapshot.Assembler
	store     ports.SnapshotStore
	history   *history.Store
	now       func() time.Time
}

// New builds the production graph: RPC and indexer clients over a shared
// per-host limiter, plus the sqlite history when db.enabled is set.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := chain.TransportOptions{
		Timeout:   cfg.HTTP.Timeout,
		Retries:   cfg.HTTP.Retries,
		Backoff:   cfg.HTTP.Backoff,
		Limiters:  util.NewHostLimiters(cfg.HTTP.RateLimit, cfg.HTTP.Burst),
		Logger:    logger,
		UserAgent: cfg.HTTP.UserAgent,
	}
	preferred := ports.Generation(cfg.Chain.Preferred)
	client, err := chain.NewClient(chain.Options{
		V1URL:     cfg.Chain.RPCV1URL,
		V2URL:     cfg.Chain.RPCV2URL,
		Preferred: preferred,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Resources:    client,
		Primary:      client.Lister(preferred),
		Alternate:    client.Lister(preferred.Other()),
		Fetcher:      client,
		Transactions: client,
	}
	if cfg.Indexer.Enabled {
		idx, err := chain.NewIndexerClient(cfg.Indexer.URL, cfg.Indexer.Name, transport)
		if err != nil {
			return nil, err
		}
		deps.TxIndexer = idx
		deps.Parity = idx
	}

	var store *history.Store
	if cfg.DB.Enabled {
		store, err = history.Open(cfg.DB.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		deps.Store = store
	}

	a, err := NewWithDeps(cfg, logger, deps)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.history = store
	return a, nil
}

func NewWithDeps(cfg *config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Resources == nil || deps.Primary == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("resources, module lister and artifact fetcher are required")
	}

	builder, err := inventory.NewBuilder(deps.Primary, deps.Alternate, deps.Fetcher, inventory.Options{
		SystemAddresses: cfg.Chain.SystemAddresses,
		ExcludeModules:  cfg.Inventory.ExcludeModules,
		ProbeNames:      cfg.Inventory.ProbeNames,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	stages := snapshot.Stages{
		Resources: deps.Resources,
		Inventory: builder,
		Pinner:    pinning.NewPinner(deps.Fetcher, cfg.Pinning.Concurrency, logger),
		Parity:    deps.Parity,
	}
	if cfg.Sampler.Enabled && deps.Transactions != nil {
		stages.Sampler = behavior.NewSampler(deps.Transactions, deps.TxIndexer, behavior.Options{
			Preferred:    ports.Generation(cfg.Chain.Preferred),
			DefaultLimit: cfg.Sampler.DefaultLimit,
			Logger:       logger,
		})
	}

	return &App{
		Config: cfg,
		Logger: logger,
		assembler: snapshot.NewAssembler(stages, snapshot.Options{
			Chain:           cfg.Chain.Name,
			SystemAddresses: cfg.Chain.SystemAddresses,
			Logger:          logger,
		}),
		store: deps.Store,
		now:   time.Now,
	}, nil
}

func (a *App) Close(ctx context.Context) error {
	if a == nil || a.history == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- a.history.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasStore reports whether scans are persisted.
func (a *App) HasStore() bool {
	return a != nil && a.store != nil
}
