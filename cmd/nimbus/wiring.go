package main

import (
	"context"
	"fmt"
	"strings"

	"nimbus/internal/experiments/catalog"
	"nimbus/internal/experiments/identity"
	"nimbus/internal/experiments/metrics"
	"nimbus/internal/experiments/service"
	"nimbus/internal/experiments/store"
	"nimbus/internal/platform/config"
	platformredis "nimbus/internal/platform/redis"
)

// openStore builds the configured backend. The returned cleanup releases the
// store and any connection it owns.
func openStore(ctx context.Context, cfg config.Storage) (store.Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendSQLite:
		st, err := store.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewPostgres(db)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return st, func() { _ = db.Close() }, nil
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(client.Client, cfg.Redis.KeyPrefix), func() { _ = client.Close() }, nil
	case config.BackendMemory:
		return store.NewInMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newEngine opens the store and constructs the engine. m may be nil.
func (a *app) newEngine(ctx context.Context, m *metrics.Metrics) (*service.Engine, func(), error) {
	svcCfg := service.Config{
		ServerURL:      a.cfg.Catalog.ServerURL,
		CollectionName: a.cfg.Catalog.CollectionName,
		BucketName:     a.cfg.Catalog.BucketName,
	}
	if a.cfg.RandomizationUnit != "" {
		unit, err := identity.Parse(a.cfg.RandomizationUnit)
		if err != nil {
			return nil, nil, err
		}
		svcCfg.RandomizationUnit = &unit
	}

	opts := []service.Option{
		service.WithLogger(a.logger),
		service.WithCatalogOptions(
			catalog.WithTimeout(a.cfg.Catalog.Timeout),
			catalog.WithRetry(a.cfg.Catalog.RetryAttempts, a.cfg.Catalog.RetryDelay),
		),
	}
	if a.cfg.RatioWeighting {
		opts = append(opts, service.WithRatioWeighting())
	}
	if a.cfg.ResetOnCorrupt {
		opts = append(opts, service.WithResetOnCorrupt())
	}
	if m != nil {
		opts = append(opts, service.WithMetrics(m))
	}

	st, cleanup, err := openStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	engine, err := service.New(ctx, a.cfg.App, st, svcCfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}
