package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/uncovering-world/track-your-regions-sub005/internal/config"
	"github.com/uncovering-world/track-your-regions-sub005/internal/coverage"
	"github.com/uncovering-world/track-your-regions-sub005/internal/geometry"
	"github.com/uncovering-world/track-your-regions-sub005/internal/job"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
	"github.com/uncovering-world/track-your-regions-sub005/internal/storage"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
)

// engine bundles the wired collaborators behind one cleanup handle.
type engine struct {
	cfg          config.Engine
	store        service.Storage
	geo          *geometry.Client
	resolver     *resolver.Resolver
	analyzer     *coverage.Analyzer
	orchestrator *job.Orchestrator

	closers []func() error
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

// initStorage opens the match-state database and runs migrations.
func initStorage(ctx context.Context, cfg config.Engine) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// initEngine wires storage, the geometry client, strategies, and the
// orchestrator from configuration.
func initEngine(ctx context.Context) (*engine, error) {
	cfg := config.Load()

	e := &engine{cfg: cfg}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.store = store
	e.closers = append(e.closers, store.Close)

	if cfg.GeometryDSN == "" {
		e.Close()
		return nil, fmt.Errorf("geometry.dsn is not configured")
	}
	geo, err := geometry.Open(cfg.GeometryDSN)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.geo = geo
	e.closers = append(e.closers, geo.Close)

	e.resolver = resolver.New(store, geo)
	e.analyzer = coverage.New(store, geo, e.resolver)

	var geocodeCache strategy.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		e.closers = append(e.closers, client.Close)
		geocodeCache = strategy.NewRedisCache(client)
	}
	geocoder := strategy.NewCachedGeocoder(
		strategy.NewNominatimGeocoder(cfg.NominatimURL, ""), geocodeCache, 0)

	var escalator *job.Escalator
	if cfg.AI.APIKey != "" {
		adapter, err := strategy.NewAIAdapter(cfg.AI)
		if err != nil {
			e.Close()
			return nil, err
		}
		escalator = job.NewEscalator(adapter)
	}

	e.orchestrator = job.New(job.Config{
		Store:     store,
		Geometry:  geo,
		Resolver:  e.resolver,
		Analyzer:  e.analyzer,
		Text:      strategy.NewTextSearch(geo, cfg.Policy.MaxSuggestions),
		Geocode:   strategy.NewGeocode(geocoder, geo, 0, cfg.Policy.MaxSuggestions),
		Escalator: escalator,
	})
	return e, nil
}
