package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/solpos/service_layer/internal/app/storage/postgres"
	supabasestore "github.com/solpos/service_layer/internal/app/storage/supabase"
	"github.com/solpos/service_layer/internal/cache"
	"github.com/solpos/service_layer/internal/config"
	"github.com/solpos/service_layer/internal/platform/migrations"
	"github.com/solpos/service_layer/pkg/logger"
	"github.com/solpos/service_layer/supabase/client"
)

// Infra holds the connections opened for the configured backends.
type Infra struct {
	Stores Stores
	// Supabase is set whenever SUPABASE_URL and the service key are configured,
	// regardless of the store backend.
	Supabase *client.Client
	DB       *sql.DB

	closers []func() error
}

// OpenInfra connects the store backend, cache and Supabase project described
// by cfg. Call Close on the result when done.
func OpenInfra(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	if log == nil {
		log = logger.NewDefault("infra")
	}
	infra := &Infra{}

	if cfg.Supabase.Enabled() {
		sb, err := client.New(client.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.ServiceKey})
		if err != nil {
			return nil, fmt.Errorf("configure supabase: %w", err)
		}
		infra.Supabase = sb
		infra.Stores.Logos = sb.Storage(cfg.Supabase.LogoBucket)
		if cfg.Supabase.Realtime {
			rt := client.NewRealtimeClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
			infra.Stores.Realtime = rt
			infra.closers = append(infra.closers, rt.Disconnect)
		}
	} else {
		log.Warn("SUPABASE_URL not set; logo uploads and realtime bridge disabled")
	}

	switch cfg.Database.Backend {
	case "postgres":
		db, err := OpenDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		infra.DB = db
		infra.closers = append(infra.closers, db.Close)
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db); err != nil {
				_ = infra.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		store := postgres.New(db)
		infra.Stores.Merchants, infra.Stores.Invoices, infra.Stores.Settlements = store, store, store
	case "supabase":
		store := supabasestore.New(infra.Supabase)
		infra.Stores.Merchants, infra.Stores.Invoices, infra.Stores.Settlements = store, store, store
	default:
		log.Warn("STORE_BACKEND is memory; data is lost on restart")
	}

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.URL, "solpos:")
		if err != nil {
			_ = infra.Close()
			return nil, fmt.Errorf("configure redis: %w", err)
		}
		infra.Stores.Cache = rc
		infra.closers = append(infra.closers, rc.Close)
	} else {
		log.Warn("REDIS_URL not set; using in-process cache and validation leases")
	}

	return infra, nil
}

// OpenDB opens and pings a PostgreSQL pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Close releases every connection in reverse order of opening.
func (i *Infra) Close() error {
	var errs []error
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}
