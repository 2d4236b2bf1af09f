// Package app wires a configured store to the engine for the CLI and the
// HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"ticketgate/internal/config"
	"ticketgate/internal/db"
	"ticketgate/internal/domain"
	"ticketgate/internal/engine"
	"ticketgate/internal/engine/auth"
	"ticketgate/internal/migrate"
	"ticketgate/internal/quota"
	"ticketgate/internal/repo"
	"ticketgate/internal/storage/postgres"
	"ticketgate/internal/storage/postgres/migrations"
)

// Runtime is an opened store with the engine built on it.
type Runtime struct {
	Config *config.Config
	Engine engine.Engine
	Keys   *auth.Service
	Logger *slog.Logger
	// Audit lists audit entries; both stores provide it.
	Audit interface {
		ListAudit(ctx context.Context, entityKind, entityID string, limit int) ([]domain.AuditEvent, error)
	}
	close func()
}

// Close releases the store.
func (r *Runtime) Close() {
	if r.close != nil {
		r.close()
	}
}

// NewLogger builds the process logger. format is text or json.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open connects the store named by cfg.Storage, applies pending migrations
// and builds the engine.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Storage.DSN, 0)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", "driver", "postgres", "names", applied)
		}
		store := postgres.New(pool)
		rt.Engine = engine.New(store, store, cfg, logger)
		rt.Keys = &auth.Service{Keys: store}
		rt.Audit = store
		rt.close = store.Close
	case "sqlite", "memory", "":
		conn, err := openSQLite(cfg)
		if err != nil {
			return nil, err
		}
		n, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if n > 0 {
			logger.Info("applied migrations", "driver", "sqlite", "count", n)
		}
		r := repo.Repo{DB: conn}
		var qs quota.Store = repo.QuotaStore{Repo: r}
		if cfg.Storage.Driver == "memory" {
			qs = quota.NewMemoryStore()
		}
		rt.Engine = engine.New(r, qs, cfg, logger)
		rt.Keys = &auth.Service{Keys: r}
		rt.Audit = r
		rt.close = func() { conn.Close() }
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return rt, nil
}

// Migrate applies pending migrations for the configured store and reports
// how many ran.
func Migrate(ctx context.Context, cfg *config.Config) (int, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Storage.DSN, 1)
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		applied, err := migrations.Apply(ctx, pool)
		return len(applied), err
	default:
		conn, err := openSQLite(cfg)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		return migrate.Migrate(ctx, conn)
	}
}

// openSQLite opens the workspace database. The memory driver keeps the
// whole database on the single connection.
func openSQLite(cfg *config.Config) (*sql.DB, error) {
	dbCfg := db.Config{Workspace: cfg.Storage.Workspace, Path: cfg.Storage.Path}
	if cfg.Storage.Driver == "memory" {
		dbCfg.Path = ":memory:"
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return conn, nil
}
