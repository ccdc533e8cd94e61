package cmd

import (
	"context"
	"errors"

	"github.com/usyd/webcrawler-rag/internal/config"
	pgstore "github.com/usyd/webcrawler-rag/internal/storage/postgres"
)

// database is a pooled Postgres handle.
type database interface {
	pgstore.Querier
	Close()
}

// openDatabase is the pool factory. Tests replace it with pgxmock.
var openDatabase = func(ctx context.Context, cfg config.DatabaseConfig) (database, error) {
	if cfg.URL == "" {
		return nil, errors.New("database.url (DATABASE_URL) is required")
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
