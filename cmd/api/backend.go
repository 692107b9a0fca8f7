package main

import (
	"context"
	"fmt"
	"log/slog"

	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/config"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/postgres"
	"libraryapi/internal/report"
	"libraryapi/internal/store"
)

// backend bundles the repositories of one storage driver.
type backend struct {
	books   book.Repository
	members member.Repository
	tx      circulation.TxRunner
	reader  circulation.Reader
	reports report.Source
	ping    func(ctx context.Context) error
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memoryBackend(store.NewMemory()), nil
	}

	pool, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return backend{}, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database connection OK", slog.String("dsn", postgres.RedactDSN(cfg.DatabaseDSN)))

	books := book.NewPostgresRepo(pool, cfg.DBTimeout)
	members := member.NewPostgresRepo(pool, cfg.DBTimeout)
	issues := circulation.NewPostgresRepo(pool, cfg.DBTimeout)
	return backend{
		books:   books,
		members: members,
		tx:      circulation.NewPostgresTxRunner(pool, books, members, issues),
		reader:  issues,
		reports: report.NewPostgresRepo(pool, cfg.DBTimeout),
		ping:    pool.Ping,
		close:   pool.Close,
	}, nil
}

func memoryBackend(mem *store.Memory) backend {
	return backend{
		books:   mem.Books(),
		members: mem.Members(),
		tx:      mem,
		reader:  mem.Issues(),
		reports: mem.Reports(),
		ping:    func(context.Context) error { return nil },
		close:   func() {},
	}
}
