// Command circulationctl runs administrative tasks against the library
// database: counter reconciliation, overdue listings, the dashboard summary
// and administrator provisioning.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/config"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/postgres"
	"libraryapi/internal/report"
)

const dbTimeout = 5 * time.Second

// services is everything a subcommand may need.
type services struct {
	circ    *circulation.Service
	reports *report.Service
	members *member.Service
}

type opener func(ctx context.Context) (*services, func(), error)

func main() {
	config.LoadEnvFiles()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	root := newRootCmd(postgresOpener(logger), os.Stdin)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func postgresOpener(logger *slog.Logger) opener {
	return func(ctx context.Context) (*services, func(), error) {
		dsn := os.Getenv("DB_DSN")
		if dsn == "" {
			return nil, nil, fmt.Errorf("DB_DSN is not set")
		}
		pool, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}

		books := book.NewPostgresRepo(pool, dbTimeout)
		members := member.NewPostgresRepo(pool, dbTimeout)
		issues := circulation.NewPostgresRepo(pool, dbTimeout)
		return &services{
			circ: circulation.NewService(
				circulation.NewPostgresTxRunner(pool, books, members, issues),
				issues,
				circulation.WithLogger(logger),
			),
			reports: report.NewService(report.NewPostgresRepo(pool, dbTimeout), nil),
			members: member.NewService(members, nil),
		}, pool.Close, nil
	}
}
