package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"libraryapi/internal/config"
	"libraryapi/internal/platform/postgres"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, version, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	loadEnvFiles()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, *command, *name, logger); err != nil {
		logger.Error("migration failed", slog.String("command", *command), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Database, command, name string, logger *slog.Logger) error {
	dir := cfg.MigrationsDir
	if command == "create" {
		if name == "" {
			return fmt.Errorf("name is required for 'create' command")
		}
		return goose.Create(nil, dir, name, "sql")
	}

	pool, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		if err := goose.UpContext(ctx, db, dir); err != nil {
			return err
		}
		logger.Info("migrations applied", slog.String("dir", dir))
	case "down":
		if err := goose.DownContext(ctx, db, dir); err != nil {
			return err
		}
		logger.Info("migration rolled back", slog.String("dir", dir))
	case "status":
		return goose.StatusContext(ctx, db, dir)
	case "version":
		return goose.VersionContext(ctx, db, dir)
	default:
		return fmt.Errorf("unknown command %q; use up, down, status, version or create", command)
	}
	return nil
}
