package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libraryapi/internal/auth"
	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/config"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/blob"
	"libraryapi/internal/report"
)

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	media, err := blob.NewLocalStore(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	app := newApp(cfg, logger, be, media)
	handler, cleanup := newRouter(app)
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Addr), slog.String("store", cfg.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	auth    *auth.Service
	members *member.Service
	books   *book.Service
	circ    *circulation.Service
	reports *report.Service
	media   http.Handler
	ready   func(ctx context.Context) error
}

func newApp(cfg config.Config, logger *slog.Logger, be backend, media *blob.LocalStore) *app {
	members := member.NewService(be.members, media)
	circ := circulation.NewService(be.tx, be.reader, circulation.WithLogger(logger))
	return &app{
		cfg:     cfg,
		logger:  logger,
		auth:    auth.NewService(cfg.JWTSecret, cfg.TokenTTL, members, logger),
		members: members,
		books:   book.NewService(be.books, media),
		circ:    circ,
		reports: report.NewService(be.reports, nil),
		media:   media.Handler(),
		ready:   be.ping,
	}
}
