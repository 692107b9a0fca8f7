package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/config"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/postgres"
)

const defaultTimeout = 5 * time.Second

type seedBook struct {
	title    string
	author   string
	category book.Category
	copies   int
}

var catalog = []seedBook{
	{"The Pragmatic Programmer", "Andrew Hunt", book.CategoryTechnical, 3},
	{"Designing Data-Intensive Applications", "Martin Kleppmann", book.CategoryTechnical, 2},
	{"The Go Programming Language", "Alan Donovan", book.CategoryTechnical, 4},
	{"Jaya", "Devdutt Pattanaik", book.CategoryMythology, 2},
	{"The Palace of Illusions", "Chitra Banerjee Divakaruni", book.CategoryMythology, 1},
	{"Godan", "Munshi Premchand", book.CategoryHindi, 3},
	{"Madhushala", "Harivansh Rai Bachchan", book.CategoryHindi, 2},
	{"The Discovery of India", "Jawaharlal Nehru", book.CategoryHistorical, 2},
	{"India After Gandhi", "Ramachandra Guha", book.CategoryHistorical, 1},
	{"Wings of Fire", "A. P. J. Abdul Kalam", book.CategoryOther, 5},
}

func main() {
	adminEmail := flag.String("admin-email", "admin@library.local", "email of the administrator to create")
	adminPassword := flag.String("admin-password", "", "password of the administrator (defaults to $SEED_ADMIN_PASSWORD)")
	flag.Parse()

	config.LoadEnvFiles()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	password := *adminPassword
	if password == "" {
		password = os.Getenv("SEED_ADMIN_PASSWORD")
	}
	if err := run(context.Background(), logger, *adminEmail, password); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, adminEmail, adminPassword string) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	pool, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	members := member.NewService(member.NewPostgresRepo(pool, defaultTimeout), nil)
	books := book.NewService(book.NewPostgresRepo(pool, defaultTimeout), nil)
	return seed(ctx, logger, members, books, adminEmail, adminPassword)
}

func seed(ctx context.Context, logger *slog.Logger, members *member.Service, books *book.Service, adminEmail, adminPassword string) error {
	if adminPassword != "" {
		admin, err := members.Register(ctx, member.Registration{
			Name:     "Library Admin",
			Email:    adminEmail,
			Password: adminPassword,
			Role:     member.RoleAdmin,
		})
		switch {
		case errors.Is(err, member.ErrAlreadyExists):
			logger.Info("admin already exists", slog.String("email", adminEmail))
		case err != nil:
			return err
		default:
			logger.Info("admin created", slog.String("member_id", admin.ID))
		}
	} else {
		logger.Warn("no admin password given; skipping admin account")
	}

	for _, sb := range catalog {
		b, err := books.Create(ctx, book.Descriptor{
			Title:       sb.title,
			Author:      sb.author,
			Category:    sb.category,
			TotalCopies: sb.copies,
		}, nil)
		if err != nil {
			return err
		}
		logger.Debug("book created", slog.String("book_id", b.ID), slog.String("title", b.Title))
	}
	logger.Info("catalog seeded", slog.Int("books", len(catalog)))
	return nil
}
