package book

import (
	"context"
	"io"
)

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=book

// Repository defines the contract for book data storage.
type Repository interface {
	Create(ctx context.Context, b *Book) error
	GetByID(ctx context.Context, id string) (Book, error)
	UpdateDetails(ctx context.Context, b *Book, newTotal *int) error
	AdjustTotalCopies(ctx context.Context, id string, newTotal int) (Book, error)
	SetStock(ctx context.Context, id string, total, available int) (Book, error)
	Delete(ctx context.Context, id string) error
	Popular(ctx context.Context, limit int) ([]Book, error)
}

// CoverStore persists cover images and returns a retrievable URL.
type CoverStore interface {
	Put(ctx context.Context, folder, filename, contentType string, body io.Reader) (string, error)
}
