package member

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=member

import (
	"context"
	"io"
)

type Repository interface {
	Create(ctx context.Context, mb *Member) error
	GetByEmail(ctx context.Context, email string) (Member, error)
	GetByID(ctx context.Context, id string) (Member, error)
	UpdateProfile(ctx context.Context, id string, p Profile) (Member, error)
	SetProfileImage(ctx context.Context, id string, url string) (Member, error)
	SetPasswordHash(ctx context.Context, id string, hash string) error
}

// ImageStore persists uploaded images and returns their public URL.
type ImageStore interface {
	Put(ctx context.Context, folder, filename, contentType string, body io.Reader) (string, error)
}
