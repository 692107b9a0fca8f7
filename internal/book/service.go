package book

import (
	"context"
	"fmt"
	"strings"
)

const (
	coverFolder         = "book-covers"
	defaultPopularLimit = 6
)

// Service provides catalog business logic. Copy reservation is not exposed
// here; it only happens inside a circulation transaction.
type Service struct {
	repo   Repository
	covers CoverStore
}

// NewService creates a new book service. covers may be nil when uploads are disabled.
func NewService(repo Repository, covers CoverStore) *Service {
	return &Service{repo: repo, covers: covers}
}

// Create stores a new book with every copy available.
func (s *Service) Create(ctx context.Context, d Descriptor, cover *Cover) (Book, error) {
	if err := d.Validate(); err != nil {
		return Book{}, err
	}
	coverURL, err := s.uploadCover(ctx, cover)
	if err != nil {
		return Book{}, err
	}

	b := &Book{
		Title:           strings.TrimSpace(d.Title),
		Author:          strings.TrimSpace(d.Author),
		Category:        d.Category,
		Description:     d.Description,
		CoverImage:      coverURL,
		TotalCopies:     d.TotalCopies,
		AvailableCopies: d.TotalCopies,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return Book{}, err
	}
	return *b, nil
}

// Get returns a book by id.
func (s *Service) Get(ctx context.Context, id string) (Book, error) {
	return s.repo.GetByID(ctx, id)
}

// Update applies a partial update. A new total copy count shifts the
// available count by the same delta, floored at zero.
func (s *Service) Update(ctx context.Context, id string, p Patch, cover *Cover) (Book, error) {
	if err := p.Validate(); err != nil {
		return Book{}, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Book{}, err
	}

	if p.Title != nil {
		b.Title = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		b.Author = strings.TrimSpace(*p.Author)
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if cover != nil {
		url, err := s.uploadCover(ctx, cover)
		if err != nil {
			return Book{}, err
		}
		b.CoverImage = url
	}

	if err := s.repo.UpdateDetails(ctx, &b, p.TotalCopies); err != nil {
		return Book{}, err
	}
	return b, nil
}

// AdjustTotalCopies sets a new total and moves the available count by the
// same delta. Reducing below the number of issued copies clamps available
// at zero instead of failing.
func (s *Service) AdjustTotalCopies(ctx context.Context, id string, newTotal int) (Book, error) {
	if newTotal <= 0 {
		return Book{}, ErrInvalidCopies
	}
	return s.repo.AdjustTotalCopies(ctx, id, newTotal)
}

// SetStock overrides both counters.
func (s *Service) SetStock(ctx context.Context, id string, total, available int) (Book, error) {
	if total <= 0 {
		return Book{}, ErrInvalidCopies
	}
	if available < 0 || available > total {
		return Book{}, ErrStockExceedsTotal
	}
	return s.repo.SetStock(ctx, id, total, available)
}

// Delete removes a book. It fails with ErrActiveLoans while any copy is issued.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Popular returns the most borrowed books.
func (s *Service) Popular(ctx context.Context, limit int) ([]Book, error) {
	if limit <= 0 || limit > 50 {
		limit = defaultPopularLimit
	}
	return s.repo.Popular(ctx, limit)
}

func (s *Service) uploadCover(ctx context.Context, cover *Cover) (string, error) {
	if cover == nil {
		return "", nil
	}
	if !strings.HasPrefix(cover.ContentType, "image/") {
		return "", ErrCoverNotImage
	}
	if s.covers == nil {
		return "", fmt.Errorf("upload cover: no cover store configured")
	}
	url, err := s.covers.Put(ctx, coverFolder, cover.Filename, cover.ContentType, cover.Body)
	if err != nil {
		return "", fmt.Errorf("upload cover: %w", err)
	}
	return url, nil
}
