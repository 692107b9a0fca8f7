package book

import (
	"io"
	"strings"
	"time"

	"libraryapi/internal/apperr"
)

var (
	// ErrNotFound is returned when a book is not found.
	ErrNotFound          = apperr.New(apperr.NotFound, "book not found")
	ErrOutOfStock        = apperr.New(apperr.OutOfStock, "book is out of stock")
	ErrActiveLoans       = apperr.New(apperr.Conflict, "book has copies currently issued")
	ErrInvalidCopies     = apperr.New(apperr.Validation, "total copies must be greater than 0")
	ErrInvalidCategory   = apperr.New(apperr.Validation, "category is not supported")
	ErrStockExceedsTotal = apperr.New(apperr.Validation, "available copies cannot exceed total copies")
	ErrMissingFields     = apperr.New(apperr.Validation, "title and author are required")
	ErrCoverNotImage     = apperr.New(apperr.Validation, "book cover must be an image file")
)

// Category is the closed set of shelves a book can belong to.
type Category string

const (
	CategoryTechnical  Category = "Technical"
	CategoryMythology  Category = "Mythology"
	CategoryHindi      Category = "Hindi"
	CategoryHistorical Category = "Historical"
	CategoryOther      Category = "Other"
)

// Categories lists every supported category.
var Categories = []Category{CategoryTechnical, CategoryMythology, CategoryHindi, CategoryHistorical, CategoryOther}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

const (
	AvailabilityAvailable  = "AVAILABLE"
	AvailabilityOutOfStock = "OUT_OF_STOCK"
)

// Book represents a catalog record and its copy inventory.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Category        Category  `json:"category"`
	Description     string    `json:"description,omitempty"`
	CoverImage      string    `json:"cover_image,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	BorrowCount     int       `json:"borrow_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Availability is AVAILABLE while at least one copy is on the shelf.
func (b Book) Availability() string {
	if b.AvailableCopies > 0 {
		return AvailabilityAvailable
	}
	return AvailabilityOutOfStock
}

// Descriptor holds the administrator-supplied fields of a new book.
type Descriptor struct {
	Title       string
	Author      string
	Category    Category
	Description string
	TotalCopies int
}

// Validate checks the descriptor before anything is stored.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Author) == "" {
		return ErrMissingFields
	}
	if !d.Category.Valid() {
		return ErrInvalidCategory
	}
	if d.TotalCopies <= 0 {
		return ErrInvalidCopies
	}
	return nil
}

// Patch is a partial update; nil fields are left untouched. TotalCopies is
// applied with AdjustTotalCopies semantics in the same write as the details.
type Patch struct {
	Title       *string
	Author      *string
	Category    *Category
	Description *string
	TotalCopies *int
}

// Validate checks only the fields that are present.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrMissingFields
	}
	if p.Author != nil && strings.TrimSpace(*p.Author) == "" {
		return ErrMissingFields
	}
	if p.Category != nil && !p.Category.Valid() {
		return ErrInvalidCategory
	}
	if p.TotalCopies != nil && *p.TotalCopies <= 0 {
		return ErrInvalidCopies
	}
	return nil
}

// Cover is an uploaded cover image payload.
type Cover struct {
	Filename    string
	ContentType string
	Body        io.Reader
}
