package book

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"libraryapi/internal/httpx"
)

const maxCoverBytes = 5 << 20

// LoanChecker reports whether a member currently holds a copy of a book.
type LoanChecker interface {
	HasActiveLoan(ctx context.Context, memberID, bookID string) (bool, error)
}

type HTTPHandler struct {
	service *Service
	loans   LoanChecker
	logger  *slog.Logger
}

func NewHTTPHandler(service *Service, loans LoanChecker, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{service: service, loans: loans, logger: logger}
}

// Detail is a book as shown to a reader.
type Detail struct {
	Book
	Availability  string `json:"availability"`
	AlreadyIssued bool   `json:"already_issued"`
}

type CreateBookRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Author      string `json:"author" validate:"required,max=200"`
	Category    string `json:"category" validate:"required,oneof=Technical Mythology Hindi Historical Other"`
	Description string `json:"description" validate:"max=2000"`
	TotalCopies int    `json:"total_copies" validate:"gt=0"`
}

type UpdateBookRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Author      *string `json:"author" validate:"omitempty,max=200"`
	Category    *string `json:"category" validate:"omitempty,oneof=Technical Mythology Hindi Historical Other"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	TotalCopies *int    `json:"total_copies" validate:"omitempty,gt=0"`
}

type SetStockRequest struct {
	TotalCopies     *int `json:"total_copies" validate:"required,gt=0"`
	AvailableCopies *int `json:"available_copies" validate:"required,gte=0"`
}

// Get handles GET /v1/books/{id}
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	detail := Detail{Book: b, Availability: b.Availability()}
	if memberID := httpx.UserIDFrom(r); memberID != "" && h.loans != nil {
		held, err := h.loans.HasActiveLoan(r.Context(), memberID, b.ID)
		if err != nil {
			httpx.WriteError(w, r, h.logger, err)
			return
		}
		detail.AlreadyIssued = held
	}
	httpx.JSONSuccess(w, r, detail, nil)
}

// Popular handles GET /v1/books/popular
func (h *HTTPHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	books, err := h.service.Popular(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, books, map[string]any{"count": len(books)})
}

// Create handles POST /v1/books. It accepts either JSON or multipart form
// data with an optional coverImage file.
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	cover, err := decodeBookForm(r, &req, func(form map[string][]string) error {
		req.Title = formValue(form, "title")
		req.Author = formValue(form, "author")
		req.Category = formValue(form, "category")
		req.Description = formValue(form, "description")
		n, err := formInt(form, "total_copies", "totalCopies")
		if err != nil {
			return err
		}
		if n != nil {
			req.TotalCopies = *n
		}
		return nil
	})
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	defer closeCover(cover)
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	b, err := h.service.Create(r.Context(), Descriptor{
		Title:       req.Title,
		Author:      req.Author,
		Category:    Category(req.Category),
		Description: req.Description,
		TotalCopies: req.TotalCopies,
	}, cover)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "book created",
		slog.String("book_id", b.ID),
		slog.String("user_id", httpx.UserIDFrom(r)),
		slog.Int("total_copies", b.TotalCopies),
	)
	httpx.JSONSuccessCreated(w, r, b)
}

// Update handles PUT /v1/books/{id}
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	cover, err := decodeBookForm(r, &req, func(form map[string][]string) error {
		req.Title = formPtr(form, "title")
		req.Author = formPtr(form, "author")
		req.Category = formPtr(form, "category")
		req.Description = formPtr(form, "description")
		n, err := formInt(form, "total_copies", "totalCopies")
		req.TotalCopies = n
		return err
	})
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	defer closeCover(cover)
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	patch := Patch{
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		TotalCopies: req.TotalCopies,
	}
	if req.Category != nil {
		c := Category(*req.Category)
		patch.Category = &c
	}

	b, err := h.service.Update(r.Context(), r.PathValue("id"), patch, cover)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// SetStock handles PATCH /v1/books/{id}/stock
func (h *HTTPHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	b, err := h.service.SetStock(r.Context(), r.PathValue("id"), *req.TotalCopies, *req.AvailableCopies)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "book stock overridden",
		slog.String("book_id", b.ID),
		slog.Int("total_copies", b.TotalCopies),
		slog.Int("available_copies", b.AvailableCopies),
	)
	httpx.JSONSuccess(w, r, b, nil)
}

// Delete handles DELETE /v1/books/{id}
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "book deleted", slog.String("book_id", id))
	httpx.JSONSuccessNoContent(w)
}

// decodeBookForm decodes a JSON body into dst, or a multipart body through
// fromForm. The cover is returned only for multipart uploads that carry one.
func decodeBookForm(r *http.Request, dst any, fromForm func(map[string][]string) error) (*Cover, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return nil, httpx.DecodeJSON(r, dst)
	}

	if err := r.ParseMultipartForm(maxCoverBytes); err != nil {
		return nil, err
	}
	if err := fromForm(r.MultipartForm.Value); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("coverImage")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Cover{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, nil
}

func closeCover(c *Cover) {
	if c == nil {
		return
	}
	if closer, ok := c.Body.(io.Closer); ok {
		_ = closer.Close()
	}
}

func formValue(form map[string][]string, key string) string {
	if v := form[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func formPtr(form map[string][]string, key string) *string {
	if v, ok := form[key]; ok && len(v) > 0 {
		s := strings.TrimSpace(v[0])
		return &s
	}
	return nil
}

func formInt(form map[string][]string, keys ...string) (*int, error) {
	for _, key := range keys {
		if s := formValue(form, key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, err
			}
			return &n, nil
		}
	}
	return nil, nil
}
