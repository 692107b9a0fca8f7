package circulation

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"libraryapi/internal/httpx"
)

type HTTPHandler struct {
	service *Service
	logger  *slog.Logger
}

func NewHTTPHandler(service *Service, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{service: service, logger: logger}
}

type IssueBookRequest struct {
	MemberEmail string `json:"member_email" validate:"required,email"`
	BookID      string `json:"book_id" validate:"required"`
}

// IssueBook handles POST /v1/issues
// @Summary Issue a book to a student
// @Tags issues
// @Accept json
// @Produce json
// @Param request body IssueBookRequest true "Issue request"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/issues [post]
func (h *HTTPHandler) IssueBook(w http.ResponseWriter, r *http.Request) {
	var req IssueBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	req.MemberEmail = strings.TrimSpace(req.MemberEmail)
	req.BookID = strings.TrimSpace(req.BookID)
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	issue, err := h.service.IssueBook(r.Context(), req.MemberEmail, req.BookID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccessCreated(w, r, issue)
}

// ReturnBook handles POST /v1/issues/{id}/return
func (h *HTTPHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	issue, err := h.service.ReturnBook(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, issue, nil)
}

// PayFine handles POST /v1/issues/{id}/pay
func (h *HTTPHandler) PayFine(w http.ResponseWriter, r *http.Request) {
	issue, err := h.service.PayFine(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, issue, nil)
}

// Active handles GET /v1/issues/active
func (h *HTTPHandler) Active(w http.ResponseWriter, r *http.Request) {
	h.writeActive(w, r, r.URL.Query().Get("member_id"))
}

// History handles GET /v1/issues/history
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, r.URL.Query().Get("member_id"))
}

// Late handles GET /v1/issues/late
func (h *HTTPHandler) Late(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LateIssues(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, items, map[string]any{"count": len(items)})
}

// MyIssues handles GET /v1/me/issues
func (h *HTTPHandler) MyIssues(w http.ResponseWriter, r *http.Request) {
	h.writeActive(w, r, httpx.UserIDFrom(r))
}

// MyHistory handles GET /v1/me/history
func (h *HTTPHandler) MyHistory(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, httpx.UserIDFrom(r))
}

// MyFines handles GET /v1/me/fines
func (h *HTTPHandler) MyFines(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Fines(r.Context(), httpx.UserIDFrom(r))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, st, nil)
}

// MySummary handles GET /v1/me/summary
func (h *HTTPHandler) MySummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.MemberSummary(r.Context(), httpx.UserIDFrom(r))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, sum, nil)
}

func (h *HTTPHandler) writeActive(w http.ResponseWriter, r *http.Request, memberID string) {
	items, err := h.service.ActiveIssues(r.Context(), memberID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, items, map[string]any{"count": len(items)})
}

func (h *HTTPHandler) writeHistory(w http.ResponseWriter, r *http.Request, memberID string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	p, err := h.service.History(r.Context(), memberID, page)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, p.Items, map[string]any{
		"page":        p.Page,
		"page_size":   p.PageSize,
		"total":       p.Total,
		"total_pages": (p.Total + p.PageSize - 1) / p.PageSize,
	})
}
