package member

import (
	"log/slog"
	"net/http"
	"strings"

	"libraryapi/internal/httpx"
)

const maxAvatarBytes = 2 << 20

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

type registerReq struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type updateProfileReq struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=100"`
	Phone *string `json:"phone" validate:"omitempty,phone"`
	About *string `json:"about" validate:"omitempty,max=300"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// Register handles POST /v1/auth/register
// @Summary Register a new student
// @Description Create a student account. Administrators are provisioned out of band.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body registerReq true "Registration request"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/auth/register [post]
func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	m, err := h.service.Register(r.Context(), Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     RoleStudent,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "member registered", slog.String("member_id", m.ID))
	httpx.JSONSuccessCreated(w, r, m)
}

// Me handles GET /v1/me
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.FindByID(r.Context(), httpx.UserIDFrom(r))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, m, nil)
}

// UpdateMe handles PATCH /v1/me
func (h *HTTPHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	m, err := h.service.UpdateProfile(r.Context(), httpx.UserIDFrom(r), Profile{
		Name:  req.Name,
		Phone: req.Phone,
		About: req.About,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, m, nil)
}

// ChangePassword handles POST /v1/me/password
func (h *HTTPHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.ValidationFailed(w, r, details)
		return
	}

	if err := h.service.ChangePassword(r.Context(), httpx.UserIDFrom(r), req.CurrentPassword, req.NewPassword); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccessNoContent(w)
}

// UploadAvatar handles POST /v1/me/avatar with a profileImage file part.
func (h *HTTPHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Expected multipart form data", nil)
		return
	}
	file, header, err := r.FormFile("profileImage")
	if err != nil {
		httpx.ValidationFailed(w, r, []httpx.ErrorDetail{{Field: "profileImage", Message: "profileImage is required"}})
		return
	}
	defer file.Close()

	m, err := h.service.SetAvatar(r.Context(), httpx.UserIDFrom(r), Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, m, nil)
}
