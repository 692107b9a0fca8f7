package member

import (
	"io"
	"time"

	"libraryapi/internal/apperr"
)

const (
	RoleAdmin   = "ADMIN"
	RoleStudent = "STUDENT"

	MaxAboutLength = 300
)

var (
	ErrNotFound         = apperr.New(apperr.NotFound, "member not found")
	ErrAlreadyExists    = apperr.New(apperr.Duplicate, "an account with this email already exists")
	ErrMissingFields    = apperr.New(apperr.Validation, "name, email and password are required")
	ErrInvalidRole      = apperr.New(apperr.Validation, "role must be ADMIN or STUDENT")
	ErrPasswordTooShort = apperr.New(apperr.Validation, "password must be at least 6 characters")
	ErrWrongPassword    = apperr.New(apperr.Validation, "current password is incorrect")
	ErrAboutTooLong     = apperr.New(apperr.Validation, "about must be at most 300 characters")
	ErrAvatarNotImage   = apperr.New(apperr.Validation, "profile image must be an image file")
)

// Member is a registered user of the library. IssuedBooks and TotalFineDue
// are caches of the member's issue records and only change inside a
// circulation transaction.
type Member struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	ProfileImage string    `json:"profile_image"`
	Phone        string    `json:"phone"`
	About        string    `json:"about"`
	IssuedBooks  []string  `json:"issued_books"`
	TotalFineDue int64     `json:"total_fine_due"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m Member) IsStudent() bool { return m.Role == RoleStudent }

// HasIssuedBookRef reports whether issueID is in the member's active set.
func (m Member) HasIssuedBookRef(issueID string) bool {
	for _, id := range m.IssuedBooks {
		if id == issueID {
			return true
		}
	}
	return false
}

// Registration is the input to Register. Role defaults to STUDENT.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Profile is a partial profile update; nil fields are left untouched.
type Profile struct {
	Name  *string
	Phone *string
	About *string
}

// Image is an uploaded profile picture.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}
