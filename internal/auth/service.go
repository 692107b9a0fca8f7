package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"libraryapi/internal/member"
	"libraryapi/internal/platform/crypto"
)

var ErrUnauthorized = errors.New("unauthorized")

// MemberFinder resolves the account behind a login attempt.
type MemberFinder interface {
	FindByEmail(ctx context.Context, email string) (member.Member, error)
}

type Service struct {
	secret  string
	ttl     time.Duration
	members MemberFinder
	logger  *slog.Logger
}

func NewService(secret string, ttl time.Duration, members MemberFinder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{secret: secret, ttl: ttl, members: members, logger: logger}
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int           `json:"expires_in"`
	Member      member.Member `json:"member"`
}

// Login verifies the password and signs an access token carrying the
// member id and role. Unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	m, err := s.members.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	if !crypto.VerifyPassword(m.PasswordHash, password) {
		s.logger.InfoContext(ctx, "login rejected", slog.String("member_id", m.ID))
		return Session{}, ErrUnauthorized
	}

	token, err := crypto.GenerateToken(s.secret, m.ID, m.Role, s.ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, ExpiresIn: int(s.ttl.Seconds()), Member: m}, nil
}
