package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"libraryapi/internal/platform/crypto"
)

const avatarFolder = "profiles"

type Service struct {
	repo   Repository
	images ImageStore
}

func NewService(repo Repository, images ImageStore) *Service {
	return &Service{repo: repo, images: images}
}

// NormalizeEmail trims and lower-cases an address. Emails are unique
// case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, reg Registration) (Member, error) {
	name := strings.TrimSpace(reg.Name)
	email := NormalizeEmail(reg.Email)
	if name == "" || email == "" || reg.Password == "" {
		return Member{}, ErrMissingFields
	}
	role := reg.Role
	if role == "" {
		role = RoleStudent
	}
	if role != RoleStudent && role != RoleAdmin {
		return Member{}, ErrInvalidRole
	}
	if err := crypto.ValidatePassword(reg.Password); err != nil {
		return Member{}, ErrPasswordTooShort
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return Member{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Member{}, err
	}

	hash, err := crypto.HashPassword(reg.Password)
	if err != nil {
		return Member{}, fmt.Errorf("hash password: %w", err)
	}

	m := &Member{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IssuedBooks:  []string{},
	}
	// a concurrent registration can still win the unique index
	if err := s.repo.Create(ctx, m); err != nil {
		return Member{}, err
	}
	return *m, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (Member, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

func (s *Service) FindByID(ctx context.Context, id string) (Member, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id string, p Profile) (Member, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return Member{}, ErrMissingFields
		}
		p.Name = &name
	}
	if p.About != nil && utf8.RuneCountInString(*p.About) > MaxAboutLength {
		return Member{}, ErrAboutTooLong
	}
	if p.Name == nil && p.Phone == nil && p.About == nil {
		return s.repo.GetByID(ctx, id)
	}
	return s.repo.UpdateProfile(ctx, id, p)
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(m.PasswordHash, current) {
		return ErrWrongPassword
	}
	if err := crypto.ValidatePassword(next); err != nil {
		return ErrPasswordTooShort
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.SetPasswordHash(ctx, id, hash)
}

func (s *Service) SetAvatar(ctx context.Context, id string, img Image) (Member, error) {
	if !strings.HasPrefix(img.ContentType, "image/") {
		return Member{}, ErrAvatarNotImage
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return Member{}, err
	}
	if s.images == nil {
		return Member{}, fmt.Errorf("upload avatar: no image store configured")
	}
	url, err := s.images.Put(ctx, avatarFolder, img.Filename, img.ContentType, img.Body)
	if err != nil {
		return Member{}, fmt.Errorf("upload avatar: %w", err)
	}
	return s.repo.SetProfileImage(ctx, id, url)
}
