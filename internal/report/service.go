package report

import (
	"context"
	"fmt"
	"time"

	"libraryapi/internal/member"
)

type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{src: src, now: now}
}

// Summary counts members by role, books, active loans and overdue loans.
// Overdue uses the same predicate as the late list.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	roles, err := s.src.CountMembersByRole(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count members: %w", err)
	}
	books, err := s.src.CountBooks(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count books: %w", err)
	}
	active, err := s.src.CountActiveIssues(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count active issues: %w", err)
	}
	late, err := s.src.CountLateIssues(ctx, s.now())
	if err != nil {
		return Summary{}, fmt.Errorf("count late issues: %w", err)
	}
	return Summary{
		Students:      roles[member.RoleStudent],
		Admins:        roles[member.RoleAdmin],
		Books:         books,
		ActiveIssues:  active,
		OverdueIssues: late,
	}, nil
}

func (s *Service) Growth(ctx context.Context) (Growth, error) {
	books, err := s.src.MonthlyBooks(ctx)
	if err != nil {
		return Growth{}, fmt.Errorf("monthly books: %w", err)
	}
	issues, err := s.src.MonthlyIssues(ctx)
	if err != nil {
		return Growth{}, fmt.Errorf("monthly issues: %w", err)
	}
	if books == nil {
		books = []MonthCount{}
	}
	if issues == nil {
		issues = []MonthCount{}
	}
	return Growth{Books: books, Issues: issues}, nil
}
