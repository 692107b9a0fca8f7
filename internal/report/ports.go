package report

import (
	"context"
	"time"
)

// Source exposes the aggregate reads the dashboard needs.
type Source interface {
	CountMembersByRole(ctx context.Context) (map[string]int, error)
	CountBooks(ctx context.Context) (int, error)
	CountActiveIssues(ctx context.Context) (int, error)
	CountLateIssues(ctx context.Context, now time.Time) (int, error)
	MonthlyBooks(ctx context.Context) ([]MonthCount, error)
	MonthlyIssues(ctx context.Context) ([]MonthCount, error)
}
