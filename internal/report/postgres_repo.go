package report

import (
	"context"
	"fmt"
	"time"

	"libraryapi/internal/platform/postgres"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
)

var dialect = goqu.Dialect("postgres")

type PostgresRepo struct {
	db      postgres.DBTX
	timeout time.Duration
}

func NewPostgresRepo(db postgres.DBTX, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	query, args, err := ds.Prepared(true).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var n int
	err = r.db.QueryRow(timeoutCtx, query, args...).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountMembersByRole(ctx context.Context) (map[string]int, error) {
	query, args, err := dialect.From("members").
		Prepared(true).
		Select(goqu.C("role"), goqu.COUNT(goqu.Star())).
		GroupBy(goqu.C("role")).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build role count: %w", err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountBooks(ctx context.Context) (int, error) {
	return r.count(ctx, dialect.From("books"))
}

func (r *PostgresRepo) CountActiveIssues(ctx context.Context) (int, error) {
	return r.count(ctx, dialect.From("issues").Where(goqu.C("status").Eq("ISSUED")))
}

func (r *PostgresRepo) CountLateIssues(ctx context.Context, now time.Time) (int, error) {
	return r.count(ctx, dialect.From("issues").Where(
		goqu.C("status").Eq("ISSUED"),
		goqu.C("expected_return_date").Lt(now),
		goqu.C("fine_status").Eq("UNPAID"),
	))
}

func (r *PostgresRepo) MonthlyBooks(ctx context.Context) ([]MonthCount, error) {
	return r.monthly(ctx, "books")
}

func (r *PostgresRepo) MonthlyIssues(ctx context.Context) ([]MonthCount, error) {
	return r.monthly(ctx, "issues")
}

func (r *PostgresRepo) monthly(ctx context.Context, table string) ([]MonthCount, error) {
	year := goqu.L("EXTRACT(YEAR FROM created_at AT TIME ZONE 'UTC')::int")
	month := goqu.L("EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')::int")
	query, args, err := dialect.From(table).
		Prepared(true).
		Select(year.As("y"), month.As("m"), goqu.COUNT(goqu.Star())).
		GroupBy(goqu.C("y"), goqu.C("m")).
		Order(goqu.C("y").Asc(), goqu.C("m").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build monthly %s: %w", table, err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MonthCount{}
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.Year, &mc.Month, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}
