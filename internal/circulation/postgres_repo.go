package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/postgres"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const issueColumns = `id, member_id, book_id, issue_date, expected_return_date, actual_return_date,
	status, late_days, fine_amount, fine_status, created_at, updated_at`

var dialect = goqu.Dialect("postgres")

// PostgresRepo stores issue records and serves the read projections.
type PostgresRepo struct {
	db      postgres.DBTX
	timeout time.Duration
}

func NewPostgresRepo(db postgres.DBTX, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) WithTx(tx pgx.Tx) *PostgresRepo {
	return &PostgresRepo{db: tx, timeout: r.timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func scanIssue(row pgx.Row) (Issue, error) {
	var is Issue
	err := row.Scan(
		&is.ID, &is.MemberID, &is.BookID, &is.IssueDate, &is.ExpectedReturnDate, &is.ActualReturnDate,
		&is.Status, &is.LateDays, &is.FineAmount, &is.FineStatus, &is.CreatedAt, &is.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, ErrIssueNotFound
		}
		return Issue{}, err
	}
	return is, nil
}

func (r *PostgresRepo) Create(ctx context.Context, is *Issue) error {
	const query = `
		INSERT INTO issues (member_id, book_id, issue_date, expected_return_date, status, fine_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, late_days, fine_amount, created_at, updated_at`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.QueryRow(timeoutCtx, query,
		is.MemberID, is.BookID, is.IssueDate, is.ExpectedReturnDate, is.Status, is.FineStatus,
	).Scan(&is.ID, &is.LateDays, &is.FineAmount, &is.CreatedAt, &is.UpdatedAt)
}

func (r *PostgresRepo) GetForUpdate(ctx context.Context, id string) (Issue, error) {
	if !postgres.ValidID(id) {
		return Issue{}, ErrIssueNotFound
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = $1 FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanIssue(r.db.QueryRow(timeoutCtx, query, id))
}

func (r *PostgresRepo) Update(ctx context.Context, is *Issue) error {
	const query = `
		UPDATE issues SET
			actual_return_date = $2,
			status = $3,
			late_days = $4,
			fine_amount = $5,
			fine_status = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	err := r.db.QueryRow(timeoutCtx, query,
		is.ID, is.ActualReturnDate, is.Status, is.LateDays, is.FineAmount, is.FineStatus,
	).Scan(&is.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrIssueNotFound
	}
	return err
}

func (r *PostgresRepo) CountActiveByMember(ctx context.Context, memberID string) (int, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var n int
	err := r.db.QueryRow(timeoutCtx,
		`SELECT count(*) FROM issues WHERE member_id = $1 AND status = 'ISSUED'`, memberID,
	).Scan(&n)
	return n, err
}

func (r *PostgresRepo) HasActive(ctx context.Context, memberID, bookID string) (bool, error) {
	if !postgres.ValidID(memberID) || !postgres.ValidID(bookID) {
		return false, nil
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var held bool
	err := r.db.QueryRow(timeoutCtx,
		`SELECT EXISTS(SELECT 1 FROM issues WHERE member_id = $1 AND book_id = $2 AND status = 'ISSUED')`,
		memberID, bookID,
	).Scan(&held)
	return held, err
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues ORDER BY issue_date, id`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Issue{}
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

func detailSelect() *goqu.SelectDataset {
	return dialect.From(goqu.T("issues").As("i")).
		Prepared(true).
		LeftJoin(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("i.member_id")))).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("i.book_id")))).
		Select(
			goqu.I("i.id"), goqu.I("i.member_id"), goqu.I("i.book_id"),
			goqu.I("i.issue_date"), goqu.I("i.expected_return_date"), goqu.I("i.actual_return_date"),
			goqu.I("i.status"), goqu.I("i.late_days"), goqu.I("i.fine_amount"), goqu.I("i.fine_status"),
			goqu.I("i.created_at"), goqu.I("i.updated_at"),
			goqu.L("COALESCE(m.name, '')"), goqu.L("COALESCE(m.email, '')"),
			goqu.L("COALESCE(b.title, '')"), goqu.L("COALESCE(b.author, '')"), goqu.L("COALESCE(b.cover_image, '')"),
		)
}

func (r *PostgresRepo) queryDetails(ctx context.Context, ds *goqu.SelectDataset) ([]Detail, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build issue query: %w", err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Detail{}
	for rows.Next() {
		var d Detail
		if err := rows.Scan(
			&d.ID, &d.MemberID, &d.BookID, &d.IssueDate, &d.ExpectedReturnDate, &d.ActualReturnDate,
			&d.Status, &d.LateDays, &d.FineAmount, &d.FineStatus, &d.CreatedAt, &d.UpdatedAt,
			&d.MemberName, &d.MemberEmail, &d.BookTitle, &d.BookAuthor, &d.BookCover,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func memberFilter(memberID string) exp.Expression {
	if memberID == "" {
		return nil
	}
	return goqu.I("i.member_id").Eq(memberID)
}

func (r *PostgresRepo) ListActive(ctx context.Context, memberID string) ([]Detail, error) {
	if memberID != "" && !postgres.ValidID(memberID) {
		return []Detail{}, nil
	}
	ds := detailSelect().
		Where(goqu.I("i.status").Eq(string(StatusIssued))).
		Order(goqu.I("i.expected_return_date").Asc(), goqu.I("i.id").Asc())
	if f := memberFilter(memberID); f != nil {
		ds = ds.Where(f)
	}
	return r.queryDetails(ctx, ds)
}

func (r *PostgresRepo) History(ctx context.Context, memberID string, limit, offset int) ([]Detail, int, error) {
	if memberID != "" && !postgres.ValidID(memberID) {
		return []Detail{}, 0, nil
	}

	countDS := dialect.From(goqu.T("issues").As("i")).Prepared(true).Select(goqu.COUNT(goqu.Star()))
	ds := detailSelect().
		Order(goqu.I("i.created_at").Desc(), goqu.I("i.id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	if f := memberFilter(memberID); f != nil {
		countDS = countDS.Where(f)
		ds = ds.Where(f)
	}

	countSQL, countArgs, err := countDS.ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build history count: %w", err)
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var total int
	if err := r.db.QueryRow(timeoutCtx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	items, err := r.queryDetails(ctx, ds)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PostgresRepo) ListLate(ctx context.Context, now time.Time) ([]Detail, error) {
	ds := detailSelect().
		Where(
			goqu.I("i.status").Eq(string(StatusIssued)),
			goqu.I("i.expected_return_date").Lt(now),
			goqu.I("i.fine_status").Eq(string(FineUnpaid)),
		).
		Order(goqu.I("i.expected_return_date").Asc(), goqu.I("i.id").Asc())
	return r.queryDetails(ctx, ds)
}

func (r *PostgresRepo) ListUnpaidFines(ctx context.Context, memberID string) ([]Detail, error) {
	if !postgres.ValidID(memberID) {
		return []Detail{}, nil
	}
	ds := detailSelect().
		Where(
			goqu.I("i.member_id").Eq(memberID),
			goqu.I("i.fine_amount").Gt(0),
			goqu.I("i.fine_status").Eq(string(FineUnpaid)),
		).
		Order(goqu.I("i.actual_return_date").Desc(), goqu.I("i.id").Asc())
	return r.queryDetails(ctx, ds)
}

func (r *PostgresRepo) MemberSummary(ctx context.Context, memberID string) (MemberSummary, error) {
	if !postgres.ValidID(memberID) {
		return MemberSummary{}, member.ErrNotFound
	}
	const query = `
		SELECT m.total_fine_due,
			(SELECT count(*) FROM issues WHERE member_id = m.id AND status = 'ISSUED'),
			(SELECT count(*) FROM issues WHERE member_id = m.id AND status = 'RETURNED')
		FROM members m WHERE m.id = $1`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var s MemberSummary
	err := r.db.QueryRow(timeoutCtx, query, memberID).Scan(&s.TotalFineDue, &s.IssuedCount, &s.ReturnedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return MemberSummary{}, member.ErrNotFound
	}
	return s, err
}

// PostgresTxRunner binds the book, member and issue repositories to one
// database transaction.
type PostgresTxRunner struct {
	pool    *pgxpool.Pool
	books   *book.PostgresRepo
	members *member.PostgresRepo
	issues  *PostgresRepo
}

func NewPostgresTxRunner(pool *pgxpool.Pool, books *book.PostgresRepo, members *member.PostgresRepo, issues *PostgresRepo) *PostgresTxRunner {
	return &PostgresTxRunner{pool: pool, books: books, members: members, issues: issues}
}

func (t *PostgresTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return postgres.WithTx(ctx, t.pool, func(ptx pgx.Tx) error {
		return fn(ctx, Tx{
			Books:   t.books.WithTx(ptx),
			Members: t.members.WithTx(ptx),
			Issues:  t.issues.WithTx(ptx),
		})
	})
}
