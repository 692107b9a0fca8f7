package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libraryapi/internal/platform/postgres"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
)

const memberColumns = `id, name, email, password_hash, role, profile_image, phone, about,
	issued_books, total_fine_due, created_at, updated_at`

var dialect = goqu.Dialect("postgres")

type PostgresRepo struct {
	db      postgres.DBTX
	timeout time.Duration
}

func NewPostgresRepo(db postgres.DBTX, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

// WithTx returns a repository bound to tx.
func (r *PostgresRepo) WithTx(tx pgx.Tx) *PostgresRepo {
	return &PostgresRepo{db: tx, timeout: r.timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(
		&m.ID, &m.Name, &m.Email, &m.PasswordHash, &m.Role, &m.ProfileImage, &m.Phone, &m.About,
		&m.IssuedBooks, &m.TotalFineDue, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	if m.IssuedBooks == nil {
		m.IssuedBooks = []string{}
	}
	return m, nil
}

func (r *PostgresRepo) Create(ctx context.Context, m *Member) error {
	const query = `
		INSERT INTO members (name, email, password_hash, role)
		VALUES ($1, lower($2), $3, $4)
		RETURNING id, email, issued_books, total_fine_due, created_at, updated_at`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	err := r.db.QueryRow(timeoutCtx, query, m.Name, m.Email, m.PasswordHash, m.Role).
		Scan(&m.ID, &m.Email, &m.IssuedBooks, &m.TotalFineDue, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetByEmail(ctx context.Context, email string) (Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE email = lower($1) LIMIT 1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, email))
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Member, error) {
	if !postgres.ValidID(id) {
		return Member{}, ErrNotFound
	}
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, id))
}

func (r *PostgresRepo) GetByEmailForUpdate(ctx context.Context, email string) (Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE email = lower($1) FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, email))
}

func (r *PostgresRepo) GetByIDForUpdate(ctx context.Context, id string) (Member, error) {
	if !postgres.ValidID(id) {
		return Member{}, ErrNotFound
	}
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1 FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, id))
}

func (r *PostgresRepo) UpdateProfile(ctx context.Context, id string, p Profile) (Member, error) {
	if !postgres.ValidID(id) {
		return Member{}, ErrNotFound
	}
	record := goqu.Record{"updated_at": goqu.L("now()")}
	if p.Name != nil {
		record["name"] = *p.Name
	}
	if p.Phone != nil {
		record["phone"] = *p.Phone
	}
	if p.About != nil {
		record["about"] = *p.About
	}

	query, args, err := dialect.Update("members").
		Prepared(true).
		Set(record).
		Where(goqu.C("id").Eq(id)).
		Returning(goqu.L(memberColumns)).
		ToSQL()
	if err != nil {
		return Member{}, fmt.Errorf("build profile update: %w", err)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, args...))
}

func (r *PostgresRepo) SetProfileImage(ctx context.Context, id string, url string) (Member, error) {
	if !postgres.ValidID(id) {
		return Member{}, ErrNotFound
	}
	query := `UPDATE members SET profile_image = $2, updated_at = now() WHERE id = $1 RETURNING ` + memberColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanMember(r.db.QueryRow(timeoutCtx, query, id, url))
}

func (r *PostgresRepo) SetPasswordHash(ctx context.Context, id string, hash string) error {
	if !postgres.ValidID(id) {
		return ErrNotFound
	}
	return r.execOne(ctx, `UPDATE members SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

// AddIssuedBookRef appends issueID to the member's active set once.
func (r *PostgresRepo) AddIssuedBookRef(ctx context.Context, memberID, issueID string) error {
	const query = `
		UPDATE members SET
			issued_books = CASE WHEN $2 = ANY(issued_books) THEN issued_books ELSE array_append(issued_books, $2) END,
			updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, query, memberID, issueID)
}

// RemoveIssuedBookRef drops issueID from the active set. Removing an absent
// ref is not an error.
func (r *PostgresRepo) RemoveIssuedBookRef(ctx context.Context, memberID, issueID string) error {
	const query = `
		UPDATE members SET issued_books = array_remove(issued_books, $2), updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, query, memberID, issueID)
}

func (r *PostgresRepo) AdjustFineBalance(ctx context.Context, memberID string, delta int64) error {
	const query = `
		UPDATE members SET total_fine_due = total_fine_due + $2, updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, query, memberID, delta)
}

// ResetLedger overwrites the cached circulation fields.
func (r *PostgresRepo) ResetLedger(ctx context.Context, memberID string, issued []string, fineDue int64) error {
	if issued == nil {
		issued = []string{}
	}
	const query = `
		UPDATE members SET issued_books = $2, total_fine_due = $3, updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, query, memberID, issued, fineDue)
}

// LockAll reads every member and locks the rows until the surrounding
// transaction ends.
func (r *PostgresRepo) LockAll(ctx context.Context) ([]Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members ORDER BY id FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) execOne(ctx context.Context, query string, args ...any) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, args...)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
