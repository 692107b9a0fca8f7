package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libraryapi/internal/platform/postgres"

	"github.com/jackc/pgx/v5"
)

const bookColumns = `id, title, author, category, description, cover_image,
	total_copies, available_copies, borrow_count, created_at, updated_at`

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

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Category, &b.Description, &b.CoverImage,
		&b.TotalCopies, &b.AvailableCopies, &b.BorrowCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, err
	}
	return b, nil
}

func (r *PostgresRepo) Create(ctx context.Context, b *Book) error {
	const query = `
		INSERT INTO books (title, author, category, description, cover_image, total_copies, available_copies)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, borrow_count, created_at, updated_at`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	err := r.db.QueryRow(timeoutCtx, query,
		b.Title, b.Author, b.Category, b.Description, b.CoverImage, b.TotalCopies, b.AvailableCopies,
	).Scan(&b.ID, &b.BorrowCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Book, error) {
	if !postgres.ValidID(id) {
		return Book{}, ErrNotFound
	}
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanBook(r.db.QueryRow(timeoutCtx, query, id))
}

// GetForUpdate reads a book and locks its row until the surrounding
// transaction ends.
func (r *PostgresRepo) GetForUpdate(ctx context.Context, id string) (Book, error) {
	if !postgres.ValidID(id) {
		return Book{}, ErrNotFound
	}
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1 FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanBook(r.db.QueryRow(timeoutCtx, query, id))
}

// UpdateDetails writes the descriptive fields and, when newTotal is set, the
// new total with the available count shifted by the same delta, in one
// statement. b is refreshed from the stored row.
func (r *PostgresRepo) UpdateDetails(ctx context.Context, b *Book, newTotal *int) error {
	if !postgres.ValidID(b.ID) {
		return ErrNotFound
	}
	query := `
		UPDATE books SET
			title = $2,
			author = $3,
			category = $4,
			description = $5,
			cover_image = $6,
			available_copies = GREATEST(available_copies + (COALESCE($7::int, total_copies) - total_copies), 0),
			total_copies = COALESCE($7::int, total_copies),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + bookColumns

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	got, err := scanBook(r.db.QueryRow(timeoutCtx, query,
		b.ID, b.Title, b.Author, b.Category, b.Description, b.CoverImage, newTotal,
	))
	if err != nil {
		return err
	}
	*b = got
	return nil
}

func (r *PostgresRepo) AdjustTotalCopies(ctx context.Context, id string, newTotal int) (Book, error) {
	if !postgres.ValidID(id) {
		return Book{}, ErrNotFound
	}
	query := `
		UPDATE books SET
			available_copies = GREATEST(available_copies + ($2 - total_copies), 0),
			total_copies = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + bookColumns

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanBook(r.db.QueryRow(timeoutCtx, query, id, newTotal))
}

func (r *PostgresRepo) SetStock(ctx context.Context, id string, total, available int) (Book, error) {
	if !postgres.ValidID(id) {
		return Book{}, ErrNotFound
	}
	query := `
		UPDATE books SET total_copies = $2, available_copies = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + bookColumns

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return scanBook(r.db.QueryRow(timeoutCtx, query, id, total, available))
}

// ReserveCopy takes one copy off the shelf and counts the loan.
func (r *PostgresRepo) ReserveCopy(ctx context.Context, id string) error {
	const query = `
		UPDATE books SET
			available_copies = available_copies - 1,
			borrow_count = borrow_count + 1,
			updated_at = now()
		WHERE id = $1 AND available_copies > 0`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id)
	if err != nil {
		return fmt.Errorf("reserve copy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, ErrOutOfStock)
	}
	return nil
}

// ReleaseCopy puts one copy back, never above the total.
func (r *PostgresRepo) ReleaseCopy(ctx context.Context, id string) error {
	const query = `
		UPDATE books SET
			available_copies = LEAST(available_copies + 1, total_copies),
			updated_at = now()
		WHERE id = $1`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id)
	if err != nil {
		return fmt.Errorf("release copy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Restock rewrites the cached counters from a reconciliation pass.
func (r *PostgresRepo) Restock(ctx context.Context, id string, available, borrowCount int) error {
	const query = `
		UPDATE books SET available_copies = $2, borrow_count = $3, updated_at = now()
		WHERE id = $1`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, id, available, borrowCount)
	if err != nil {
		return fmt.Errorf("restock book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete locks the row first so a concurrent issue either commits before the
// active-loan check or waits for the delete.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	if !postgres.ValidID(id) {
		return ErrNotFound
	}
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		txRepo := r.WithTx(tx)
		if _, err := txRepo.GetForUpdate(ctx, id); err != nil {
			return err
		}

		timeoutCtx, cancel := r.withTimeout(ctx)
		defer cancel()
		var active bool
		const activeSQL = `SELECT EXISTS(SELECT 1 FROM issues WHERE book_id = $1 AND status = 'ISSUED')`
		if err := tx.QueryRow(timeoutCtx, activeSQL, id).Scan(&active); err != nil {
			return fmt.Errorf("check active loans: %w", err)
		}
		if active {
			return ErrActiveLoans
		}
		if _, err := tx.Exec(timeoutCtx, `DELETE FROM books WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) Popular(ctx context.Context, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY borrow_count DESC, created_at DESC LIMIT $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LockAll reads every book and locks the rows until the surrounding
// transaction ends.
func (r *PostgresRepo) LockAll(ctx context.Context) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY id FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) missingOr(ctx context.Context, id string, otherwise error) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var exists bool
	if err := r.db.QueryRow(timeoutCtx, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return otherwise
}
