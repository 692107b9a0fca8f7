package store

import (
	"context"
	"sort"
	"time"

	"libraryapi/internal/book"

	"github.com/google/uuid"
)

// BookRepo implements book.Repository.
type BookRepo struct {
	m *Memory
}

var _ book.Repository = (*BookRepo)(nil)

func (r *BookRepo) Create(_ context.Context, b *book.Book) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	b.ID = uuid.NewString()
	b.BorrowCount = 0
	b.CreatedAt = now
	b.UpdatedAt = now
	r.m.st.books[b.ID] = *b
	return nil
}

func (r *BookRepo) GetByID(_ context.Context, id string) (book.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	b, ok := r.m.st.books[id]
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	return b, nil
}

func (r *BookRepo) UpdateDetails(_ context.Context, b *book.Book, newTotal *int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	cur, ok := r.m.st.books[b.ID]
	if !ok {
		return book.ErrNotFound
	}
	cur.Title = b.Title
	cur.Author = b.Author
	cur.Category = b.Category
	cur.Description = b.Description
	cur.CoverImage = b.CoverImage
	if newTotal != nil {
		cur.AvailableCopies = max(cur.AvailableCopies+*newTotal-cur.TotalCopies, 0)
		cur.TotalCopies = *newTotal
	}
	cur.UpdatedAt = r.m.now()
	r.m.st.books[b.ID] = cur
	*b = cur
	return nil
}

func (r *BookRepo) AdjustTotalCopies(_ context.Context, id string, newTotal int) (book.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	b, ok := r.m.st.books[id]
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	b.AvailableCopies = max(b.AvailableCopies+newTotal-b.TotalCopies, 0)
	b.TotalCopies = newTotal
	b.UpdatedAt = r.m.now()
	r.m.st.books[id] = b
	return b, nil
}

func (r *BookRepo) SetStock(_ context.Context, id string, total, available int) (book.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	b, ok := r.m.st.books[id]
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	b.TotalCopies = total
	b.AvailableCopies = available
	b.UpdatedAt = r.m.now()
	r.m.st.books[id] = b
	return b, nil
}

func (r *BookRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.st.books[id]; !ok {
		return book.ErrNotFound
	}
	if r.m.activeIssueForBook(r.m.st, id) {
		return book.ErrActiveLoans
	}
	delete(r.m.st.books, id)
	return nil
}

func (r *BookRepo) Popular(_ context.Context, limit int) ([]book.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]book.Book, 0, len(r.m.st.books))
	for _, b := range r.m.st.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BorrowCount != out[j].BorrowCount {
			return out[i].BorrowCount > out[j].BorrowCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// bookLedger is the transactional view used by circulation.
type bookLedger struct {
	st  *state
	now func() time.Time
}

func (l *bookLedger) GetForUpdate(_ context.Context, id string) (book.Book, error) {
	b, ok := l.st.books[id]
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	return b, nil
}

func (l *bookLedger) ReserveCopy(_ context.Context, id string) error {
	b, ok := l.st.books[id]
	if !ok {
		return book.ErrNotFound
	}
	if b.AvailableCopies <= 0 {
		return book.ErrOutOfStock
	}
	b.AvailableCopies--
	b.BorrowCount++
	b.UpdatedAt = l.now()
	l.st.books[id] = b
	return nil
}

func (l *bookLedger) ReleaseCopy(_ context.Context, id string) error {
	b, ok := l.st.books[id]
	if !ok {
		return book.ErrNotFound
	}
	b.AvailableCopies = min(b.AvailableCopies+1, b.TotalCopies)
	b.UpdatedAt = l.now()
	l.st.books[id] = b
	return nil
}

func (l *bookLedger) Restock(_ context.Context, id string, available, borrowCount int) error {
	b, ok := l.st.books[id]
	if !ok {
		return book.ErrNotFound
	}
	b.AvailableCopies = available
	b.BorrowCount = borrowCount
	b.UpdatedAt = l.now()
	l.st.books[id] = b
	return nil
}

func (l *bookLedger) LockAll(_ context.Context) ([]book.Book, error) {
	out := make([]book.Book, 0, len(l.st.books))
	for _, b := range l.st.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
