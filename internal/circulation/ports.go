package circulation

import (
	"context"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/member"
)

// BookLedger is the part of the catalog a circulation transaction may touch.
type BookLedger interface {
	GetForUpdate(ctx context.Context, id string) (book.Book, error)
	ReserveCopy(ctx context.Context, id string) error
	ReleaseCopy(ctx context.Context, id string) error
	Restock(ctx context.Context, id string, available, borrowCount int) error
	LockAll(ctx context.Context) ([]book.Book, error)
}

// MemberLedger is the part of the member directory a circulation
// transaction may touch.
type MemberLedger interface {
	GetByEmailForUpdate(ctx context.Context, email string) (member.Member, error)
	GetByIDForUpdate(ctx context.Context, id string) (member.Member, error)
	AddIssuedBookRef(ctx context.Context, memberID, issueID string) error
	RemoveIssuedBookRef(ctx context.Context, memberID, issueID string) error
	AdjustFineBalance(ctx context.Context, memberID string, delta int64) error
	ResetLedger(ctx context.Context, memberID string, issued []string, fineDue int64) error
	LockAll(ctx context.Context) ([]member.Member, error)
}

// IssueStore persists issue records inside a transaction.
type IssueStore interface {
	Create(ctx context.Context, is *Issue) error
	GetForUpdate(ctx context.Context, id string) (Issue, error)
	Update(ctx context.Context, is *Issue) error
	CountActiveByMember(ctx context.Context, memberID string) (int, error)
	HasActive(ctx context.Context, memberID, bookID string) (bool, error)
	ListAll(ctx context.Context) ([]Issue, error)
}

// Tx groups the stores bound to one transaction. Row locks must be taken in
// the order issue, member, book.
type Tx struct {
	Books   BookLedger
	Members MemberLedger
	Issues  IssueStore
}

// TxRunner runs fn in a single transaction, committing only when fn
// returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves the read-only issue projections.
type Reader interface {
	ListActive(ctx context.Context, memberID string) ([]Detail, error)
	History(ctx context.Context, memberID string, limit, offset int) ([]Detail, int, error)
	ListLate(ctx context.Context, now time.Time) ([]Detail, error)
	ListUnpaidFines(ctx context.Context, memberID string) ([]Detail, error)
	MemberSummary(ctx context.Context, memberID string) (MemberSummary, error)
	HasActive(ctx context.Context, memberID, bookID string) (bool, error)
}
