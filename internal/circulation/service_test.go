package circulation_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"libraryapi/internal/apperr"
	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/member"
	"libraryapi/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	mem   *store.Memory
	svc   *circulation.Service
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(store.WithClock(clock.Now))
	svc := circulation.NewService(mem, mem.Issues(), circulation.WithClock(clock.Now))
	return &fixture{t: t, mem: mem, svc: svc, clock: clock}
}

func (f *fixture) member(email, role string) member.Member {
	f.t.Helper()
	mb := member.Member{Name: email, Email: email, Role: role}
	require.NoError(f.t, f.mem.Members().Create(context.Background(), &mb))
	return mb
}

func (f *fixture) student(email string) member.Member {
	return f.member(email, member.RoleStudent)
}

func (f *fixture) book(title string, copies int) book.Book {
	f.t.Helper()
	b := book.Book{Title: title, Author: "Author", Category: book.CategoryOther, TotalCopies: copies, AvailableCopies: copies}
	require.NoError(f.t, f.mem.Books().Create(context.Background(), &b))
	return b
}

func (f *fixture) getBook(id string) book.Book {
	f.t.Helper()
	b, err := f.mem.Books().GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) getMember(id string) member.Member {
	f.t.Helper()
	mb, err := f.mem.Members().GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return mb
}

func (f *fixture) issue(email, bookID string) circulation.Issue {
	f.t.Helper()
	is, err := f.svc.IssueBook(context.Background(), email, bookID)
	require.NoError(f.t, err)
	return is
}

func TestIssueBook_LastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s1 := f.student("s1@lib.test")
	f.student("s2@lib.test")
	b := f.book("Gitanjali", 1)

	is, err := f.svc.IssueBook(ctx, "s1@lib.test", b.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusIssued, is.Status)
	assert.Equal(t, circulation.FineUnpaid, is.FineStatus)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 14), is.ExpectedReturnDate)
	assert.Nil(t, is.ActualReturnDate)

	_, err = f.svc.IssueBook(ctx, "s2@lib.test", b.ID)
	assert.ErrorIs(t, err, book.ErrOutOfStock)

	got := f.getBook(b.ID)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, 1, got.BorrowCount)
	assert.Equal(t, []string{is.ID}, f.getMember(s1.ID).IssuedBooks)
}

func TestIssueBook_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.student("student@lib.test")
	f.member("admin@lib.test", member.RoleAdmin)
	b := f.book("Wings of Fire", 2)

	tests := []struct {
		name    string
		email   string
		bookID  string
		wantErr error
	}{
		{"missing email", "", b.ID, circulation.ErrMissingFields},
		{"missing book", "student@lib.test", " ", circulation.ErrMissingFields},
		{"unknown member", "nobody@lib.test", b.ID, circulation.ErrStudentNotFound},
		{"admin cannot borrow", "admin@lib.test", b.ID, circulation.ErrStudentNotFound},
		{"unknown book", "student@lib.test", "no-such-book", book.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssueBook(context.Background(), tt.email, tt.bookID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 2, f.getBook(b.ID).AvailableCopies)
}

func TestIssueBook_EmailIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	s := f.student("Reader@Lib.test")
	b := f.book("Godan", 1)

	is := f.issue("  READER@lib.TEST ", b.ID)
	assert.Equal(t, s.ID, is.MemberID)
}

func TestIssueBook_LoanLimit(t *testing.T) {
	f := newFixture(t)
	s := f.student("s@lib.test")
	for i := range circulation.MaxActiveLoans {
		f.issue("s@lib.test", f.book(fmt.Sprintf("Book %d", i), 1).ID)
	}
	fourth := f.book("Fourth", 1)

	_, err := f.svc.IssueBook(context.Background(), "s@lib.test", fourth.ID)
	assert.ErrorIs(t, err, circulation.ErrLoanLimit)
	assert.ErrorIs(t, err, apperr.ErrLimitExceeded)

	got := f.getBook(fourth.ID)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 0, got.BorrowCount)
	assert.Len(t, f.getMember(s.ID).IssuedBooks, circulation.MaxActiveLoans)
}

func TestIssueBook_OutOfStockCheckedBeforeLimit(t *testing.T) {
	f := newFixture(t)
	f.student("s@lib.test")
	f.student("other@lib.test")
	for i := range circulation.MaxActiveLoans {
		f.issue("s@lib.test", f.book(fmt.Sprintf("Book %d", i), 1).ID)
	}
	gone := f.book("Gone", 1)
	f.issue("other@lib.test", gone.ID)

	_, err := f.svc.IssueBook(context.Background(), "s@lib.test", gone.ID)
	assert.ErrorIs(t, err, book.ErrOutOfStock)
}

func TestIssueBook_AlreadyHoldsTitle(t *testing.T) {
	f := newFixture(t)
	f.student("s@lib.test")
	b := f.book("Malgudi Days", 2)
	f.issue("s@lib.test", b.ID)

	_, err := f.svc.IssueBook(context.Background(), "s@lib.test", b.ID)
	assert.ErrorIs(t, err, circulation.ErrAlreadyHolds)
	assert.Equal(t, 1, f.getBook(b.ID).AvailableCopies)
}

func TestReturnBook_OnTime(t *testing.T) {
	f := newFixture(t)
	s := f.student("s@lib.test")
	b := f.book("Train to Pakistan", 1)
	is := f.issue("s@lib.test", b.ID)

	f.clock.Advance(14 * 24 * time.Hour)
	returned, err := f.svc.ReturnBook(context.Background(), is.ID)
	require.NoError(t, err)

	assert.Equal(t, circulation.StatusReturned, returned.Status)
	assert.Equal(t, 0, returned.LateDays)
	assert.Equal(t, int64(0), returned.FineAmount)
	assert.Equal(t, circulation.FinePaid, returned.FineStatus)
	require.NotNil(t, returned.ActualReturnDate)
	assert.Equal(t, f.clock.Now(), *returned.ActualReturnDate)

	got := f.getBook(b.ID)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 1, got.BorrowCount)
	mb := f.getMember(s.ID)
	assert.Empty(t, mb.IssuedBooks)
	assert.Equal(t, int64(0), mb.TotalFineDue)
}

func TestReturnBook_AlreadyReturned(t *testing.T) {
	f := newFixture(t)
	f.student("s@lib.test")
	b := f.book("Train to Pakistan", 1)
	is := f.issue("s@lib.test", b.ID)
	first, err := f.svc.ReturnBook(context.Background(), is.ID)
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)
	_, err = f.svc.ReturnBook(context.Background(), is.ID)
	assert.ErrorIs(t, err, circulation.ErrIssueNotFound)

	page, err := f.svc.History(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first, page.Items[0].Issue)
	assert.Equal(t, 1, f.getBook(b.ID).AvailableCopies)
}

func TestReturnBook_UnknownIssue(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReturnBook(context.Background(), "missing")
	assert.ErrorIs(t, err, circulation.ErrIssueNotFound)
}

func TestPayFine_ZeroFine(t *testing.T) {
	f := newFixture(t)
	f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Nirmala", 1).ID)
	_, err := f.svc.ReturnBook(context.Background(), is.ID)
	require.NoError(t, err)

	_, err = f.svc.PayFine(context.Background(), is.ID)
	assert.ErrorIs(t, err, circulation.ErrNoFine)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.PayFine(context.Background(), "missing")
	assert.ErrorIs(t, err, circulation.ErrNoFine)
}

func TestLateReturnAndPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Kamayani", 1).ID)

	f.clock.Advance(14*24*time.Hour + 5*24*time.Hour + 3*time.Hour)
	returned, err := f.svc.ReturnBook(ctx, is.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, returned.LateDays)
	assert.Equal(t, int64(60), returned.FineAmount)
	assert.Equal(t, circulation.FineUnpaid, returned.FineStatus)
	assert.Equal(t, int64(60), f.getMember(s.ID).TotalFineDue)

	st, err := f.svc.Fines(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), st.TotalFineDue)
	require.Len(t, st.Fines, 1)
	assert.Equal(t, is.ID, st.Fines[0].ID)
	assert.Equal(t, "Kamayani", st.Fines[0].BookTitle)

	paid, err := f.svc.PayFine(ctx, is.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.FinePaid, paid.FineStatus)
	assert.Equal(t, int64(60), paid.FineAmount)
	assert.Equal(t, int64(0), f.getMember(s.ID).TotalFineDue)

	_, err = f.svc.PayFine(ctx, is.ID)
	assert.ErrorIs(t, err, circulation.ErrFineAlreadyPaid)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, int64(0), f.getMember(s.ID).TotalFineDue)

	st, err = f.svc.Fines(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, st.Fines)
}

func TestLateIssues_OrderedByDueDate(t *testing.T) {
	f := newFixture(t)
	var want []string
	for i := range 3 {
		email := fmt.Sprintf("s%d@lib.test", i)
		f.student(email)
		want = append(want, f.issue(email, f.book(fmt.Sprintf("Book %d", i), 1).ID).ID)
		f.clock.Advance(24 * time.Hour)
	}
	// now = first issue + 20 days
	f.clock.Advance(17 * 24 * time.Hour)
	f.student("fresh@lib.test")
	f.issue("fresh@lib.test", f.book("Fresh", 1).ID)

	late, err := f.svc.LateIssues(context.Background())
	require.NoError(t, err)

	require.Len(t, late, 3)
	for i, d := range late {
		assert.Equal(t, want[i], d.ID)
		assert.Equal(t, 6-i, d.DaysOverdue)
		assert.NotEmpty(t, d.MemberEmail)
	}
}

func TestActiveIssuesAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	f.student("t@lib.test")
	a := f.issue("s@lib.test", f.book("A", 1).ID)
	f.clock.Advance(time.Hour)
	f.issue("s@lib.test", f.book("B", 1).ID)
	f.issue("t@lib.test", f.book("C", 1).ID)
	_, err := f.svc.ReturnBook(ctx, a.ID)
	require.NoError(t, err)

	all, err := f.svc.ActiveIssues(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ActiveIssues(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "B", mine[0].BookTitle)
	assert.Equal(t, "s@lib.test", mine[0].MemberEmail)

	sum, err := f.svc.MemberSummary(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.MemberSummary{IssuedCount: 1, ReturnedCount: 1}, sum)

	_, err = f.svc.MemberSummary(ctx, "missing")
	assert.ErrorIs(t, err, member.ErrNotFound)

	held, err := f.svc.HasActiveLoan(ctx, s.ID, mine[0].BookID)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestHistory_Pages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	b := f.book("Loop", 1)
	var ids []string
	for range 12 {
		is := f.issue("s@lib.test", b.ID)
		ids = append(ids, is.ID)
		f.clock.Advance(time.Minute)
		_, err := f.svc.ReturnBook(ctx, is.ID)
		require.NoError(t, err)
	}

	first, err := f.svc.History(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 12, first.Total)
	assert.Equal(t, circulation.HistoryPageSize, first.PageSize)
	require.Len(t, first.Items, 10)
	assert.Equal(t, ids[11], first.Items[0].ID)

	second, err := f.svc.History(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, ids[0], second.Items[1].ID)

	beyond, err := f.svc.History(ctx, s.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.Equal(t, 12, beyond.Total)
}

func TestHistory_HugePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student("s@lib.test")
	b := f.book("Loop", 1)
	f.issue("s@lib.test", b.ID)

	var page circulation.Page
	require.NotPanics(t, func() {
		var err error
		page, err = f.svc.History(ctx, "", 1_000_000_000_000_000_000)
		require.NoError(t, err)
	})
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, math.MaxInt/circulation.HistoryPageSize, page.Page)
}

func TestDeleteBook_WithActiveLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	b := f.book("Chandrakanta", 1)
	is := f.issue("s@lib.test", b.ID)
	books := book.NewService(f.mem.Books(), nil)

	err := books.Delete(ctx, b.ID)
	assert.ErrorIs(t, err, book.ErrActiveLoans)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.ReturnBook(ctx, is.ID)
	require.NoError(t, err)
	require.NoError(t, books.Delete(ctx, b.ID))

	page, err := f.svc.History(ctx, s.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, b.ID, page.Items[0].BookID)
	assert.Empty(t, page.Items[0].BookTitle)
}

func TestIssueBook_ConcurrentLastCopy(t *testing.T) {
	f := newFixture(t)
	b := f.book("Last Copy", 1)
	const n = 8
	for i := range n {
		f.student(fmt.Sprintf("s%d@lib.test", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.IssueBook(context.Background(), fmt.Sprintf("s%d@lib.test", i), b.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, book.ErrOutOfStock)
	}
	assert.Equal(t, 1, ok)
	got := f.getBook(b.ID)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, 1, got.BorrowCount)
}

func TestIssueBook_ConcurrentAtCap(t *testing.T) {
	f := newFixture(t)
	s := f.student("s@lib.test")
	for i := range circulation.MaxActiveLoans - 1 {
		f.issue("s@lib.test", f.book(fmt.Sprintf("Held %d", i), 1).ID)
	}
	const n = 5
	books := make([]book.Book, n)
	for i := range n {
		books[i] = f.book(fmt.Sprintf("Wanted %d", i), 1)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.IssueBook(context.Background(), "s@lib.test", books[i].ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, circulation.ErrLoanLimit)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.getMember(s.ID).IssuedBooks, circulation.MaxActiveLoans)
}

func TestPayFine_Concurrent(t *testing.T) {
	f := newFixture(t)
	s := f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Late", 1).ID)
	f.clock.Advance(16 * 24 * time.Hour)
	_, err := f.svc.ReturnBook(context.Background(), is.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.PayFine(context.Background(), is.ID)
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, circulation.ErrFineAlreadyPaid) {
			conflicts++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, int64(0), f.getMember(s.ID).TotalFineDue)
}

func TestCanceledContextLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	s := f.student("s@lib.test")
	b := f.book("Never", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.IssueBook(ctx, "s@lib.test", b.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.getBook(b.ID).AvailableCopies)
	assert.Empty(t, f.getMember(s.ID).IssuedBooks)
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book("Shared", 3)
	var active []circulation.Issue
	for i := range 3 {
		email := fmt.Sprintf("s%d@lib.test", i)
		f.student(email)
		active = append(active, f.issue(email, b.ID))
	}
	f.clock.Advance(20 * 24 * time.Hour)
	_, err := f.svc.ReturnBook(ctx, active[0].ID)
	require.NoError(t, err)
	_, err = f.svc.PayFine(ctx, active[0].ID)
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, active[1].ID)
	require.NoError(t, err)

	got := f.getBook(b.ID)
	open, err := f.svc.ActiveIssues(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, got.TotalCopies, got.AvailableCopies+len(open))
	assert.GreaterOrEqual(t, got.BorrowCount, 3)

	drifts, err := f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	b := f.book("Drifty", 2)
	is := f.issue("s@lib.test", b.ID)

	require.NoError(t, f.mem.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		if err := tx.Books.Restock(ctx, b.ID, 2, 1); err != nil {
			return err
		}
		if err := tx.Members.RemoveIssuedBookRef(ctx, s.ID, is.ID); err != nil {
			return err
		}
		return tx.Members.AdjustFineBalance(ctx, s.ID, 40)
	}))

	drifts, err := f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []circulation.Drift{
		{Entity: "book", ID: b.ID, Field: "available_copies", Cached: "2", Actual: "1"},
		{Entity: "member", ID: s.ID, Field: "issued_books", Cached: "", Actual: is.ID},
		{Entity: "member", ID: s.ID, Field: "total_fine_due", Cached: "40", Actual: "0"},
	}, drifts)
	assert.Equal(t, 2, f.getBook(b.ID).AvailableCopies)

	_, err = f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.getBook(b.ID).AvailableCopies)
	mb := f.getMember(s.ID)
	assert.Equal(t, []string{is.ID}, mb.IssuedBooks)
	assert.Equal(t, int64(0), mb.TotalFineDue)

	drifts, err = f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile_StaleIssueRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Swapped", 1).ID)

	require.NoError(t, f.mem.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		if err := tx.Members.RemoveIssuedBookRef(ctx, s.ID, is.ID); err != nil {
			return err
		}
		return tx.Members.AddIssuedBookRef(ctx, s.ID, "stale-issue")
	}))

	drifts, err := f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []circulation.Drift{
		{Entity: "member", ID: s.ID, Field: "issued_books", Cached: "stale-issue", Actual: is.ID},
	}, drifts)
	assert.True(t, f.getMember(s.ID).HasIssuedBookRef(is.ID))
}
