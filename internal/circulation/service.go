package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/member"
)

type Service struct {
	tx     TxRunner
	reader Reader
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock used for issue, due and return dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(tx TxRunner, reader Reader, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueBook lends one copy of bookID to the student with the given email.
// Preconditions are checked in order and the first failure is returned:
// unknown or non-student member, unknown book, no copy available, loan cap
// reached, title already held.
func (s *Service) IssueBook(ctx context.Context, email, bookID string) (Issue, error) {
	email = member.NormalizeEmail(email)
	bookID = strings.TrimSpace(bookID)
	if email == "" || bookID == "" {
		return Issue{}, ErrMissingFields
	}

	var issued Issue
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.Members.GetByEmailForUpdate(ctx, email)
		if errors.Is(err, member.ErrNotFound) {
			return ErrStudentNotFound
		}
		if err != nil {
			return fmt.Errorf("lock member: %w", err)
		}
		if !m.IsStudent() {
			return ErrStudentNotFound
		}

		b, err := tx.Books.GetForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if b.AvailableCopies <= 0 {
			return book.ErrOutOfStock
		}

		active, err := tx.Issues.CountActiveByMember(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("count active loans: %w", err)
		}
		if active >= MaxActiveLoans {
			return ErrLoanLimit
		}

		held, err := tx.Issues.HasActive(ctx, m.ID, b.ID)
		if err != nil {
			return fmt.Errorf("check held title: %w", err)
		}
		if held {
			return ErrAlreadyHolds
		}

		now := s.now()
		issued = Issue{
			MemberID:           m.ID,
			BookID:             b.ID,
			IssueDate:          now,
			ExpectedReturnDate: DueDate(now),
			Status:             StatusIssued,
			FineStatus:         FineUnpaid,
		}
		if err := tx.Issues.Create(ctx, &issued); err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
		if err := tx.Books.ReserveCopy(ctx, b.ID); err != nil {
			return err
		}
		return tx.Members.AddIssuedBookRef(ctx, m.ID, issued.ID)
	})
	if err != nil {
		return Issue{}, err
	}

	s.logger.InfoContext(ctx, "book issued",
		slog.String("issue_id", issued.ID),
		slog.String("member_id", issued.MemberID),
		slog.String("book_id", issued.BookID),
		slog.Time("due", issued.ExpectedReturnDate),
	)
	return issued, nil
}

// ReturnBook closes an active issue and charges the late fine, if any. An
// unknown issue and an already returned one both yield ErrIssueNotFound.
func (s *Service) ReturnBook(ctx context.Context, issueID string) (Issue, error) {
	var returned Issue
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		is, err := tx.Issues.GetForUpdate(ctx, issueID)
		if errors.Is(err, ErrIssueNotFound) {
			return ErrIssueNotFound
		}
		if err != nil {
			return fmt.Errorf("lock issue: %w", err)
		}
		if !is.Active() {
			return ErrIssueNotFound
		}

		if _, err := tx.Members.GetByIDForUpdate(ctx, is.MemberID); err != nil {
			return fmt.Errorf("lock member: %w", err)
		}
		bookGone := false
		if _, err := tx.Books.GetForUpdate(ctx, is.BookID); err != nil {
			if !errors.Is(err, book.ErrNotFound) {
				return fmt.Errorf("lock book: %w", err)
			}
			bookGone = true
		}

		now := s.now()
		is.ActualReturnDate = &now
		is.Status = StatusReturned
		is.LateDays, is.FineAmount = ComputeFine(is.ExpectedReturnDate, now)
		if is.FineAmount > 0 {
			is.FineStatus = FineUnpaid
		} else {
			is.FineStatus = FinePaid
		}

		if err := tx.Issues.Update(ctx, &is); err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		if !bookGone {
			if err := tx.Books.ReleaseCopy(ctx, is.BookID); err != nil {
				return err
			}
		}
		if err := tx.Members.RemoveIssuedBookRef(ctx, is.MemberID, is.ID); err != nil {
			return err
		}
		if is.FineAmount > 0 {
			if err := tx.Members.AdjustFineBalance(ctx, is.MemberID, is.FineAmount); err != nil {
				return err
			}
		}
		returned = is
		return nil
	})
	if err != nil {
		return Issue{}, err
	}

	s.logger.InfoContext(ctx, "book returned",
		slog.String("issue_id", returned.ID),
		slog.String("member_id", returned.MemberID),
		slog.Int("late_days", returned.LateDays),
		slog.Int64("fine", returned.FineAmount),
	)
	return returned, nil
}

// PayFine settles the fine of a returned issue. Paying twice fails with
// ErrFineAlreadyPaid; an issue without a fine fails with ErrNoFine.
func (s *Service) PayFine(ctx context.Context, issueID string) (Issue, error) {
	var paid Issue
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		is, err := tx.Issues.GetForUpdate(ctx, issueID)
		if errors.Is(err, ErrIssueNotFound) {
			return ErrNoFine
		}
		if err != nil {
			return fmt.Errorf("lock issue: %w", err)
		}
		if is.FineAmount <= 0 {
			return ErrNoFine
		}
		if is.FineStatus == FinePaid {
			return ErrFineAlreadyPaid
		}

		if _, err := tx.Members.GetByIDForUpdate(ctx, is.MemberID); err != nil {
			return fmt.Errorf("lock member: %w", err)
		}

		is.FineStatus = FinePaid
		if err := tx.Issues.Update(ctx, &is); err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		if err := tx.Members.AdjustFineBalance(ctx, is.MemberID, -is.FineAmount); err != nil {
			return err
		}
		paid = is
		return nil
	})
	if err != nil {
		return Issue{}, err
	}

	s.logger.InfoContext(ctx, "fine paid",
		slog.String("issue_id", paid.ID),
		slog.String("member_id", paid.MemberID),
		slog.Int64("amount", paid.FineAmount),
	)
	return paid, nil
}

// ActiveIssues lists current loans, for one member or everyone when
// memberID is empty.
func (s *Service) ActiveIssues(ctx context.Context, memberID string) ([]Detail, error) {
	return s.reader.ListActive(ctx, memberID)
}

// History returns one page of issues, newest first. Pages start at 1.
func (s *Service) History(ctx context.Context, memberID string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / HistoryPageSize; page > maxPage {
		page = maxPage
	}
	items, total, err := s.reader.History(ctx, memberID, HistoryPageSize, (page-1)*HistoryPageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: page, PageSize: HistoryPageSize}, nil
}

// LateIssues lists active loans past their due date with an unpaid fine
// status, oldest due date first.
func (s *Service) LateIssues(ctx context.Context) ([]Detail, error) {
	now := s.now()
	items, err := s.reader.ListLate(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].DaysOverdue, _ = ComputeFine(items[i].ExpectedReturnDate, now)
	}
	return items, nil
}

func (s *Service) Fines(ctx context.Context, memberID string) (FineStatement, error) {
	fines, err := s.reader.ListUnpaidFines(ctx, memberID)
	if err != nil {
		return FineStatement{}, err
	}
	sum, err := s.reader.MemberSummary(ctx, memberID)
	if err != nil {
		return FineStatement{}, err
	}
	return FineStatement{TotalFineDue: sum.TotalFineDue, Fines: fines}, nil
}

func (s *Service) MemberSummary(ctx context.Context, memberID string) (MemberSummary, error) {
	return s.reader.MemberSummary(ctx, memberID)
}

// HasActiveLoan reports whether memberID currently holds a copy of bookID.
func (s *Service) HasActiveLoan(ctx context.Context, memberID, bookID string) (bool, error) {
	return s.reader.HasActive(ctx, memberID, bookID)
}

// Reconcile recomputes every cached counter from the issue records and
// reports where they disagree. With repair set the cached values are
// rewritten in the same transaction.
func (s *Service) Reconcile(ctx context.Context, repair bool) ([]Drift, error) {
	var drifts []Drift
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		members, err := tx.Members.LockAll(ctx)
		if err != nil {
			return fmt.Errorf("lock members: %w", err)
		}
		books, err := tx.Books.LockAll(ctx)
		if err != nil {
			return fmt.Errorf("lock books: %w", err)
		}
		issues, err := tx.Issues.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list issues: %w", err)
		}

		activeByBook := map[string]int{}
		loansByBook := map[string]int{}
		activeByMember := map[string][]string{}
		fineByMember := map[string]int64{}
		for _, is := range issues {
			loansByBook[is.BookID]++
			if is.Active() {
				activeByBook[is.BookID]++
				activeByMember[is.MemberID] = append(activeByMember[is.MemberID], is.ID)
			}
			if is.FineAmount > 0 && is.FineStatus == FineUnpaid {
				fineByMember[is.MemberID] += is.FineAmount
			}
		}

		for _, b := range books {
			wantAvailable := max(b.TotalCopies-activeByBook[b.ID], 0)
			wantBorrow := max(b.BorrowCount, loansByBook[b.ID])
			if wantAvailable == b.AvailableCopies && wantBorrow == b.BorrowCount {
				continue
			}
			if wantAvailable != b.AvailableCopies {
				drifts = append(drifts, Drift{Entity: "book", ID: b.ID, Field: "available_copies",
					Cached: strconv.Itoa(b.AvailableCopies), Actual: strconv.Itoa(wantAvailable)})
			}
			if wantBorrow != b.BorrowCount {
				drifts = append(drifts, Drift{Entity: "book", ID: b.ID, Field: "borrow_count",
					Cached: strconv.Itoa(b.BorrowCount), Actual: strconv.Itoa(wantBorrow)})
			}
			if repair {
				if err := tx.Books.Restock(ctx, b.ID, wantAvailable, wantBorrow); err != nil {
					return err
				}
			}
		}

		for _, m := range members {
			wantIssued := activeByMember[m.ID]
			wantFine := fineByMember[m.ID]
			sameSet := holdsExactly(m, wantIssued)
			if sameSet && wantFine == m.TotalFineDue {
				continue
			}
			if !sameSet {
				drifts = append(drifts, Drift{Entity: "member", ID: m.ID, Field: "issued_books",
					Cached: strings.Join(m.IssuedBooks, ","), Actual: strings.Join(wantIssued, ",")})
			}
			if wantFine != m.TotalFineDue {
				drifts = append(drifts, Drift{Entity: "member", ID: m.ID, Field: "total_fine_due",
					Cached: strconv.FormatInt(m.TotalFineDue, 10), Actual: strconv.FormatInt(wantFine, 10)})
			}
			if repair {
				if err := tx.Members.ResetLedger(ctx, m.ID, wantIssued, wantFine); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(drifts) > 0 {
		s.logger.WarnContext(ctx, "circulation counters drifted",
			slog.Int("drifts", len(drifts)),
			slog.Bool("repaired", repair),
		)
	}
	return drifts, nil
}

// holdsExactly reports whether m's active set is the issue ids in want.
func holdsExactly(m member.Member, want []string) bool {
	if len(m.IssuedBooks) != len(want) {
		return false
	}
	for _, id := range want {
		if !m.HasIssuedBookRef(id) {
			return false
		}
	}
	return true
}
