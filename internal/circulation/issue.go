// Package circulation owns the issue lifecycle: lending a copy, taking it
// back, charging and settling late fines. It is the only writer of a book's
// copy counters and a member's loan set and fine balance.
package circulation

import (
	"time"

	"libraryapi/internal/apperr"
)

type Status string

const (
	StatusIssued   Status = "ISSUED"
	StatusReturned Status = "RETURNED"
)

type FineStatus string

const (
	FineUnpaid FineStatus = "UNPAID"
	FinePaid   FineStatus = "PAID"
)

// Lending policy.
const (
	MaxActiveLoans  = 3
	LoanPeriodDays  = 14
	FinePerDay      = int64(10)
	HistoryPageSize = 10
)

var (
	ErrMissingFields   = apperr.New(apperr.Validation, "member email and book id are required")
	ErrStudentNotFound = apperr.New(apperr.NotFound, "no such student")
	ErrLoanLimit       = apperr.New(apperr.LimitExceeded, "max concurrent loans reached")
	ErrAlreadyHolds    = apperr.New(apperr.Duplicate, "student already holds this title")
	ErrIssueNotFound   = apperr.New(apperr.NotFound, "issue not found or already returned")
	ErrNoFine          = apperr.New(apperr.NotFound, "no fine found")
	ErrFineAlreadyPaid = apperr.New(apperr.Conflict, "fine already paid")
)

// Issue is one loan of one copy to one member.
type Issue struct {
	ID                 string     `json:"id"`
	MemberID           string     `json:"member_id"`
	BookID             string     `json:"book_id"`
	IssueDate          time.Time  `json:"issue_date"`
	ExpectedReturnDate time.Time  `json:"expected_return_date"`
	ActualReturnDate   *time.Time `json:"actual_return_date"`
	Status             Status     `json:"status"`
	LateDays           int        `json:"late_days"`
	FineAmount         int64      `json:"fine_amount"`
	FineStatus         FineStatus `json:"fine_status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (i Issue) Active() bool { return i.Status == StatusIssued }

// Detail is an issue joined with its borrower and title for display. Book
// fields are empty once the book has been deleted.
type Detail struct {
	Issue
	MemberName  string `json:"member_name"`
	MemberEmail string `json:"member_email"`
	BookTitle   string `json:"book_title"`
	BookAuthor  string `json:"book_author"`
	BookCover   string `json:"book_cover,omitempty"`
	DaysOverdue int    `json:"days_overdue,omitempty"`
}

// Page is one page of history, newest first.
type Page struct {
	Items    []Detail `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// FineStatement lists a member's unpaid fines next to the running balance.
type FineStatement struct {
	TotalFineDue int64    `json:"total_fine_due"`
	Fines        []Detail `json:"fines"`
}

type MemberSummary struct {
	IssuedCount   int   `json:"issued_count"`
	ReturnedCount int   `json:"returned_count"`
	TotalFineDue  int64 `json:"total_fine_due"`
}

// Drift is one cached counter that disagrees with the issue records.
type Drift struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Field  string `json:"field"`
	Cached string `json:"cached"`
	Actual string `json:"actual"`
}

const day = 24 * time.Hour

// ComputeFine returns the whole days, rounded up, between the due date and
// the return, and the fine owed for them.
func ComputeFine(expected, returnedAt time.Time) (lateDays int, fine int64) {
	late := returnedAt.Sub(expected)
	if late <= 0 {
		return 0, 0
	}
	lateDays = int(late / day)
	if late%day != 0 {
		lateDays++
	}
	return lateDays, int64(lateDays) * FinePerDay
}

// DueDate is the expected return date of a loan issued at issuedAt.
func DueDate(issuedAt time.Time) time.Time {
	return issuedAt.AddDate(0, 0, LoanPeriodDays)
}
