package store

import (
	"context"
	"sort"
	"time"

	"libraryapi/internal/circulation"
	"libraryapi/internal/member"

	"github.com/google/uuid"
)

// issueStore is the transactional view used by circulation.
type issueStore struct {
	st  *state
	now func() time.Time
}

func (s *issueStore) Create(_ context.Context, is *circulation.Issue) error {
	is.ID = uuid.NewString()
	is.CreatedAt = is.IssueDate
	is.UpdatedAt = is.IssueDate
	s.st.issues[is.ID] = *is
	return nil
}

func (s *issueStore) GetForUpdate(_ context.Context, id string) (circulation.Issue, error) {
	is, ok := s.st.issues[id]
	if !ok {
		return circulation.Issue{}, circulation.ErrIssueNotFound
	}
	return is, nil
}

func (s *issueStore) Update(_ context.Context, is *circulation.Issue) error {
	cur, ok := s.st.issues[is.ID]
	if !ok {
		return circulation.ErrIssueNotFound
	}
	cur.ActualReturnDate = is.ActualReturnDate
	cur.Status = is.Status
	cur.LateDays = is.LateDays
	cur.FineAmount = is.FineAmount
	cur.FineStatus = is.FineStatus
	cur.UpdatedAt = s.now()
	s.st.issues[is.ID] = cur
	is.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *issueStore) CountActiveByMember(_ context.Context, memberID string) (int, error) {
	n := 0
	for _, is := range s.st.issues {
		if is.MemberID == memberID && is.Active() {
			n++
		}
	}
	return n, nil
}

func (s *issueStore) HasActive(_ context.Context, memberID, bookID string) (bool, error) {
	return hasActive(s.st, memberID, bookID), nil
}

func (s *issueStore) ListAll(_ context.Context) ([]circulation.Issue, error) {
	out := make([]circulation.Issue, 0, len(s.st.issues))
	for _, is := range s.st.issues {
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func hasActive(st *state, memberID, bookID string) bool {
	for _, is := range st.issues {
		if is.MemberID == memberID && is.BookID == bookID && is.Active() {
			return true
		}
	}
	return false
}

// IssueReader implements circulation.Reader.
type IssueReader struct {
	m *Memory
}

var _ circulation.Reader = (*IssueReader)(nil)

func (r *IssueReader) details(keep func(circulation.Issue) bool) []circulation.Detail {
	out := []circulation.Detail{}
	for _, is := range r.m.st.issues {
		if !keep(is) {
			continue
		}
		d := circulation.Detail{Issue: is}
		if mb, ok := r.m.st.members[is.MemberID]; ok {
			d.MemberName = mb.Name
			d.MemberEmail = mb.Email
		}
		if b, ok := r.m.st.books[is.BookID]; ok {
			d.BookTitle = b.Title
			d.BookAuthor = b.Author
			d.BookCover = b.CoverImage
		}
		out = append(out, d)
	}
	return out
}

func byDueDate(ds []circulation.Detail) {
	sort.Slice(ds, func(i, j int) bool {
		a, b := ds[i].ExpectedReturnDate, ds[j].ExpectedReturnDate
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ds[i].ID < ds[j].ID
	})
}

func (r *IssueReader) ListActive(_ context.Context, memberID string) ([]circulation.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := r.details(func(is circulation.Issue) bool {
		return is.Active() && (memberID == "" || is.MemberID == memberID)
	})
	byDueDate(out)
	return out, nil
}

func (r *IssueReader) History(_ context.Context, memberID string, limit, offset int) ([]circulation.Detail, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	all := r.details(func(is circulation.Issue) bool {
		return memberID == "" || is.MemberID == memberID
	})
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].CreatedAt, all[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	if offset < 0 || offset >= total {
		return []circulation.Detail{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *IssueReader) ListLate(_ context.Context, now time.Time) ([]circulation.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := r.details(func(is circulation.Issue) bool { return late(is, now) })
	byDueDate(out)
	return out, nil
}

func late(is circulation.Issue, now time.Time) bool {
	return is.Active() && is.ExpectedReturnDate.Before(now) && is.FineStatus == circulation.FineUnpaid
}

func (r *IssueReader) ListUnpaidFines(_ context.Context, memberID string) ([]circulation.Detail, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := r.details(func(is circulation.Issue) bool {
		return is.MemberID == memberID && is.FineAmount > 0 && is.FineStatus == circulation.FineUnpaid
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ActualReturnDate, out[j].ActualReturnDate
		if a != nil && b != nil && !a.Equal(*b) {
			return a.After(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *IssueReader) MemberSummary(_ context.Context, memberID string) (circulation.MemberSummary, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	mb, ok := r.m.st.members[memberID]
	if !ok {
		return circulation.MemberSummary{}, member.ErrNotFound
	}
	s := circulation.MemberSummary{TotalFineDue: mb.TotalFineDue}
	for _, is := range r.m.st.issues {
		if is.MemberID != memberID {
			continue
		}
		switch is.Status {
		case circulation.StatusIssued:
			s.IssuedCount++
		case circulation.StatusReturned:
			s.ReturnedCount++
		}
	}
	return s, nil
}

func (r *IssueReader) HasActive(_ context.Context, memberID, bookID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return hasActive(r.m.st, memberID, bookID), nil
}
