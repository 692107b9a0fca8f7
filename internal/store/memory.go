package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/member"
)

// Memory is an in-process backend for every repository. A single mutex
// serializes all access; transactions run on a copy of the state that
// replaces the live one only when the transaction function succeeds.
type Memory struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type state struct {
	books   map[string]book.Book
	members map[string]member.Member
	issues  map[string]circulation.Issue
}

type Option func(*Memory)

// WithClock sets the clock used for created and updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		st: &state{
			books:   map[string]book.Book{},
			members: map[string]member.Member{},
			issues:  map[string]circulation.Issue{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (s *state) clone() *state {
	members := make(map[string]member.Member, len(s.members))
	for id, mb := range s.members {
		members[id] = cloneMember(mb)
	}
	return &state{
		books:   maps.Clone(s.books),
		members: members,
		issues:  maps.Clone(s.issues),
	}
}

func cloneMember(mb member.Member) member.Member {
	mb.IssuedBooks = slices.Clone(mb.IssuedBooks)
	if mb.IssuedBooks == nil {
		mb.IssuedBooks = []string{}
	}
	return mb
}

func (m *Memory) activeIssueForBook(st *state, bookID string) bool {
	for _, is := range st.issues {
		if is.BookID == bookID && is.Active() {
			return true
		}
	}
	return false
}

// InTx implements circulation.TxRunner.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.st.clone()
	tx := circulation.Tx{
		Books:   &bookLedger{st: work, now: m.now},
		Members: &memberLedger{st: work, now: m.now},
		Issues:  &issueStore{st: work, now: m.now},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.st = work
	return nil
}

// Books returns the catalog repository.
func (m *Memory) Books() *BookRepo { return &BookRepo{m: m} }

// Members returns the member repository.
func (m *Memory) Members() *MemberRepo { return &MemberRepo{m: m} }

// Issues returns the read side of the issue records.
func (m *Memory) Issues() *IssueReader { return &IssueReader{m: m} }

// Reports returns the dashboard source.
func (m *Memory) Reports() *ReportSource { return &ReportSource{m: m} }
