package store

import (
	"context"
	"slices"
	"sort"
	"time"

	"libraryapi/internal/member"

	"github.com/google/uuid"
)

// MemberRepo implements member.Repository.
type MemberRepo struct {
	m *Memory
}

var _ member.Repository = (*MemberRepo)(nil)

func findByEmail(st *state, email string) (member.Member, bool) {
	email = member.NormalizeEmail(email)
	for _, mb := range st.members {
		if mb.Email == email {
			return mb, true
		}
	}
	return member.Member{}, false
}

func (r *MemberRepo) Create(_ context.Context, mb *member.Member) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, taken := findByEmail(r.m.st, mb.Email); taken {
		return member.ErrAlreadyExists
	}
	now := r.m.now()
	mb.ID = uuid.NewString()
	mb.Email = member.NormalizeEmail(mb.Email)
	mb.IssuedBooks = []string{}
	mb.TotalFineDue = 0
	mb.CreatedAt = now
	mb.UpdatedAt = now
	r.m.st.members[mb.ID] = cloneMember(*mb)
	return nil
}

func (r *MemberRepo) GetByEmail(_ context.Context, email string) (member.Member, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	mb, ok := findByEmail(r.m.st, email)
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return cloneMember(mb), nil
}

func (r *MemberRepo) GetByID(_ context.Context, id string) (member.Member, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	mb, ok := r.m.st.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return cloneMember(mb), nil
}

func (r *MemberRepo) UpdateProfile(_ context.Context, id string, p member.Profile) (member.Member, error) {
	return r.update(id, func(mb *member.Member) {
		if p.Name != nil {
			mb.Name = *p.Name
		}
		if p.Phone != nil {
			mb.Phone = *p.Phone
		}
		if p.About != nil {
			mb.About = *p.About
		}
	})
}

func (r *MemberRepo) SetProfileImage(_ context.Context, id string, url string) (member.Member, error) {
	return r.update(id, func(mb *member.Member) { mb.ProfileImage = url })
}

func (r *MemberRepo) SetPasswordHash(_ context.Context, id string, hash string) error {
	_, err := r.update(id, func(mb *member.Member) { mb.PasswordHash = hash })
	return err
}

func (r *MemberRepo) update(id string, apply func(*member.Member)) (member.Member, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	mb, ok := r.m.st.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	apply(&mb)
	mb.UpdatedAt = r.m.now()
	r.m.st.members[id] = mb
	return cloneMember(mb), nil
}

// memberLedger is the transactional view used by circulation.
type memberLedger struct {
	st  *state
	now func() time.Time
}

func (l *memberLedger) GetByEmailForUpdate(_ context.Context, email string) (member.Member, error) {
	mb, ok := findByEmail(l.st, email)
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return cloneMember(mb), nil
}

func (l *memberLedger) GetByIDForUpdate(_ context.Context, id string) (member.Member, error) {
	mb, ok := l.st.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return cloneMember(mb), nil
}

func (l *memberLedger) modify(id string, apply func(*member.Member)) error {
	mb, ok := l.st.members[id]
	if !ok {
		return member.ErrNotFound
	}
	apply(&mb)
	mb.UpdatedAt = l.now()
	l.st.members[id] = mb
	return nil
}

func (l *memberLedger) AddIssuedBookRef(_ context.Context, memberID, issueID string) error {
	return l.modify(memberID, func(mb *member.Member) {
		if !slices.Contains(mb.IssuedBooks, issueID) {
			mb.IssuedBooks = append(mb.IssuedBooks, issueID)
		}
	})
}

func (l *memberLedger) RemoveIssuedBookRef(_ context.Context, memberID, issueID string) error {
	return l.modify(memberID, func(mb *member.Member) {
		mb.IssuedBooks = slices.DeleteFunc(mb.IssuedBooks, func(id string) bool { return id == issueID })
	})
}

func (l *memberLedger) AdjustFineBalance(_ context.Context, memberID string, delta int64) error {
	return l.modify(memberID, func(mb *member.Member) { mb.TotalFineDue += delta })
}

func (l *memberLedger) ResetLedger(_ context.Context, memberID string, issued []string, fineDue int64) error {
	return l.modify(memberID, func(mb *member.Member) {
		mb.IssuedBooks = slices.Clone(issued)
		if mb.IssuedBooks == nil {
			mb.IssuedBooks = []string{}
		}
		mb.TotalFineDue = fineDue
	})
}

func (l *memberLedger) LockAll(_ context.Context) ([]member.Member, error) {
	out := make([]member.Member, 0, len(l.st.members))
	for _, mb := range l.st.members {
		out = append(out, cloneMember(mb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
