package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/member"
	"libraryapi/internal/report"
	"libraryapi/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	mem   *store.Memory
	svc   *services
	now   time.Time
	clock func() time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	e.clock = func() time.Time { return e.now }
	e.mem = store.NewMemory(store.WithClock(e.clock))
	e.svc = &services{
		circ:    circulation.NewService(e.mem, e.mem.Issues(), circulation.WithClock(e.clock)),
		reports: report.NewService(e.mem.Reports(), e.clock),
		members: member.NewService(e.mem.Members(), nil),
	}
	return e
}

func (e *env) opener() opener {
	return func(context.Context) (*services, func(), error) {
		return e.svc, func() {}, nil
	}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(e.opener(), strings.NewReader(stdin))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (e *env) lend(t *testing.T) circulation.Issue {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.members.Register(ctx, member.Registration{Name: "S", Email: "s@lib.test", Password: "secret1"})
	require.NoError(t, err)
	b := book.Book{Title: "Anandmath", Author: "Bankim", Category: book.CategoryHistorical, TotalCopies: 2, AvailableCopies: 2}
	require.NoError(t, e.mem.Books().Create(ctx, &b))
	is, err := e.svc.circ.IssueBook(ctx, "s@lib.test", b.ID)
	require.NoError(t, err)
	return is
}

func TestCreateAdmin(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "admin123\n", "create-admin", "--name", "Root", "--email", "Root@Lib.test")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin root@lib.test")

	m, err := e.svc.members.FindByEmail(context.Background(), "root@lib.test")
	require.NoError(t, err)
	assert.Equal(t, member.RoleAdmin, m.Role)

	_, err = e.run(t, "admin123\n", "create-admin", "--name", "Root", "--email", "root@lib.test")
	assert.ErrorIs(t, err, member.ErrAlreadyExists)

	_, err = e.run(t, "x\n", "create-admin", "--name", "Short", "--email", "short@lib.test")
	assert.ErrorIs(t, err, member.ErrPasswordTooShort)
}

func TestReconcile(t *testing.T) {
	e := newEnv(t)
	is := e.lend(t)

	out, err := e.run(t, "", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "no drift found")

	require.NoError(t, e.mem.InTx(context.Background(), func(ctx context.Context, tx circulation.Tx) error {
		return tx.Books.Restock(ctx, is.BookID, 2, 1)
	}))

	out, err = e.run(t, "", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "available_copies")
	assert.Contains(t, out, "rerun with --repair")

	out, err = e.run(t, "", "reconcile", "--repair")
	require.NoError(t, err)
	assert.Contains(t, out, "repaired 1 field(s)")

	out, err = e.run(t, "", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "no drift found")
}

func TestOverdueAndSummary(t *testing.T) {
	e := newEnv(t)
	is := e.lend(t)
	e.now = e.now.Add(17 * 24 * time.Hour)

	out, err := e.run(t, "", "overdue")
	require.NoError(t, err)
	assert.Contains(t, out, is.ID)
	assert.Contains(t, out, "Anandmath")
	assert.Contains(t, out, "2025-06-15")

	out, err = e.run(t, "", "summary")
	require.NoError(t, err)
	assert.Regexp(t, `overdue issues\s+1`, out)
	assert.Regexp(t, `students\s+1`, out)
}
