package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) CountMembersByRole(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *mockSource) CountBooks(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockSource) CountActiveIssues(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockSource) CountLateIssues(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockSource) MonthlyBooks(ctx context.Context) ([]MonthCount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]MonthCount), args.Error(1)
}

func (m *mockSource) MonthlyIssues(ctx context.Context) ([]MonthCount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]MonthCount), args.Error(1)
}

func TestService_Summary(t *testing.T) {
	now := time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)
	src := new(mockSource)
	src.On("CountMembersByRole", mock.Anything).Return(map[string]int{"STUDENT": 42, "ADMIN": 2}, nil)
	src.On("CountBooks", mock.Anything).Return(120, nil)
	src.On("CountActiveIssues", mock.Anything).Return(17, nil)
	src.On("CountLateIssues", mock.Anything, now).Return(3, nil)

	svc := NewService(src, func() time.Time { return now })
	sum, err := svc.Summary(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Students: 42, Admins: 2, Books: 120, ActiveIssues: 17, OverdueIssues: 3}, sum)
	src.AssertExpectations(t)
}

func TestService_Summary_StorageError(t *testing.T) {
	src := new(mockSource)
	src.On("CountMembersByRole", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewService(src, nil).Summary(context.Background())
	assert.ErrorContains(t, err, "count members")
}

func TestService_Growth(t *testing.T) {
	src := new(mockSource)
	src.On("MonthlyBooks", mock.Anything).Return([]MonthCount{{Year: 2024, Month: 12, Count: 4}, {Year: 2025, Month: 1, Count: 2}}, nil)
	src.On("MonthlyIssues", mock.Anything).Return(nil, nil)

	g, err := NewService(src, nil).Growth(context.Background())
	require.NoError(t, err)
	assert.Len(t, g.Books, 2)
	assert.Equal(t, 2024, g.Books[0].Year)
	assert.NotNil(t, g.Issues)
	assert.Empty(t, g.Issues)
}

func TestHTTPHandler_Summary(t *testing.T) {
	src := new(mockSource)
	src.On("CountMembersByRole", mock.Anything).Return(map[string]int{"STUDENT": 1}, nil)
	src.On("CountBooks", mock.Anything).Return(5, nil)
	src.On("CountActiveIssues", mock.Anything).Return(1, nil)
	src.On("CountLateIssues", mock.Anything, mock.Anything).Return(0, nil)

	h := NewHTTPHandler(NewService(src, nil), nil)
	w := httptest.NewRecorder()
	h.Summary(w, httptest.NewRequest(http.MethodGet, "/v1/dashboard/summary", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"books":5`)
	assert.Contains(t, w.Body.String(), `"overdue_issues":0`)
}
