package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"libraryapi/internal/config"
	"libraryapi/internal/member"
	"libraryapi/internal/platform/blob"
	"libraryapi/internal/store"
	"libraryapi/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routing-secret"

type testServer struct {
	handler http.Handler
	app     *app
	admin   string
	student string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		MaxBodyBytes:   1 << 20,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	media, err := blob.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	a := newApp(cfg, logger, memoryBackend(store.NewMemory()), media)
	handler, cleanup := newRouter(a)
	t.Cleanup(cleanup)

	ctx := context.Background()
	adm, err := a.members.Register(ctx, member.Registration{Name: "Admin", Email: "admin@lib.test", Password: "admin123", Role: member.RoleAdmin})
	require.NoError(t, err)
	stu, err := a.members.Register(ctx, member.Registration{Name: "Stu", Email: "stu@lib.test", Password: "stud123"})
	require.NoError(t, err)

	return &testServer{
		handler: handler,
		app:     a,
		admin:   testutil.GenerateTestToken(testSecret, adm.ID, adm.Role),
		student: testutil.GenerateTestToken(testSecret, stu.ID, stu.Role),
	}
}

func (s *testServer) do(r *http.Request) testutil.RecordResponse {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return testutil.RecordHTTPResponse(w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(testutil.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusOK, s.do(testutil.NewRequest(http.MethodGet, "/readyz", nil)).Code)
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/v1/issues/active", "", http.StatusUnauthorized},
		{"expired token", "/v1/me", testutil.GenerateExpiredToken(testSecret, "x", member.RoleAdmin), http.StatusUnauthorized},
		{"student on admin route", "/v1/issues/active", s.student, http.StatusForbidden},
		{"admin on student route", "/v1/me/issues", s.admin, http.StatusForbidden},
		{"admin on admin route", "/v1/dashboard/summary", s.admin, http.StatusOK},
		{"student on own views", "/v1/me/summary", s.student, http.StatusOK},
		{"any role on profile", "/v1/me", s.admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(testutil.NewRequestWithAuth(http.MethodGet, tt.path, nil, tt.token))
			assert.Equal(t, tt.want, res.Code)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	res := s.do(testutil.NewRequest(http.MethodPost, "/v1/auth/register", map[string]string{
		"name": "New", "email": "new@lib.test", "password": "secret1", "role": "ADMIN",
	}))
	require.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, member.RoleStudent, res.Data()["role"])
	assert.NotContains(t, res.Data(), "password_hash")

	res = s.do(testutil.NewRequest(http.MethodPost, "/v1/auth/register", map[string]string{
		"name": "Again", "email": "NEW@lib.test", "password": "secret1",
	}))
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "DUPLICATE", res.ErrorCode())

	res = s.do(testutil.NewRequest(http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "new@lib.test", "password": "secret1",
	}))
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.Data()["access_token"])
}

func TestCirculationFlow(t *testing.T) {
	s := newTestServer(t)

	res := s.do(testutil.NewRequestWithAuth(http.MethodPost, "/v1/books", map[string]any{
		"title": "Godan", "author": "Premchand", "category": "Hindi", "total_copies": 1,
	}, s.admin))
	require.Equal(t, http.StatusCreated, res.Code)
	bookID, _ := res.Data()["id"].(string)
	require.NotEmpty(t, bookID)

	res = s.do(testutil.NewRequestWithAuth(http.MethodPost, "/v1/issues", map[string]string{
		"member_email": "stu@lib.test", "book_id": bookID,
	}, s.admin))
	require.Equal(t, http.StatusCreated, res.Code)
	issueID, _ := res.Data()["id"].(string)

	res = s.do(testutil.NewRequestWithAuth(http.MethodGet, "/v1/books/"+bookID, nil, s.student))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "OUT_OF_STOCK", res.Data()["availability"])
	assert.Equal(t, true, res.Data()["already_issued"])

	res = s.do(testutil.NewRequestWithAuth(http.MethodDelete, "/v1/books/"+bookID, nil, s.admin))
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(testutil.NewRequestWithAuth(http.MethodPost, "/v1/issues/"+issueID+"/return", nil, s.admin))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "RETURNED", res.Data()["status"])

	res = s.do(testutil.NewRequestWithAuth(http.MethodPost, "/v1/issues/"+issueID+"/pay", nil, s.admin))
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "NOT_FOUND", res.ErrorCode())

	res = s.do(testutil.NewRequestWithAuth(http.MethodGet, "/v1/me/history", nil, s.student))
	require.Equal(t, http.StatusOK, res.Code)
	meta, _ := res.Body["meta"].(map[string]any)
	assert.EqualValues(t, 1, meta["total"])
}

func TestMiddlewareHeaders(t *testing.T) {
	s := newTestServer(t)

	r := testutil.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	res := s.do(r)

	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:3000", res.Header.Get("Access-Control-Allow-Origin"))
}
