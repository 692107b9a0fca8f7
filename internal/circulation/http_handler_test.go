package circulation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"libraryapi/internal/circulation"
	"libraryapi/internal/httpx"
	"libraryapi/internal/member"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func postIssue(h *circulation.HTTPHandler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/v1/issues", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.IssueBook(w, r)
	return w
}

func TestHTTPHandler_IssueBook(t *testing.T) {
	f := newFixture(t)
	h := circulation.NewHTTPHandler(f.svc, nil)
	f.student("s@lib.test")
	b := f.book("Pinjar", 1)

	t.Run("created", func(t *testing.T) {
		w := postIssue(h, `{"member_email":"s@lib.test","book_id":"`+b.ID+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		var is circulation.Issue
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &is))
		assert.Equal(t, b.ID, is.BookID)
		assert.Equal(t, circulation.StatusIssued, is.Status)
	})

	t.Run("out of stock", func(t *testing.T) {
		f.student("t@lib.test")
		w := postIssue(h, `{"member_email":"t@lib.test","book_id":"`+b.ID+`"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "OUT_OF_STOCK", decode(t, w).Error.Code)
	})

	t.Run("unknown student", func(t *testing.T) {
		w := postIssue(h, `{"member_email":"ghost@lib.test","book_id":"`+b.ID+`"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "no such student", decode(t, w).Error.Message)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := postIssue(h, `{"member_email":"not-an-email"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		assert.Len(t, env.Error.Details, 2)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := postIssue(h, `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHTTPHandler_ReturnAndPay(t *testing.T) {
	f := newFixture(t)
	h := circulation.NewHTTPHandler(f.svc, nil)
	f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Tamas", 1).ID)
	f.clock.Advance(15 * 24 * time.Hour)

	call := func(fn http.HandlerFunc, id string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/issues/"+id, nil)
		r.SetPathValue("id", id)
		w := httptest.NewRecorder()
		fn(w, r)
		return w
	}

	w := call(h.ReturnBook, is.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fine_amount":10`)

	w = call(h.ReturnBook, is.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(h.PayFine, is.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fine_status":"PAID"`)

	w = call(h.PayFine, is.ID)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode(t, w).Error.Code)
}

func TestHTTPHandler_History(t *testing.T) {
	f := newFixture(t)
	h := circulation.NewHTTPHandler(f.svc, nil)
	s := f.student("s@lib.test")
	f.issue("s@lib.test", f.book("One", 1).ID)
	f.clock.Advance(time.Minute)
	f.issue("s@lib.test", f.book("Two", 1).ID)

	r := httptest.NewRequest(http.MethodGet, "/v1/issues/history?member_id="+s.ID+"&page=1", nil)
	w := httptest.NewRecorder()
	h.History(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.EqualValues(t, 2, env.Meta["total"])
	assert.EqualValues(t, 1, env.Meta["total_pages"])
	assert.EqualValues(t, circulation.HistoryPageSize, env.Meta["page_size"])

	var items []circulation.Detail
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "Two", items[0].BookTitle)
}

func TestHTTPHandler_MyViews(t *testing.T) {
	f := newFixture(t)
	h := circulation.NewHTTPHandler(f.svc, nil)
	s := f.student("s@lib.test")
	is := f.issue("s@lib.test", f.book("Mine", 1).ID)
	f.clock.Advance(17 * 24 * time.Hour)
	_, err := f.svc.ReturnBook(t.Context(), is.ID)
	require.NoError(t, err)

	get := func(fn http.HandlerFunc) envelope {
		r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		r = r.WithContext(httpx.ContextWithUser(r.Context(), s.ID, member.RoleStudent))
		w := httptest.NewRecorder()
		fn(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		return decode(t, w)
	}

	var st circulation.FineStatement
	require.NoError(t, json.Unmarshal(get(h.MyFines).Data, &st))
	assert.Equal(t, int64(30), st.TotalFineDue)
	assert.Len(t, st.Fines, 1)

	var sum circulation.MemberSummary
	require.NoError(t, json.Unmarshal(get(h.MySummary).Data, &sum))
	assert.Equal(t, circulation.MemberSummary{ReturnedCount: 1, TotalFineDue: 30}, sum)

	assert.EqualValues(t, 0, get(h.MyIssues).Meta["count"])
}

func TestHTTPHandler_Late(t *testing.T) {
	f := newFixture(t)
	h := circulation.NewHTTPHandler(f.svc, nil)
	f.student("s@lib.test")
	f.issue("s@lib.test", f.book("Overdue", 1).ID)
	f.clock.Advance(16 * 24 * time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/v1/issues/late", nil)
	w := httptest.NewRecorder()
	h.Late(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.EqualValues(t, 1, env.Meta["count"])
	assert.Contains(t, string(env.Data), `"days_overdue":2`)
}
