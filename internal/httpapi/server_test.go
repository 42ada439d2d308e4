package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookrental/internal/catalog"
	"bookrental/internal/ledger"
	"bookrental/internal/models"
	"bookrental/internal/storage/stubs"
	"bookrental/internal/validation"
)

const duneJSON = `{"available": 2, "category": "Fiction", "price": 12.5, "rating": 5, "title": "Dune", "upc": "U1", "url": "http://x/dune"}`

type fakeStats struct {
	stats      []models.BookStat
	events     []models.RentalEvent
	err        error
	limit      int
	start, end time.Time
}

func (f *fakeStats) TopRentedBooks(ctx context.Context, limit int, start, end time.Time) ([]models.BookStat, error) {
	f.limit, f.start, f.end = limit, start, end
	return f.stats, f.err
}

func (f *fakeStats) LastEvents(ctx context.Context, limit int) ([]models.RentalEvent, error) {
	f.limit = limit
	return f.events, f.err
}

func newTestServer(t *testing.T, stats Stats) *httptest.Server {
	t.Helper()

	db := stubs.NewMockDB()
	require.NoError(t, db.Initialize(context.Background()))

	v := validation.New()
	logger := zap.NewNop()
	srv := NewServer(
		catalog.NewService(db, v, logger),
		ledger.New(db, ledger.NopSink{}, logger),
		v,
		stats,
		logger,
	)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, string) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(data))
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestCreateAndGetBook(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodPost, "/api/books", duneJSON)
	require.Equal(t, http.StatusOK, status, body)

	created := decode[bookDTO](t, body)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Dune", created.Title)
	assert.Equal(t, 12.5, created.Price)
	assert.Equal(t, 2, created.Available)
	assert.Equal(t, "Fiction", created.Category)
	assert.True(t, created.Rentable)

	status, body = do(t, ts, http.MethodGet, "/api/books/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created, decode[bookDTO](t, body))

	// raw field names of the DTO
	raw := decode[map[string]any](t, body)
	for _, key := range []string{"id", "title", "price", "available", "rating", "upc", "url", "category"} {
		assert.Contains(t, raw, key)
	}
}

func TestCreateBook_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	status, _ := do(t, ts, http.MethodPost, "/api/books", duneJSON)
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "duplicate upc",
			body: duneJSON,
			want: "duplicate upc",
		},
		{
			name: "first failing field wins",
			body: `{"available": -1, "price": "x", "rating": 9, "title": "", "category": "C", "upc": "U2", "url": "u"}`,
			want: "available must be a non-negative integer",
		},
		{
			name: "price checked before rating",
			body: `{"price": 0, "rating": 9, "title": "T", "category": "C", "upc": "U2", "url": "u"}`,
			want: "price must be a positive number",
		},
		{
			name: "missing title",
			body: `{"price": 1, "rating": 3, "category": "C", "upc": "U2", "url": "u"}`,
			want: "title is required",
		},
		{
			name: "not an object",
			body: `[1, 2]`,
			want: "body must be a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, ts, http.MethodPost, "/api/books", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestGetBook_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := do(t, ts, http.MethodGet, "/api/books/999", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not found", body)

	status, _ = do(t, ts, http.MethodGet, "/api/books/abc", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRentReturn(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := do(t, ts, http.MethodPost, "/api/books", duneJSON)
	book := decode[bookDTO](t, body)
	path := "/api/books/" + itoa(book.ID)

	_, body = do(t, ts, http.MethodGet, "/api/users", "")
	users := decode[[]userDTO](t, body)
	require.Len(t, users, 3)

	status, body := do(t, ts, http.MethodPost, path+"/rent", `{"user_id": `+itoa(users[0].ID)+`}`)
	require.Equal(t, http.StatusOK, status, body)
	rental := decode[rentalDTO](t, body)
	assert.Equal(t, book.ID, rental.BookID)
	assert.Equal(t, users[0].ID, rental.UserID)
	assert.Nil(t, rental.Returned)
	assert.Contains(t, body, `"returned":null`)

	status, body = do(t, ts, http.MethodPost, path+"/rent", `{"user_id": `+itoa(users[1].ID)+`}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "book is not available", body)

	_, body = do(t, ts, http.MethodGet, path, "")
	assert.False(t, decode[bookDTO](t, body).Rentable)

	_, body = do(t, ts, http.MethodGet, "/api/rentals?open=true", "")
	assert.Len(t, decode[[]rentalDTO](t, body), 1)

	status, body = do(t, ts, http.MethodPut, path+"/return", "")
	require.Equal(t, http.StatusOK, status, body)
	closed := decode[rentalDTO](t, body)
	assert.Equal(t, rental.ID, closed.ID)
	require.NotNil(t, closed.Returned)

	status, body = do(t, ts, http.MethodPut, path+"/return", "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "book is not rented", body)

	status, _ = do(t, ts, http.MethodPost, path+"/rent", `{"user_id": `+itoa(users[1].ID)+`}`)
	assert.Equal(t, http.StatusOK, status)

	_, body = do(t, ts, http.MethodGet, "/api/rentals?book_id="+itoa(book.ID), "")
	assert.Len(t, decode[[]rentalDTO](t, body), 2)
}

func TestRent_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := do(t, ts, http.MethodPost, "/api/books", duneJSON)
	path := "/api/books/" + itoa(decode[bookDTO](t, body).ID)

	status, body := do(t, ts, http.MethodPost, path+"/rent", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user_id is required", body)

	status, body = do(t, ts, http.MethodPost, path+"/rent", `{"user_id": 9999}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user not found", body)

	status, body = do(t, ts, http.MethodPost, "/api/books/9999/rent", `{"user_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "book not found", body)

	status, _ = do(t, ts, http.MethodPost, path+"/rent", `nope`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListBooks_AvailableAndSorted(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, b := range []string{
		`{"price": 1, "rating": 3, "title": "Zorba", "category": "Fiction", "upc": "Z", "url": "u"}`,
		`{"price": 1, "rating": 3, "title": "Anna", "category": "fiction", "upc": "A", "url": "u"}`,
		`{"price": 1, "rating": 3, "title": "Moby", "category": "Sea", "upc": "M", "url": "u"}`,
	} {
		status, body := do(t, ts, http.MethodPost, "/api/books", b)
		require.Equal(t, http.StatusOK, status, body)
	}

	_, body := do(t, ts, http.MethodGet, "/api/books?sort=title", "")
	books := decode[[]bookDTO](t, body)
	require.Len(t, books, 3)
	assert.Equal(t, []string{"Anna", "Moby", "Zorba"}, titles(books))

	_, body = do(t, ts, http.MethodGet, "/api/users", "")
	user := decode[[]userDTO](t, body)[0]
	status, _ := do(t, ts, http.MethodPost, "/api/books/"+itoa(books[1].ID)+"/rent", `{"user_id": `+itoa(user.ID)+`}`)
	require.Equal(t, http.StatusOK, status)

	_, body = do(t, ts, http.MethodGet, "/api/books?available=true", "")
	assert.Equal(t, []string{"Anna", "Zorba"}, titles(decode[[]bookDTO](t, body)))

	status, _ = do(t, ts, http.MethodGet, "/api/books?sort=price", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t, nil)

	do(t, ts, http.MethodPost, "/api/books", duneJSON)
	do(t, ts, http.MethodPost, "/api/books", `{"price": 1, "rating": 3, "title": "Emma", "category": "FICTION", "upc": "U2", "url": "u"}`)

	_, body := do(t, ts, http.MethodGet, "/api/categories", "")
	categories := decode[[]categoryDTO](t, body)
	require.Len(t, categories, 1)
	assert.Equal(t, "Fiction", categories[0].Name)

	status, body := do(t, ts, http.MethodGet, "/api/categories/fiction/books", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Dune", "Emma"}, titles(decode[[]bookDTO](t, body)))

	status, _ = do(t, ts, http.MethodGet, "/api/categories/poetry/books", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUsers(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := do(t, ts, http.MethodGet, "/api/users", "")
	users := decode[[]userDTO](t, body)
	require.NotEmpty(t, users)

	status, body := do(t, ts, http.MethodGet, "/api/users/"+itoa(users[0].ID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, users[0], decode[userDTO](t, body))

	status, _ = do(t, ts, http.MethodGet, "/api/users/9999", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTopBooks(t *testing.T) {
	t.Run("without stats backend", func(t *testing.T) {
		ts := newTestServer(t, nil)
		status, body := do(t, ts, http.MethodGet, "/api/stats/top-books", "")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not found", body)
	})

	t.Run("with stats backend", func(t *testing.T) {
		stats := &fakeStats{stats: []models.BookStat{{BookID: 1, Title: "Dune", RentCount: 4}}}
		ts := newTestServer(t, stats)

		status, body := do(t, ts, http.MethodGet, "/api/stats/top-books?limit=5&days=7", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, []bookStatDTO{{BookID: 1, Title: "Dune", RentCount: 4}}, decode[[]bookStatDTO](t, body))
		assert.Equal(t, 5, stats.limit)
		assert.Equal(t, 7*24*time.Hour, stats.end.Sub(stats.start))

		status, _ = do(t, ts, http.MethodGet, "/api/stats/top-books?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("backend failure", func(t *testing.T) {
		ts := newTestServer(t, &fakeStats{err: errors.New("connection refused")})
		status, body := do(t, ts, http.MethodGet, "/api/stats/top-books", "")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "internal error", body)
	})
}

func TestLastEvents(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stats := &fakeStats{events: []models.RentalEvent{
		{Kind: models.RentalEventRented, RentalID: 3, BookID: 1, BookTitle: "Dune", UserID: 2, OccurredAt: at},
	}}
	ts := newTestServer(t, stats)

	status, body := do(t, ts, http.MethodGet, "/api/stats/events?limit=3", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, stats.limit)

	events := decode[[]eventDTO](t, body)
	require.Len(t, events, 1)
	assert.Equal(t, "rented", events[0].Kind)
	assert.True(t, at.Equal(events[0].OccurredAt))
}

func titles(books []bookDTO) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
