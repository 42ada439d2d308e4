package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bookrental/internal/models"
	"bookrental/internal/storage"
	"bookrental/internal/validation"
)

const (
	maxBodyBytes     = 1 << 20
	defaultStatLimit = 10
	defaultStatDays  = 30
)

// GET /api/books[?available=true][&sort=title]
func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookFilter{}

	if v := q.Get("available"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "available must be a boolean", http.StatusBadRequest)
			return
		}
		filter.AvailableOnly = only
	}
	switch q.Get("sort") {
	case "":
	case "title":
		filter.SortByTitle = true
	default:
		http.Error(w, "sort must be title", http.StatusBadRequest)
		return
	}
	// the available listing is always shown by title
	if filter.AvailableOnly {
		filter.SortByTitle = true
	}

	books, err := s.catalog.ListBooks(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// POST /api/books
func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	input, err := s.validator.BookFromJSON(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	book, err := s.catalog.CreateBook(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBookDTO(book))
}

// GET /api/books/{id}
func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBookDTO(book))
}

// POST /api/books/{id}/rent {"user_id": 1}
func (s *Server) rentBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req rentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "body must be a JSON object", http.StatusBadRequest)
		return
	}
	if req.UserID == nil {
		s.writeError(w, r, &validation.ValidationError{Field: "user_id", Reason: "is required"})
		return
	}

	rental, err := s.ledger.Rent(r.Context(), id, *req.UserID)
	var nf *storage.NotFoundError
	if errors.As(err, &nf) {
		// an unknown book or user is a bad rent request, not a missing resource
		http.Error(w, nf.Entity+" not found", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRentalDTO(rental))
}

// PUT /api/books/{id}/return
func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rental, err := s.ledger.Return(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRentalDTO(rental))
}

// GET /api/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.catalog.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// GET /api/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := s.catalog.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userDTO{ID: user.ID, Name: user.Name})
}

// GET /api/categories
func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCategoryDTOs(categories))
}

// GET /api/categories/{name}/books
func (s *Server) categoryBooks(w http.ResponseWriter, r *http.Request) {
	_, books, err := s.catalog.BooksInCategory(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// GET /api/rentals[?open=true][&book_id=][&user_id=]
func (s *Server) listRentals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RentalFilter{}

	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "open must be a boolean", http.StatusBadRequest)
			return
		}
		filter.OpenOnly = open
	}

	var ok bool
	if filter.BookID, ok = queryID(w, q.Get("book_id"), "book_id"); !ok {
		return
	}
	if filter.UserID, ok = queryID(w, q.Get("user_id"), "user_id"); !ok {
		return
	}

	rentals, err := s.ledger.ListRentals(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRentalDTOs(rentals))
}

// GET /api/stats/top-books[?limit=10][&days=30]
func (s *Server) topBooks(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	limit, ok := queryPositive(w, q.Get("limit"), "limit", defaultStatLimit)
	if !ok {
		return
	}
	days, ok := queryPositive(w, q.Get("days"), "days", defaultStatDays)
	if !ok {
		return
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)

	stats, err := s.stats.TopRentedBooks(r.Context(), limit, start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]bookStatDTO, 0, len(stats))
	for _, st := range stats {
		out = append(out, bookStatDTO{BookID: st.BookID, Title: st.Title, RentCount: st.RentCount})
	}
	s.logger.Debug("Top books served", zap.Int("limit", limit), zap.Int("days", days), zap.Int("count", len(out)))
	s.writeJSON(w, http.StatusOK, out)
}

// GET /api/stats/events[?limit=10]
func (s *Server) lastEvents(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	limit, ok := queryPositive(w, r.URL.Query().Get("limit"), "limit", defaultStatLimit)
	if !ok {
		return
	}

	events, err := s.stats.LastEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, eventDTO{
			Kind:       string(e.Kind),
			RentalID:   e.RentalID,
			BookID:     e.BookID,
			BookTitle:  e.BookTitle,
			UserID:     e.UserID,
			OccurredAt: e.OccurredAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// pathID parses the {id} URL parameter. An id that is not a number cannot
// name an existing entity, so it is answered with 404.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, raw, name string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryPositive(w http.ResponseWriter, raw, name string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		http.Error(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
