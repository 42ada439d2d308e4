// Package httpapi exposes the catalog and the rental ledger as a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bookrental/internal/catalog"
	"bookrental/internal/ledger"
	"bookrental/internal/models"
	"bookrental/internal/validation"
)

// Stats reports rental activity. It is optional; without it the stats
// endpoints answer 404.
type Stats interface {
	TopRentedBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error)
	LastEvents(ctx context.Context, limit int) ([]models.RentalEvent, error)
}

// Server handles the JSON API requests
type Server struct {
	catalog   *catalog.Service
	ledger    *ledger.Ledger
	validator *validation.Validator
	stats     Stats
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer creates a new API server. stats may be nil.
func NewServer(catalog *catalog.Service, ledger *ledger.Ledger, validator *validation.Validator, stats Stats, logger *zap.Logger) *Server {
	return &Server{
		catalog:   catalog,
		ledger:    ledger,
		validator: validator,
		stats:     stats,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes builds the router with all API endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.listBooks)
			r.Post("/", s.createBook)
			r.Get("/{id}", s.getBook)
			r.Post("/{id}/rent", s.rentBook)
			r.Put("/{id}/return", s.returnBook)
		})

		r.Get("/users", s.listUsers)
		r.Get("/users/{id}", s.getUser)

		r.Get("/categories", s.listCategories)
		r.Get("/categories/{name}/books", s.categoryBooks)

		r.Get("/rentals", s.listRentals)

		r.Get("/stats/top-books", s.topBooks)
		r.Get("/stats/events", s.lastEvents)
	})

	return r
}

// requestLogger logs one line per request with zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
