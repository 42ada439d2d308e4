package httpapi

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"bookrental/internal/storage"
	"bookrental/internal/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps the error taxonomy to a status code with a plain-text body
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *validation.ValidationError
		derr *storage.DuplicateError
	)
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.As(err, &derr):
		http.Error(w, derr.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrNotAvailable), errors.Is(err, storage.ErrNotRented):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		s.logger.Error("Request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
