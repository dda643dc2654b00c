package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal","message":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeDomainError maps an engine or store error to a status code. Internal
// errors are reported without their text.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "pair not found")
	case errors.Is(err, domain.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
	case errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "precondition_failed", err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "busy", "pair is being updated, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// pageParams reads limit and offset. Defaults: limit=50 (max 500), offset=0.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = defaultLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxLimit)
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
