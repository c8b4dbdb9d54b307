package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/notebase/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	// Offset and Token locate a query syntax error.
	Offset *int   `json:"offset,omitempty"`
	Token  string `json:"token,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps an error kind to its status code. Backend failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var syn *apperr.SyntaxError
	switch {
	case errors.As(err, &syn):
		body := errorBody(syn.Error())
		body.Offset = &syn.Offset
		body.Token = syn.Token
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidCursor):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrStoreUnavailable):
		slog.Error("store unavailable",
			slog.String("method", r.Method),
			slog.String("url", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("store unavailable"))
	default:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("url", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
