package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"hazine/internal/core"
	"hazine/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// failure maps err onto a response. Validation errors and missing rows are
// reported to the client as is; anything else is logged and replaced by
// generic.
type failure struct {
	op        string
	component string
	generic   string
	notFound  string
}

func (f failure) write(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, core.ErrNotFound) && f.notFound != "":
		writeError(w, http.StatusNotFound, f.notFound)
	default:
		log.FromContext(r.Context()).WithComponent(f.component).ErrorContext(r.Context(), f.generic,
			log.FieldOperation, f.op,
			log.FieldError, err.Error(),
		)
		writeError(w, http.StatusInternalServerError, f.generic)
	}
}
