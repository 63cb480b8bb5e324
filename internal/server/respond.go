package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/ledger"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

// statusForError maps domain errors to HTTP status codes: validation is the
// caller's fault, ledger-side failures are an upstream fault, the rest is ours.
func statusForError(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, heartbeat.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrFunding), errors.Is(err, ledger.ErrNetwork), errors.Is(err, ledger.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Kind: ledger.ErrorKind(err)}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Kind = "validation"
		resp.Field = verr.Field
	case errors.Is(err, heartbeat.ErrInvalidInterval):
		resp.Kind = "validation"
	}
	writeJSON(w, statusForError(err), resp)
}
