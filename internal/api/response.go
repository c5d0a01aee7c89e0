package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/perfdesk/eventcore/internal/domain"
)

// resultResponse is the envelope for command and query dispatch outcomes.
type resultResponse struct {
	OK     bool   `json:"ok"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

// errorResponse is the envelope for request-level failures (bad JSON,
// missing fields) that never reached a bus.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeResult maps a dispatch result onto HTTP. Concurrency conflicts carry
// structured detail and come back 409; a missing target or handler is 404;
// other business failures are 422.
func writeResult(w http.ResponseWriter, res domain.Result[any]) {
	if res.IsOk() {
		writeJSON(w, http.StatusOK, resultResponse{OK: true, Value: res.Value()})
		return
	}
	status := http.StatusUnprocessableEntity
	switch {
	case res.Detail() != nil:
		status = http.StatusConflict
	case strings.Contains(res.Err(), "not found"),
		strings.Contains(res.Err(), "no handler registered"):
		status = http.StatusNotFound
	}
	writeJSON(w, status, resultResponse{OK: false, Error: res.Err(), Detail: res.Detail()})
}
