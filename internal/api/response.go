package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps engine errors to HTTP status codes. An unknown id in the
// path is a 404; a link naming an unknown endpoint is a structural 422.
func statusFor(err error) int {
	var se *graph.StructuralError
	var ee *node.ExecutionError
	switch {
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, graph.ErrDuplicateID):
		return http.StatusConflict
	case errors.As(err, &se) && se.Op == "add_link":
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnknownNode), errors.Is(err, engine.ErrUnknownLink):
		return http.StatusNotFound
	case graph.IsStructural(err), errors.Is(err, node.ErrUnknownType), errors.As(err, &ee):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
