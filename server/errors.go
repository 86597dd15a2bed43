package server

import (
	"encoding/json"
	"net/http"

	"github.com/dshills/aura-go/fault"
)

// errorBody is the error envelope returned on every failure path.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
	Path    string `json:"path"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: err.Error(),
		Type:    string(kind),
		Status:  status,
		Path:    r.URL.Path,
	}})
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, fault.New(fault.KindRateLimited, "rate limit exceeded"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
