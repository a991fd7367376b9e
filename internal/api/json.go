package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"routeopt/internal/geo"
	"routeopt/internal/opt"
	"routeopt/internal/planner"
	"routeopt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps a domain error to a problem response under title.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	writeProblem(w, statusFor(err), title, err.Error(), r.URL.Path)
}

func statusFor(err error) int {
	var verr validationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, opt.ErrUnsupportedAlgorithm),
		errors.Is(err, geo.ErrInvalidResolution),
		errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, planner.ErrInvalidLocation),
		errors.Is(err, store.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, planner.ErrNoValidSpatialData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON rejects unknown fields so misspelled options are reported.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
