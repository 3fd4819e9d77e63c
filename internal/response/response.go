// Package response writes JSON bodies and error envelopes for the dataset
// service.
package response

import (
	"encoding/json"
	"net/http"
)

// ContentTypeJSON is the content type of every response body.
const ContentTypeJSON = "application/json"

// ErrorDetail is an additional error detail in an error response.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}

// Error is the error object of an error response.
type Error struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Target  string        `json:"target,omitempty"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}

// WriteErrorBody writes e wrapped in an {"error": ...} envelope.
func WriteErrorBody(w http.ResponseWriter, status int, e *Error) error {
	w.Header().Set("Cache-Control", "no-store")
	return WriteJSON(w, status, map[string]interface{}{"error": e})
}
