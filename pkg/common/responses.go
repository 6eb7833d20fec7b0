// Package common holds the HTTP plumbing every handler shares: the
// response envelope, request body decoding and list pagination.
package common

import (
	"encoding/json"
	"net/http"
)

// APIResponse wraps every successful payload so clients unwrap responses
// uniformly. Failures bypass the envelope and take the error handler's
// shape instead.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondJSON writes data inside the standard envelope.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// ParseJSONBody decodes a JSON request body into v. Unknown fields and
// bodies over maxBytes are rejected, so a malformed sync payload fails
// fast instead of half-applying.
func ParseJSONBody(r *http.Request, v interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	return decoder.Decode(v)
}
