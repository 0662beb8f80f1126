package httpjson

import (
	"encoding/json"
	"net/http"
)

// Decode reads the request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Write encodes response as JSON with the given status code.
func Write(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// best-effort fallback; don't override status for the caller
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
