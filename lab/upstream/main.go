// A stand-in core service for poking at the gateway locally. It trusts the
// identity headers blindly, which is exactly why it must only ever be
// reachable through the gateway: point HUDDLE_UPSTREAM_URL here and compare
// what a request looks like with and without the proxy in front.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
)

type echoResponse struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

func main() {
	port := getenv("PORT", "8081")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, echoResponse{Message: "ok"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		resp := echoResponse{
			Message:   "hello from the upstream",
			UserID:    r.Header.Get("X-User-Id"),
			Email:     r.Header.Get("X-User-Email"),
			Role:      r.Header.Get("X-User-Role"),
			FullName:  r.Header.Get("X-Full-Name"),
			SessionID: r.Header.Get("X-Session-Id"),
		}
		if resp.UserID == "" {
			resp.Warning = "no identity headers; this request did not come through the gateway"
		}
		writeJSON(w, http.StatusOK, resp)
	})

	log.Printf("lab upstream listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
