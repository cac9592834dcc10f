package api

import (
	"encoding/json"
	"net/http"
)

// Custom error pages. Nothing beyond the path is echoed back and internals
// never leak.

func notFoundPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "Page not found",
		"path":  r.URL.Path,
	})
}

func methodNotAllowedPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "Method not allowed",
		"path":  r.URL.Path,
	})
}
