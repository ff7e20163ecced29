package utils

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// CORSMiddleware allows any origin to call the API and answers preflight
// requests itself.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// NewRouter returns the root router: CORS on every route plus /health.
// API routes are mounted on it by api.Register.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(CORSMiddleware)
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	return r
}
