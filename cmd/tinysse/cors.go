package main

import (
	"net/http"
	"strconv"
)

// corsMiddleware applies the --cors-* flags to every request. An empty
// --cors-allow-origin disables CORS entirely (the handler is a plain
// passthrough).
func corsMiddleware(f cliFlags, next http.Handler) http.Handler {
	if f.corsAllowOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", f.corsAllowOrigin)
		h.Set("Access-Control-Allow-Methods", f.corsAllowMethods)
		if f.corsAllowHeaders != "" {
			h.Set("Access-Control-Allow-Headers", f.corsAllowHeaders)
		}
		if f.corsAllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if f.corsMaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(f.corsMaxAge))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
