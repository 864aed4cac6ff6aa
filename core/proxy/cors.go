package proxy

import (
	"net/http"
	"strings"

	"github.com/relabs-tech/dbproxy/core/logger"
)

// newCORSMiddleware answers preflight requests. The exposed headers are set
// by the gateway on relayed responses.
//
// Only origins in allowedOrigins may send credentials; the origin is echoed
// for them. Without allowed origins every origin is accepted as "*", which
// browsers never combine with cookies. Other origins get no
// Access-Control-Allow-Origin at all.
func newCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); len(origin) > 0 {
			allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] = true
		}
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[strings.ToLower(origin)]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			default:
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Prefer, Range, Range-Unit, X-Request-Id")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
