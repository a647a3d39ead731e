package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// IsLocalhostOrigin reports whether origin points at localhost on any port.
func IsLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// OriginChecker returns a websocket/CORS origin predicate. Localhost and
// same-origin requests are always accepted; allowed adds a comma separated list
// of exact origins.
func OriginChecker(allowed string) func(origin string) bool {
	extra := make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			extra[o] = true
		}
	}
	return func(origin string) bool {
		return origin == "" || IsLocalhostOrigin(origin) || extra[strings.TrimRight(origin, "/")]
	}
}

// CORS echoes accepted origins back so the desktop UI can call the API.
func CORS(accept func(origin string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && accept(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
