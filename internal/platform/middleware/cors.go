package middleware

import (
	"net/http"
	"strings"
)

// CORS lets the storefront pages call the public API (dictionary list,
// pre-order, download pages) and read the download headers. An origin
// pattern "https://*.reader-dict.com" matches any subdomain of that host.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool, len(allowedOrigins))
	var suffixes []string
	for _, o := range allowedOrigins {
		if scheme, host, ok := strings.Cut(o, "://*."); ok {
			suffixes = append(suffixes, scheme+"://|."+host)
			continue
		}
		exact[o] = true
	}

	allowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, s := range suffixes {
			scheme, host, _ := strings.Cut(s, "|")
			if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, host) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin != "" && allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, File-Source, X-Request-ID")
				if r.Method == http.MethodOptions {
					w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
