package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware answers preflight requests and tags responses for the
// allowed browser origins.
type CORSMiddleware struct {
	exact    map[string]bool
	suffixes []string
	allowAll bool
}

// NewCORSMiddleware accepts exact origins, "*" and wildcard subdomain
// entries such as "https://*.example.org".
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	m := &CORSMiddleware{exact: make(map[string]bool)}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			m.allowAll = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			m.suffixes = append(m.suffixes, scheme+"://|"+host)
		default:
			m.exact[origin] = true
		}
	}
	return m
}

// Handler returns the CORS middleware handler.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && m.Allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
			h.Set("Access-Control-Expose-Headers", "X-Trace-ID, Retry-After")
			h.Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether origin may call the API from a browser.
func (m *CORSMiddleware) Allowed(origin string) bool {
	if m.allowAll || m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		scheme, host, _ := strings.Cut(s, "|")
		if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, host) && len(origin) > len(scheme)+len(host) {
			return true
		}
	}
	return false
}
