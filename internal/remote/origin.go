package remote

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrCrossOrigin is returned for browser requests sent from another site.
var ErrCrossOrigin = errors.New("cross-origin request rejected")

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and requests whose Origin host matches the Host they were sent to.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// requireSameOrigin rejects state-changing requests from other origins.
func (s *Server) requireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !sameOrigin(r) {
				s.logger.Warn("cross-origin request rejected", "method", r.Method, "path", r.URL.Path, "origin", r.Header.Get("Origin"))
				s.respondError(w, http.StatusForbidden, ErrCrossOrigin)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
