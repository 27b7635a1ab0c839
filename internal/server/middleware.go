package server

import (
	"crypto/subtle"
	"net/http"

	"xdao.co/labeler/internal/ratelimit"
	"xdao.co/labeler/model"
)

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(ratelimit.Host(r.RemoteAddr)) {
			w.Header().Set("Retry-After", "1")
			writeCoded(w, http.StatusTooManyRequests, model.ErrRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

const keyHeader = "X-Moderation-Key"

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			s.log.Warn("no auth token configured; rejecting protected request")
			writeCoded(w, http.StatusServiceUnavailable, model.ErrLabelerNotConfigured, "auth token not configured")
			return
		}
		got := r.Header.Get(keyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
			s.log.Warn("rejected request with missing or invalid key")
			writeCoded(w, http.StatusUnauthorized, model.ErrBadRequest, "missing or invalid "+keyHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}
