package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// OwnerHeader and OwnerCookie carry the advisor identity set by the auth front end.
const (
	OwnerHeader = "X-Owner-ID"
	OwnerCookie = "user_id"
)

type ownerKey struct{}

func (s *Server) isAllowedOrigin(origin string) bool {
	_, ok := s.origins[origin]
	return ok
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Vary", "Origin")
			if s.isAllowedOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+OwnerHeader)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			if origin != "" && !s.isAllowedOrigin(origin) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireOwner resolves the caller's owner record and stores it on the request context.
func (s *Server) requireOwner(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if id == "" {
			if c, err := r.Cookie(OwnerCookie); err == nil {
				id = strings.TrimSpace(c.Value)
			}
		}
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "not authenticated"})
			return
		}
		owner, err := s.store.GetOwner(id)
		if err != nil {
			if task.Kind(err) == task.KindNotFound {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "not authenticated"})
				return
			}
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	}
}

func ownerFrom(ctx context.Context) *task.Owner {
	o, _ := ctx.Value(ownerKey{}).(*task.Owner)
	return o
}

// requireCronSecret checks "Authorization: Bearer <secret>". An empty secret disables the route.
func (s *Server) requireCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret == "" {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "cron secret not configured"})
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cronSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}
