package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/SiteGenerator/internal/auth"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/service"
)

// requestLogger logs one line per request at a level chosen by status.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			}
			switch {
			case status >= 500:
				log.Error("request completed", attrs...)
			case status >= 400:
				log.Warn("request completed", attrs...)
			default:
				log.Info("request completed", attrs...)
			}
		})
	}
}

type userCtxKey struct{}

// loadUser resolves the authenticated user id into an active account.
func (s *Server) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.UserID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.accounts.User(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if user == nil || !user.IsActive {
			s.writeError(w, r, service.NewAppError(service.CodeInvalidCredentials, "Session is no longer valid.", nil))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey{}, user)))
	})
}

// currentUser returns the authenticated user or nil for anonymous requests.
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userCtxKey{}).(*models.User)
	return user
}

// rateLimit admits requests per user or per client address. Limiter errors
// let the request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := "ip:" + clientIP(r)
		if user := currentUser(r); user != nil {
			key = "user:" + strconv.FormatInt(user.ID, 10)
		}
		allowed, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			s.log.Warn("rate limiter unavailable", "err", err, "key", key)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			s.writeError(w, r, service.NewAppError(service.CodeRateLimited, "Too many generation requests. Please wait a moment.", service.ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address without its port, so reconnecting from new
// ephemeral ports keeps the same key. RealIP has already applied proxy headers.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
