/*
middleware.go - Request logging, rate limiting and session authentication

MIDDLEWARE:
  requestLogger:  one slog line per request (method, path, status, duration,
                  request id from chi's RequestID middleware)
  IPRateLimiter:  token bucket per client IP (golang.org/x/time/rate);
                  429 when the bucket is empty; idle buckets expire
                  (patrickmn/go-cache)
  requireSession: reads the session cookie (or a Bearer token), verifies
                  the JWT and puts the claims on the request context; 401
                  otherwise

SESSION:
  The session is an HS256 JWT in an HttpOnly cookie. There is no server-side
  session table; logout clears the cookie.

SEE ALSO:
  - auth/auth.go: GenerateToken / ParseToken
  - server.go: Middleware order
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/generic"
)

// =============================================================================
// LOGGING
// =============================================================================

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int64("durationMs", time.Since(start).Milliseconds()),
				slog.String("requestId", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// defaultLimiterIdle is how long a client's bucket survives without requests.
const defaultLimiterIdle = 10 * time.Minute

// IPRateLimiter stores a rate limiter for each client IP. Buckets expire
// after a period without requests.
type IPRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return newIPRateLimiter(r, b, defaultLimiterIdle)
}

func newIPRateLimiter(r rate.Limit, b int, idle time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(idle, idle),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the limiter for ip, creating it on first use. Every
// lookup pushes the bucket's expiry forward.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	limiter, ok := i.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(i.r, i.b)
	}
	i.limiters.Set(ip, limiter, cache.DefaultExpiration)
	return limiter.(*rate.Limiter)
}

// Middleware rejects requests over the limit with 429.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.GetLimiter(clientIP(r)).Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the connection's address. Forwarding headers are honoured
// only through chi's RealIP, which the router mounts for trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// =============================================================================
// SESSIONS
// =============================================================================

type claimsKey struct{}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Secure     bool
}

func (h *Handler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessions.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.sessions.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessions.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.sessions.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(h.sessions.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// requireSession rejects requests without a valid session.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.sessionToken(r)
		if token == "" {
			h.writeError(w, r, fmt.Errorf("%w: not authenticated", generic.ErrAuth))
			return
		}
		claims, err := auth.ParseToken(h.sessions.Secret, token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// claimsFrom returns the session claims; only valid behind requireSession.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}
