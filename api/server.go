/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
                (only with TrustProxy)
  3. Logger:     slog request logging (requestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend (credentials on)
  6. RateLimit:  Per-IP token bucket on /api

ROUTE GROUPS:
  /api/health, /api/auth/register, /api/auth/login    Public
  /api/push/vapid-key                                 Public
  everything else under /api                          Session required
  /api/scenarios/*                                    Only when enabled (dev)
  /uploads/*                                          Check-in photos

SEE ALSO:
  - handlers.go, teams.go, push.go: Handler implementations
  - middleware.go: Logging, rate limiting, sessions
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RouterConfig holds the transport settings of the router.
type RouterConfig struct {
	AllowedOrigins  []string
	RateLimitPerSec float64
	RateLimitBurst  int

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only set it behind a reverse proxy that overwrites those headers.
	TrustProxy bool

	UploadsDir      string
	EnableScenarios bool
	Logger          *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitPerSec > 0 {
			r.Use(NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst).Middleware)
		}

		r.Get("/health", h.Health)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)
		r.Get("/push/vapid-key", h.VAPIDKey)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Get("/auth/me", h.Me)

			r.Post("/pulse", h.CreatePulse)
			r.Get("/pulse", h.ListPulses)
			r.Post("/checkin", h.CreateCheckIn)
			r.Get("/checkin", h.ListCheckIns)

			// Team routes
			r.Route("/teams", func(r chi.Router) {
				r.Get("/", h.ListTeams)
				r.Post("/", h.CreateTeam)
				r.Route("/{teamID}", func(r chi.Router) {
					r.Get("/", h.GetTeam)
					r.Put("/policy", h.UpdatePolicy)
					r.Put("/office", h.SetOffice)
					r.Post("/members", h.AddMember)
					r.Get("/members", h.ListMembers)

					r.Post("/attendance", h.RecordAttendance)
					r.Post("/adjustments", h.CreateAdjustment)
					r.Get("/balance", h.GetBalance)
					r.Get("/balance/{employeeID}", h.GetBalance)
					r.Get("/transactions", h.GetTransactions)
					r.Get("/statement.pdf", h.GetStatement)

					r.Post("/requests", h.CreateRequest)
					r.Get("/requests", h.ListRequests)

					r.Get("/votes", h.GetVotes)
					r.Post("/votes/toggle", h.ToggleVote)
					r.Post("/votes/submit", h.SubmitVotes)
					r.Post("/votes/reset", h.ResetVotes)
					r.Get("/votes/anchor-days", h.AnchorDays)
				})
			})

			// Request decision routes
			r.Route("/requests/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequest)
				r.Post("/approve", h.ApproveRequest)
				r.Post("/reject", h.RejectRequest)
				r.Post("/cancel", h.CancelRequest)
			})

			// Push subscription routes
			r.Route("/push/subscriptions", func(r chi.Router) {
				r.Get("/", h.ListSubscriptions)
				r.Put("/", h.Subscribe)
				r.Delete("/", h.Unsubscribe)
			})

			// Scenario routes
			if cfg.EnableScenarios {
				r.Get("/scenarios", h.ListScenarios)
				r.Post("/scenarios/load", h.LoadScenario)
			}
		})
	})

	// Check-in photos
	if cfg.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadsDir))))
	}

	return r
}
