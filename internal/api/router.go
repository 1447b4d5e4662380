package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/qbank-platform/qbank/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota handlers
	GetQuotaSummary http.HandlerFunc
	GetQuotaConfig  http.HandlerFunc
	GetQuotaWindow  http.HandlerFunc
	ConsumeAnswer   http.HandlerFunc
	ConsumePaper    http.HandlerFunc

	// Governance handlers
	ListAuditLogs http.HandlerFunc

	// Admin handlers
	AdminGetQuotaConfig    http.HandlerFunc
	AdminUpdateQuotaConfig http.HandlerFunc
	AdminGetOverride       http.HandlerFunc
	AdminPutOverride       http.HandlerFunc
	AdminDeleteOverride    http.HandlerFunc
	AdminListAuditLogs     http.HandlerFunc

	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// HealthCheck is a named readiness dependency. A nil Check reports
// "not configured" without degrading readiness.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ConsumeRateLimiter func(http.Handler) http.Handler
	HealthChecks       []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.EchoRequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200 with no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, hc := range cfg.HealthChecks {
			if hc.Check == nil {
				health[hc.Name] = "not configured"
				continue
			}
			if err := hc.Check(r.Context()); err != nil {
				health[hc.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[hc.Name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Route("/quota", func(r chi.Router) {
			r.Get("/summary", h.GetQuotaSummary)
			r.Get("/window", h.GetQuotaWindow)
			r.Get("/{category}/config", h.GetQuotaConfig)

			r.Group(func(r chi.Router) {
				if cfg.ConsumeRateLimiter != nil {
					r.Use(cfg.ConsumeRateLimiter)
				}
				r.Post("/answer/consume", h.ConsumeAnswer)
				r.Post("/paper/consume", h.ConsumePaper)
			})
		})

		r.Route("/governance", func(r chi.Router) {
			r.Get("/audit", h.ListAuditLogs)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.AdminMiddleware)

			r.Get("/quota/config", h.AdminGetQuotaConfig)
			r.Put("/quota/config", h.AdminUpdateQuotaConfig)
			r.Route("/quota/overrides/{userID}", func(r chi.Router) {
				r.Get("/", h.AdminGetOverride)
				r.Put("/", h.AdminPutOverride)
				r.Delete("/", h.AdminDeleteOverride)
			})
			r.Get("/audit", h.AdminListAuditLogs)
		})
	})

	return r
}
