package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Issuer       *auth.Issuer
	LoginLimiter *RateLimiter
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Checks       map[string]HealthCheck
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{svc: cfg.Service, issuer: cfg.Issuer, logger: logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.LoginLimiter != nil {
			r.Use(cfg.LoginLimiter.Middleware)
		}
		r.Post("/login", h.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Issuer))

		r.Get("/doctors", h.listDoctors)
		r.With(RequireRole(string(appointment.RoleAdmin))).Put("/doctors/{name}/active", h.setDoctorActive)

		// Appointment endpoints
		r.Post("/appointments", h.scheduleAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/conflicts", h.checkConflict)
		r.Patch("/appointments/{id}/status", h.updateStatus)
	})

	return r
}
