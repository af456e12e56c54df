package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchbreak/internal/types"
)

// Pinger reports backing-store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Webhook    *StripeWebhookHandler
	Admin      *QueueAdminHandler
	AdminToken types.SecretString
	Health     Pinger
	Registry   *prometheus.Registry
	Logger     *slog.Logger
}

// NewRouter assembles the producer API router.
func NewRouter(deps RouterDeps) chi.Router {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))

	r.Get("/healthz", healthHandler(deps.Health))
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	deps.Webhook.RegisterRoutes(r)

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(deps.AdminToken))
		deps.Admin.RegisterRoutes(r)
	})

	return r
}

// healthHandler reports liveness plus queue-store connectivity. A failed
// ping returns 503 so the load balancer stops routing triggers to a
// process that cannot make jobs durable.
func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				status = "queue store unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		JSON(w, r, code, APIResponse{Data: map[string]string{"status": status}})
	}
}
