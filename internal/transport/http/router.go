// Package httptransport is the local HTTP API the enrollment UI calls. Handlers
// stay thin and delegate to the coordinator and lifecycle services.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enrollgate/internal/ratelimit"
	"enrollgate/pkg/platform/middleware/admin"
	"enrollgate/pkg/platform/middleware/metadata"
	request "enrollgate/pkg/platform/middleware/request"
	"enrollgate/pkg/platform/middleware/requesttime"
)

// RouterConfig carries the cross-cutting settings of the router.
type RouterConfig struct {
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	// OperatorToken, when set, is required on lifecycle mutations.
	OperatorToken string
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// SubmitLimiter throttles code submissions per client. Nil disables it.
	SubmitLimiter *ratelimit.Limiter
	// Readiness lists the local dependencies /readyz pings.
	Readiness map[string]ReadinessCheck
}

// NewRouter wires every endpoint under /v1 plus /metrics and /readyz.
func NewRouter(verify *VerificationHandler, lifecycle *LifecycleHandler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", request.HeaderRequestID, admin.HeaderOperatorToken},
			ExposedHeaders: []string{request.HeaderRequestID},
			MaxAge:         300,
		}))
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/readyz", ReadyzHandler(cfg.Readiness))

	r.Route("/v1", func(r chi.Router) {
		verify.Register(r, ratelimit.Middleware(cfg.SubmitLimiter, logger))
		r.Group(func(mutate chi.Router) {
			mutate.Use(admin.RequireOperatorToken(cfg.OperatorToken, logger))
			lifecycle.Register(r, mutate)
		})
	})
	return r
}
