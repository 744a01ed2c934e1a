package http

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/middleware"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AppName        string
	Env            string
	AllowedOrigins []string
	MetricsPath    string
}

type Handlers struct {
	Subscription SubscriptionHandler
	Operator     OperatorHandler
	Webhook      WebhookHandler
}

// NewRouter wires the billing API. ja verifies Supabase access tokens.
func NewRouter(cfg RouterConfig, ja *jwtauth.JWTAuth, profiles profile.ProfileService, metrics *observability.Metrics, h Handlers) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(false)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", cfg.AppName),
		slog.String("version", "v1.0.0"),
		slog.String("env", cfg.Env),
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(chiMiddleware.RealIP)
	r.Use(observability.TracingMiddleware)

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.AllowContentEncoding("application/json"))
	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	if metrics != nil && metrics.Registry != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/asaas", h.Webhook.HandleAsaas)

		// Requires authentication
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(ja))
			r.Use(middleware.AuthRequired)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", h.Subscription.Create)
				r.Get("/me", h.Subscription.GetMine)
				r.Post("/reactivate", h.Subscription.Reactivate)
			})

			// Manager only
			r.Route("/operators", func(r chi.Router) {
				r.Use(middleware.LoadProfile(profiles))
				r.Use(middleware.ManagerOnly)

				r.Post("/checkout", h.Operator.Checkout)
				r.Get("/payments/{paymentId}", h.Operator.GetPaymentStatus)
				r.Post("/payments/{paymentId}/confirm", h.Operator.ConfirmPayment)
				r.Delete("/{operatorId}", h.Operator.Remove)
			})
		})
	})
	return r
}
