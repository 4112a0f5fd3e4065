package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/checkout-saga/internal/api/middleware"
	"github.com/example/checkout-saga/internal/auth"
	"github.com/example/checkout-saga/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type RouterConfig struct {
	JWT            *auth.JWTService
	Metrics        *telemetry.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(withLogging)
	r.Use(withMetrics(cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", telemetry.Handler(cfg.Gatherer))
	}

	r.Route("/orders", func(r chi.Router) {
		// Signed by the payment provider, not the shopper.
		r.Post("/webhook", handlers.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWT))
			r.Post("/checkout", handlers.Checkout)
			r.Get("/", handlers.GetOrders)
			r.Get("/{id}", handlers.GetOrder)
		})
	})

	return r
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		println("[API]", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func withMetrics(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
