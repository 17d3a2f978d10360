package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/metrics"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
	"github.com/machinat/sociably-sub013/internal/platform/ratelimit"
)

// Deps are the collaborators of the HTTP API. Only Ledger is required.
type Deps struct {
	Ledger   *queue.Ledger[domain.Job, json.RawMessage]
	Outcomes *Outcomes
	Hub      *Hub
	Notifier domain.OutcomeNotifier
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	WaitTimeout time.Duration
	Logger      *slog.Logger
}

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(deps Deps) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}
	if deps.Outcomes == nil {
		deps.Outcomes = NewOutcomes(deps.Hub, deps.Notifier, deps.Logger)
	}
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = 30 * time.Second
	}

	h := &Handler{
		ledger:      deps.Ledger,
		outcomes:    deps.Outcomes,
		hub:         deps.Hub,
		notifier:    deps.Notifier,
		waitTimeout: deps.WaitTimeout,
		logger:      deps.Logger,
	}

	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	if deps.Metrics != nil {
		r.Use(recordMetrics(deps.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		send := http.Handler(http.HandlerFunc(h.Send))
		if deps.Limiter != nil {
			send = deps.Limiter.Middleware(send)
		}
		r.Method(http.MethodPost, "/send", send)
		r.Get("/requests/{requestID}", h.Outcome)
		r.Get("/history", h.History)
		r.Get("/ws", h.WS)
	})

	return r
}

// enableCORS adds headers to allow requests from a browser frontend.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordMetrics counts requests by route pattern.
func recordMetrics(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordHTTPRequest(r.Method, pattern, status, time.Since(start))
		})
	}
}
