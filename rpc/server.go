package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"crestchain/core"
)

// Server exposes the node over HTTP: trading and bond operations under
// /v1/, state queries, health and Prometheus metrics.
type Server struct {
	node      *core.Node
	log       *slog.Logger
	limiter   *rate.Limiter
	authToken string
	faucet    bool
}

// Options tune the server surface.
type Options struct {
	// AuthToken protects the operator endpoints (tick, close-epoch,
	// faucet). Empty disables the check.
	AuthToken string
	// RateLimitRPS and RateLimitBurst bound the request rate across all
	// clients.
	RateLimitRPS   float64
	RateLimitBurst int
	// FaucetEnabled exposes the local collateral faucet.
	FaucetEnabled bool
}

// NewServer wires the HTTP surface over a node.
func NewServer(node *core.Node, log *slog.Logger, opts Options) *Server {
	if log == nil {
		log = slog.Default()
	}
	rps := opts.RateLimitRPS
	if rps <= 0 {
		rps = 50
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 100
	}
	return &Server{
		node:      node,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		authToken: strings.TrimSpace(opts.AuthToken),
		faucet:    opts.FaucetEnabled,
	}
}

// Handler builds the routed HTTP handler, wrapped for tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.throttle)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/reserve/buy", s.handleBuy)
		r.Post("/reserve/sell", s.handleSell)
		r.Get("/reserve/state", s.handleReserveState)

		r.Post("/bonds/open", s.handleBondOpen)
		r.Post("/bonds/add", s.handleBondAdd)
		r.Post("/bonds/settle", s.handleBondSettle)
		r.Post("/bonds/policy", s.handleBondPolicy)
		r.Get("/bonds/position/{id}", s.handleBondPosition)
		r.Get("/bonds/positions/{address}", s.handleBondPositions)
		r.Get("/bonds/epoch/{index}", s.handleBondEpoch)

		r.Get("/totals", s.handleTotals)

		r.Group(func(r chi.Router) {
			r.Use(s.authorize)
			r.Post("/reserve/tick", s.handleTick)
			r.Post("/bonds/close-epoch", s.handleCloseEpoch)
			r.Post("/admin/pause", s.handlePause)
			r.Get("/admin/pause", s.handlePauseList)
			if s.faucet {
				r.Post("/faucet", s.handleFaucet)
			}
		})
	})

	return otelhttp.NewHandler(r, "crest-rpc")
}

// throttle applies the global request rate limit.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize enforces the operator bearer token when one is configured.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token != s.authToken {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
