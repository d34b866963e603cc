package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"swapcore/core"
	"swapcore/observability/metrics"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	MaxConnections int
	// StreamOrigins lists the origins allowed to open the event stream.
	// Empty means same-origin only.
	StreamOrigins   []string
	ShutdownTimeout time.Duration
}

// Server exposes the settlement protocol over JSON/HTTP.
type Server struct {
	cfg     Config
	proto   *core.Protocol
	events  EventLog
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics *metrics.SettlementMetrics
	handler http.Handler
}

// Option customises New.
type Option func(*Server)

// WithEventLog serves GET /v1/events from log instead of the ledger.
func WithEventLog(log EventLog) Option {
	return func(s *Server) {
		if log != nil {
			s.events = log
		}
	}
}

// WithRateLimiter installs a per-client limiter.
func WithRateLimiter(l *RateLimiter) Option { return func(s *Server) { s.limiter = l } }

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs the server. Every mutating route requires auth.
func New(cfg Config, proto *core.Protocol, auth *Authenticator, opts ...Option) (*Server, error) {
	if proto == nil {
		return nil, fmt.Errorf("protocol required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		proto:   proto,
		events:  LedgerLog{State: proto.State},
		auth:    auth,
		logger:  slog.Default(),
		metrics: metrics.Settlement(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.handler = s.routes()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Get("/prices/{asset}", s.handleGetPrice)
		api.Get("/recommendations/{key}", s.handleGetRecommendation)
		api.Get("/swaps/{key}", s.handleGetSwap)
		api.Get("/routes", s.handleGetRoute)
		api.Get("/executions/{key}", s.handleGetExecution)
		api.Get("/events", s.handleEvents)
		api.Get("/events/stream", s.handleEventStream)

		api.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware)
			authed.Post("/prices", s.handleUpdatePrice)
			authed.Post("/prices/{asset}/invalidate", s.handleInvalidatePrice)
			authed.Post("/recommendations", s.handleCreateRecommendation)
			authed.Post("/recommendations/{key}/invalidate", s.handleInvalidateRecommendation)
			authed.Post("/swaps", s.handleInitiateSwap)
			authed.Post("/swaps/{key}/withdraw", s.handleWithdrawSwap)
			authed.Post("/swaps/{key}/refund", s.handleRefundSwap)
			authed.Post("/executions", s.handleExecuteSwap)

			authed.Route("/admin", func(admin chi.Router) {
				admin.Post("/reporters", s.handleSetReporter)
				admin.Post("/min-confidence", s.handleSetMinConfidence)
				admin.Post("/decimals", s.handleSetDecimals)
				admin.Post("/pause", s.handleSetPaused)
				admin.Post("/transfer", s.handleTransferAdmin)
				admin.Post("/htlc/params", s.handleSetHTLCParams)
				admin.Post("/fees/htlc", s.handleWithdrawHTLCFees)
				admin.Post("/fees/router", s.handleWithdrawRouterFees)
				admin.Post("/rescue", s.handleRescue)
			})
		})
	})
	return otelhttp.NewHandler(r, "swapd.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("address", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned to the current request.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTP(route, status)
		s.logger.Debug("http request",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(start)))
	})
}
