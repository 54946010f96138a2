// Package api serves the stored invoices, receiving records and
// reconciliation reports as read-only JSON.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
	"github.com/zombor/parts-recon/internal/store"
)

// Store is the read side of store.Store used by the handlers.
type Store interface {
	ListSuppliers(ctx context.Context) ([]store.SupplierSummary, error)
	ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]invoice.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	ListLineItems(ctx context.Context, invoiceID int64) ([]invoice.LineItem, error)
}

// ReportRunner builds reconciliation reports.
type ReportRunner interface {
	Run(ctx context.Context, variant reconcile.Variant, opts reconcile.Options) (*reconcile.Report, error)
}

// Artifacts opens stored invoice PDFs.
type Artifacts interface {
	Open(path string) (io.ReadCloser, error)
}

// BasicAuth holds basic authentication credentials. Both empty disables
// authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests.
type Server struct {
	store     Store
	reports   ReportRunner
	artifacts Artifacts
	basicAuth BasicAuth
	mux       *http.ServeMux
	handler   http.Handler

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewServer creates a Server with a default mux.
func NewServer(st Store, reports ReportRunner, artifacts Artifacts, basicAuth BasicAuth) *Server {
	return NewServerWithMux(st, reports, artifacts, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a Server with a custom mux for testing.
func NewServerWithMux(st Store, reports ReportRunner, artifacts Artifacts, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Server{
		store:     st,
		reports:   reports,
		artifacts: artifacts,
		basicAuth: basicAuth,
		mux:       mux,
		registry:  reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parts_recon_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parts_recon_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	s.registerRoutes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}).Handler(s.mux)
	return s
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="parts-recon"`)
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests per route pattern.
func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.instrument(s.requireAuth(h)))
}

func (s *Server) registerRoutes() {
	s.handle("GET /api/suppliers", s.handleListSuppliers)

	s.handle("GET /api/invoices/{id}/lines", s.handleListLines)
	s.handle("GET /api/invoices/{id}/coding", s.handleCoding)
	s.handle("GET /api/invoices/{id}/file", s.handleInvoiceFile)
	s.handle("GET /api/invoices/{id}", s.handleGetInvoice)
	s.handle("GET /api/invoices", s.handleListInvoices)

	s.handle("GET /api/reports/{variant}", s.handleReport)

	s.mux.Handle("GET /metrics", s.requireAuth(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP))
}

// Handler returns the mux wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "address", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("stopping server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
