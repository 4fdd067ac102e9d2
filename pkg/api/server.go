package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"brainlink/pkg/engine"
	"brainlink/pkg/metrics"
	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type Config struct {
	Addr string
	Name string
}

// Server exposes the daemon's live state over HTTP.
type Server struct {
	cfg     Config
	latest  *engine.Latest
	stats   metrics.StatsSource
	drops   metrics.DropSource
	metrics *metrics.Metrics
	log     zerolog.Logger
	link    atomic.Int32
	started time.Time

	httpServer *http.Server
	listener   net.Listener
}

type Option func(*Server)

func WithLatest(l *engine.Latest) Option {
	return func(s *Server) {
		s.latest = l
	}
}

func WithStats(stats metrics.StatsSource, drops metrics.DropSource) Option {
	return func(s *Server) {
		s.stats = stats
		s.drops = drops
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		log:     zerolog.Nop(),
		started: time.Now(),
	}
	s.link.Store(int32(transport.StateDisconnected))
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetLinkState records the headset link state reported by the transport.
func (s *Server) SetLinkState(state transport.ConnectionState) {
	s.link.Store(int32(state))
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, path, status, time.Since(start))
		}

		event := s.log.Debug()
		if status >= 500 {
			event = s.log.Error()
		} else if status >= 400 {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http_request")
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
	Link   string `json:"link"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Device: s.cfg.Name,
		Link:   transport.ConnectionState(s.link.Load()).String(),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.latest == nil {
		writeError(w, "state tracking disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.latest.Snapshot())
}

type hubStats struct {
	PublishDrops uint64 `json:"publish_drops"`
	DeliverDrops uint64 `json:"deliver_drops"`
}

type statsResponse struct {
	Decoder *protocol.Stats `json:"decoder,omitempty"`
	Hub     *hubStats       `json:"hub,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Decoder = &st
	}
	if s.drops != nil {
		published, delivered := s.drops.Drops()
		resp.Hub = &hubStats{PublishDrops: published, DeliverDrops: delivered}
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Listen binds the configured address. Run calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
