package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/aarutech20/indicVoice/internal/ingest"
	"github.com/aarutech20/indicVoice/internal/metrics"
)

const (
	defaultMaxBodyBytes   = 10 << 20
	defaultPingInterval   = 30 * time.Second
	defaultWSWriteTimeout = 10 * time.Second
	defaultMaxInflight    = 4
)

// Config contains HTTP server configuration
type Config struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// WebSocket tuning. An empty AllowedOrigins accepts any origin.
	AllowedOrigins []string
	PingInterval   time.Duration
	WSWriteTimeout time.Duration
	MaxInflight    int
}

// HTTPServer serves the REST API, the WebSocket endpoint and /metrics.
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	logger   *slog.Logger
	pipeline *ingest.Pipeline
	metrics  *metrics.Metrics
	storage  string
	config   Config
	upgrader websocket.Upgrader

	startTime time.Time

	// Open WebSocket connections. Shutdown does not close hijacked
	// connections, so Stop closes them itself.
	mu      sync.Mutex
	conns   map[*wsConn]struct{}
	closing bool
	connsWG sync.WaitGroup
}

// NewHTTPServer creates the server. storage names the store backend for the
// health endpoint. m may be nil.
func NewHTTPServer(cfg Config, logger *slog.Logger, pipeline *ingest.Pipeline, storage string, m *metrics.Metrics) *HTTPServer {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = defaultWSWriteTimeout
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}

	h := &HTTPServer{
		logger:    logger,
		pipeline:  pipeline,
		metrics:   m,
		storage:   storage,
		config:    cfg,
		startTime: time.Now(),
		conns:     make(map[*wsConn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	h.router = h.setupRoutes()
	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/", h.withMetrics("/api/health/", h.handleHealth))
		r.Get("/languages/", h.withMetrics("/api/languages/", h.handleLanguages))
		r.Post("/transcribe/", h.withMetrics("/api/transcribe/", h.handleTranscribe))
		r.Post("/session/create/", h.withMetrics("/api/session/create/", h.handleCreateSession))
		r.Get("/session/{sessionID}/", h.withMetrics("/api/session/{id}/", h.handleGetSession))
		r.Post("/session/{sessionID}/end/", h.withMetrics("/api/session/{id}/end/", h.handleEndSession))
		r.Get("/session/{sessionID}/results/", h.withMetrics("/api/session/{id}/results/", h.handleSessionResults))
	})

	// The WebSocket route records connection metrics instead of request
	// metrics, since the handler lives as long as the connection.
	r.Get(`/ws/transcription/{sessionID:\w+}/`, h.handleWebSocket)

	r.Handle("/metrics", h.metrics.Handler())

	return r
}

// Handler returns the root handler, for use with httptest.
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("server: response writer does not support hijacking")
	}
	return hj.Hijack()
}

// ListenAndServe serves until Stop is called. It returns nil after a clean
// shutdown.
func (h *HTTPServer) ListenAndServe() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server, then closes open WebSocket
// connections and waits for their in-flight chunks to finish.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	err := h.server.Shutdown(ctx)

	h.mu.Lock()
	h.closing = true
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeGoingAway()
	}

	done := make(chan struct{})
	go func() {
		h.connsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (h *HTTPServer) track(c *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c] = struct{}{}
	h.connsWG.Add(1)
	return true
}

func (h *HTTPServer) untrack(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.connsWG.Done()
}

func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
