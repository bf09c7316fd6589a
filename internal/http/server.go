// Package http exposes the chat pipeline over a small JSON API, next to the
// health, readiness and metrics endpoints.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ledgerchat/internal/dispatch"
	"ledgerchat/internal/log"
	"ledgerchat/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// MessageHandler runs one chat message and returns the replies.
type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message) ([]string, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	// APIToken, when set, is required as a bearer token on /api/messages.
	APIToken string
	Metrics  *metrics.Collector
	Logger   *log.Logger
	Checks   []ReadinessCheck
	// RateLimit is the number of POSTs allowed per client IP per minute.
	RateLimit int
}

type Server struct {
	http.Server
	handler     MessageHandler
	apiToken    string
	metrics     *metrics.Collector
	checks      []ReadinessCheck
	rateLimiter *rateLimiter
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, h MessageHandler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		handler:     h,
		apiToken:    opts.APIToken,
		metrics:     opts.Metrics,
		checks:      opts.Checks,
		rateLimiter: newRateLimiter(opts.RateLimit, time.Minute),
		started:     time.Now(),
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/messages", s.withAuth(s.handleMessages))
	s.route(mux, "GET /healthz", s.handleHealth)
	s.route(mux, "GET /readyz", s.handleReady)
	if opts.Metrics != nil {
		s.route(mux, "GET /metrics", opts.Metrics.Handler().ServeHTTP)
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           withRequestID(log.Middleware(logger)(log.RequestIDMiddleware(requestIDOf)(mux))),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// The LLM round trip happens inside the request.
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, s.withTracing(pattern, h))
}

// Shutdown stops the rate limiter and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequestID keeps a well-formed inbound request id or assigns a new one,
// and echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = generateRequestID()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestIDOf(r *http.Request) string {
	return r.Header.Get(requestIDHeader)
}

// withTracing adds security headers, per-IP rate limiting of POSTs, request
// logging and metrics.
func (s *Server) withTracing(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		logger := log.FromContext(ctx)
		clientIP := extractClientIP(r)
		logger.HTTPStart(ctx, r, clientIP)

		if detectSuspiciousRequest(r) {
			s.metrics.SuspiciousRequest()
			logger.WarnContext(ctx, "Suspicious request", log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path, log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			s.metrics.RateLimitHit()
			logger.WarnContext(ctx, "Rate limit exceeded", log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", "60")
			writeError(rw, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		} else {
			next(rw, r)
		}

		d := time.Since(start)
		logger.HTTPEnd(ctx, r, rw.statusCode, d, clientIP)
		s.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(rw.statusCode), d)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
