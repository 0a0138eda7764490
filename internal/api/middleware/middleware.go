// Package middleware provides HTTP middleware for the farmscan API server:
// request logging, metrics, panic recovery, rate limiting and content type
// checks.
package middleware

//go:generate mockgen -source=middleware.go -destination=mocks/mock_recorder.go -package=mocks

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// HTTP method constants
const (
	methodPOST  = "POST"
	methodPUT   = "PUT"
	methodPATCH = "PATCH"
)

// ContextKey represents a context key type.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"
	// StartTimeKey is the context key for request start time.
	StartTimeKey ContextKey = "start_time"
	// httpErrorThreshold is the status code threshold for HTTP errors.
	httpErrorThreshold = 400

	// Idle client limiters are dropped after this long.
	limiterIdleTTL = 10 * time.Minute
)

// HTTPRecorder receives per-request metrics.
type HTTPRecorder interface {
	IncrementHTTPRequests(method, path, status string)
	RecordHTTPDuration(method, path string, duration time.Duration)
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	lastScan time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		lastScan: time.Now(),
	}
}

// Allow checks if a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastScan) > limiterIdleTTL {
		rl.cleanupLocked(now)
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(rl.clients, ip)
		}
	}
	rl.lastScan = now
}

// Logging creates a logging middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generateRequestID()
			}
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, StartTimeKey, start)
			r = r.WithContext(ctx)

			wrapped := wrap(w)
			w.Header().Set("X-Request-ID", requestID)

			if logger != nil {
				logger.Debug("HTTP request started",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", getClientIP(r))
			}

			next.ServeHTTP(wrapped, r)

			if logger != nil {
				log := logger.Info
				if IsError(wrapped.statusCode) {
					log = logger.Warn
				}
				log("HTTP request completed",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"status_code", wrapped.statusCode,
					"response_size", wrapped.size,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote_addr", getClientIP(r))
			}
		})
	}
}

// Metrics creates a metrics middleware that collects HTTP request metrics.
// Paths are reported as route templates so task ids do not become labels.
func Metrics(recorder HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			if recorder == nil {
				return
			}
			path := routeTemplate(r)
			recorder.IncrementHTTPRequests(r.Method, path, strconv.Itoa(wrapped.statusCode))
			recorder.RecordHTTPDuration(r.Method, path, time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Recovery creates a recovery middleware that catches panics.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := GetRequestID(r)

					logger.Error("HTTP request panic recovered",
						"request_id", requestID,
						"method", r.Method,
						"path", r.URL.Path,
						"panic", err,
						"stack", string(debug.Stack()),
						"remote_addr", getClientIP(r))

					writeJSONError(w, http.StatusInternalServerError, map[string]interface{}{
						"error":      "Internal server error",
						"request_id": requestID,
						"timestamp":  time.Now().UTC(),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit creates a per-client rate limiting middleware. Health probes
// are never limited.
func RateLimit(rps float64, burst int, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/liveness") || strings.HasSuffix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := getClientIP(r)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(rps, 'f', -1, 64))

			if !limiter.Allow(clientIP) {
				logger.Warn("Rate limit exceeded",
					"request_id", GetRequestID(r),
					"client_ip", clientIP,
					"path", r.URL.Path)

				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":      "Rate limit exceeded",
					"message":    fmt.Sprintf("Maximum %g requests per second", rps),
					"request_id": GetRequestID(r),
					"timestamp":  time.Now().UTC(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ContentType rejects bodies that are not JSON on POST, PUT and PATCH.
func ContentType() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == methodPOST || r.Method == methodPUT || r.Method == methodPATCH {
				contentType := r.Header.Get("Content-Type")
				if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
					writeJSONError(w, http.StatusUnsupportedMediaType, map[string]interface{}{
						"error":      "Unsupported media type",
						"message":    "Content-Type must be application/json",
						"received":   contentType,
						"request_id": GetRequestID(r),
						"timestamp":  time.Now().UTC(),
					})
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds common security headers.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// responseWriter wraps http.ResponseWriter to capture response information.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func wrap(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// IsError reports whether status counts as a failed request.
func IsError(status int) bool {
	return status >= httpErrorThreshold
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(r *http.Request) string {
	return RequestIDFromContext(r.Context())
}

// RequestIDFromContext extracts the request ID stored by Logging.
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}

// getClientIP extracts the real client IP address from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
