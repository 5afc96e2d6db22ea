package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// zapLogger logs one line per request with method, path, status,
// duration and the request id chi assigned.
func zapLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// tokenBucket is a per-client request limiter refilled continuously.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	refill   float64 // tokens per second
	clients  map[string]*bucketState
	now      func() time.Time
}

type bucketState struct {
	tokens float64
	last   time.Time
}

func newTokenBucket(perMinute int) *tokenBucket {
	return &tokenBucket{
		capacity: float64(perMinute),
		refill:   float64(perMinute) / 60.0,
		clients:  make(map[string]*bucketState),
		now:      time.Now,
	}
}

func (tb *tokenBucket) allow(client string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	st, ok := tb.clients[client]
	if !ok {
		st = &bucketState{tokens: tb.capacity, last: now}
		tb.clients[client] = st
	}

	st.tokens += now.Sub(st.last).Seconds() * tb.refill
	if st.tokens > tb.capacity {
		st.tokens = tb.capacity
	}
	st.last = now

	if st.tokens < 1 {
		return false
	}
	st.tokens--
	return true
}

// rateLimit rejects clients that exhaust their token bucket with 429.
func rateLimit(tb *tokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			if !tb.allow(client) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

// bearerAuth requires the configured API token on every route except
// health and metrics. An empty token disables auth, for development.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
