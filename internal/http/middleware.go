package api

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"live-polling/internal/metrics"
	"live-polling/internal/platform/apperr"
)

var slogLogger = slog.Default()

func SetLogger(l *slog.Logger) {
	if l != nil {
		slogLogger = l
	}
}

// RateLimit allows each client address r events per second with the given
// burst. It must run after chimw.RealIP so proxies are unwrapped.
func RateLimit(r rate.Limit, burst int) func(http.Handler) http.Handler {
	visitors := newVisitorLimiter(r, burst, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if ok, wait := visitors.allow(clientIP(req)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				errorResponse(w, apperr.TooManyRequests("rate_limited", "too many requests", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// RequestLogger records one metric and one log line per request. Websocket
// sessions are logged when the connection ends, with their total duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)

		status := rw.Status()
		if status == 0 {
			// hijacked by the websocket upgrade
			status = http.StatusSwitchingProtocols
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.IncRequest(r.Method, route, status)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slogLogger.Log(r.Context(), level, "request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

func newVisitorLimiter(limit rate.Limit, burst int, idle time.Duration) *visitorLimiter {
	return &visitorLimiter{
		visitors:  make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
	}
}

// allow reports whether addr may proceed and, if not, roughly how long
// until its next token.
func (l *visitorLimiter) allow(addr string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > l.idle {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.lastSeen = now

	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, time.Duration(float64(time.Second) / float64(l.limit))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
