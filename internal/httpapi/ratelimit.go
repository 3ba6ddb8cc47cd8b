package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	maxVisitors = 4096
	visitorIdle = 10 * time.Minute
)

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter hands every caller its own token bucket per endpoint.
// Authenticated requests are keyed by user id, the rest by remote IP.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time

	requests *prometheus.CounterVec // optional
	blocked  *prometheus.CounterVec // optional
}

func NewRateLimiter(rps float64, burst int, requests, blocked *prometheus.CounterVec) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
		requests: requests,
		blocked:  blocked,
	}
}

func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= maxVisitors {
			l.sweep(now)
		}
		v = &visitor{lim: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *RateLimiter) sweep(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.seen) > visitorIdle {
			delete(l.visitors, k)
		}
	}
}

func (l *RateLimiter) Middleware(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.requests != nil {
				l.requests.WithLabelValues(endpoint).Inc()
			}
			key := callerID(r)
			if key == "" {
				key, _, _ = net.SplitHostPort(r.RemoteAddr)
			}
			if !l.Allow(endpoint + "|" + key) {
				if l.blocked != nil {
					l.blocked.WithLabelValues(endpoint).Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
