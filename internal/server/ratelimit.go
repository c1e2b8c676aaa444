package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterMaxTracked = 10000
)

// RateLimit bounds anonymous ballot traffic per client address. A zero
// PerMinute disables limiting.
type RateLimit struct {
	PerMinute int
	Burst     int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newIPLimiter(cfg RateLimit) *ipLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *ipLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= limiterMaxTracked {
			l.sweep(now)
		}
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *ipLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newRateLimitMiddleware applies the limiter to requests under prefix.
func newRateLimitMiddleware(prefix string, cfg RateLimit) func(http.Handler) http.Handler {
	if cfg.PerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newIPLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.allow(clientAddr(r), time.Now()) {
				w.Header().Set("Retry-After", "60")
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many anonymous ballots from this address", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
