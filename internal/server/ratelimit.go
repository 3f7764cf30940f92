package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// multiLimiter keeps one token bucket per key, evicting buckets idle longer
// than idleTTL. Keys are client addresses for the unlock throttle.
type multiLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newMultiLimiter(limit rate.Limit, burst int, idleTTL time.Duration) *multiLimiter {
	return &multiLimiter{
		limit:   limit,
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

func (m *multiLimiter) allow(key string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.idleTTL {
			delete(m.buckets, k)
		}
	}

	b := m.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now
	return b.lim.Allow()
}

// clientKey identifies the caller for per-client throttling. The daemon
// binds to loopback, so the socket address is authoritative; forwarding
// headers such as X-Forwarded-For are client-controlled and must not be
// trusted, or any caller could reset its unlock budget per request.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
