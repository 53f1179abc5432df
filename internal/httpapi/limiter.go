package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 5 * time.Minute
	limiterSweep = time.Minute
)

type bucket struct {
	*rate.Limiter
	used time.Time
}

// clientLimiter hands each client IP its own token bucket. A nil
// clientLimiter admits everything.
type clientLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newClientLimiter(rps, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

func (l *clientLimiter) allow(ip string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) >= limiterSweep {
		l.evictIdle(now)
	}
	b := l.buckets[ip]
	if b == nil {
		b = &bucket{Limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.used = now
	return b.AllowN(now, 1)
}

func (l *clientLimiter) evictIdle(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.used) > limiterIdle {
			delete(l.buckets, ip)
		}
	}
	l.swept = now
}

// clientIP is the first X-Forwarded-For hop, else the peer address.
func clientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
