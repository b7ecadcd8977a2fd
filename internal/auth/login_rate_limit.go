package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxTrackedIPs = 5000

type ipBucket struct {
	windowStart time.Time
	hits        int
}

// LoginRateLimiter caps login attempts per client IP with a fixed window.
// State is in-process only, which matches the single-instance demo scope.
type LoginRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	buckets map[string]*ipBucket
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits: maxHits,
		window:  window,
		buckets: make(map[string]*ipBucket),
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(clientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[ip]
	if !ok || now.Sub(bucket.windowStart) >= l.window {
		if !ok && len(l.buckets) >= maxTrackedIPs {
			l.evictStale(now)
		}
		l.buckets[ip] = &ipBucket{windowStart: now, hits: 1}
		return true, 0
	}

	if bucket.hits >= l.maxHits {
		retryAfter := bucket.windowStart.Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	bucket.hits++
	return true, 0
}

func (l *LoginRateLimiter) evictStale(now time.Time) {
	for ip, bucket := range l.buckets {
		if now.Sub(bucket.windowStart) >= l.window {
			delete(l.buckets, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
