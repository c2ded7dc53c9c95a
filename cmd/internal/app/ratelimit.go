package app

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
)

// windowLimiter is a per-key sliding-window limiter. Every /auth/start hit
// writes a state row, so the OAuth endpoints are throttled per client IP.
type windowLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	clock  clock.Clock
}

func newWindowLimiter(limit int, window time.Duration, c clock.Clock) *windowLimiter {
	if c == nil {
		c = clock.Real()
	}
	return &windowLimiter{
		events: make(map[string][]time.Time),
		limit:  nonZeroInt(limit, 20),
		window: nonZeroDuration(window, time.Minute),
		clock:  c,
	}
}

// Allow records an event for key and reports whether it is within the
// limit. When it is not, the returned duration is how long until the oldest
// event leaves the window.
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	now := l.clock.Now()
	cut := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false, kept[0].Sub(cut)
	}
	l.events[key] = append(kept, now)

	// Opportunistic sweep so idle clients do not pin memory.
	if len(l.events) > 1024 {
		for k, ts := range l.events {
			if len(ts) == 0 || !ts[len(ts)-1].After(cut) {
				delete(l.events, k)
			}
		}
	}
	return true, 0
}

// withAuthRateLimit throttles requests under /auth/ by client IP.
func withAuthRateLimit(next http.Handler, lim *windowLimiter, trustProxy bool, log Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/auth/") {
			next.ServeHTTP(w, r)
			return
		}

		key := "unknown"
		if ip := clientIP(r, trustProxy); ip != nil {
			key = ip.String()
		}
		if ok, retryAfter := lim.Allow(key); !ok {
			log.Warn("http.rate_limited", "path", r.URL.Path, "ip", key, "retry_after", retryAfter.String())
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for p := range strings.SplitSeq(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
