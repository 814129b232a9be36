package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
)

type attemptWindow struct {
	count      int
	windowEnds time.Time
}

type LoginRateLimiter struct {
	inner *ipRateLimiter
}

type IPRateLimiter struct {
	inner *ipRateLimiter
}

const defaultRateLimitEntries = 10000

type ipRateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	attempts   map[string]attemptWindow
}

func NewLoginRateLimiter(limit int, window time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{inner: newIPRateLimiter(limit, window, defaultRateLimitEntries)}
}

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return NewIPRateLimiterWithMaxEntries(limit, window, defaultRateLimitEntries)
}

// NewIPRateLimiterWithMaxEntries bounds the number of tracked client addresses.
func NewIPRateLimiterWithMaxEntries(limit int, window time.Duration, maxEntries int) *IPRateLimiter {
	return &IPRateLimiter{inner: newIPRateLimiter(limit, window, maxEntries)}
}

func newIPRateLimiter(limit int, window time.Duration, maxEntries int) *ipRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = defaultRateLimitEntries
	}
	return &ipRateLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		attempts:   map[string]attemptWindow{},
	}
}

func (rl *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.inner.middleware("Too many login attempts", next)
}

func (rl *IPRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return rl.inner.middleware(message, next)
	}
}

func (rl *ipRateLimiter) middleware(message string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r.RemoteAddr)
		if ip == "" {
			ip = "unknown"
		}

		entry, allowed := rl.hit(ip)
		if !allowed {
			retry := int(entry.windowEnds.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			httpx.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", message, nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *ipRateLimiter) hit(ip string) (attemptWindow, bool) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.attempts[ip]
	if !ok && len(rl.attempts) >= rl.maxEntries {
		rl.evict(now)
	}
	if entry.windowEnds.Before(now) {
		entry = attemptWindow{windowEnds: now.Add(rl.window)}
	}
	entry.count++
	rl.attempts[ip] = entry
	return entry, entry.count <= rl.limit
}

// evict drops expired windows, or the window closest to expiry when none has expired.
func (rl *ipRateLimiter) evict(now time.Time) {
	var (
		oldestIP  string
		oldestEnd time.Time
	)
	removed := false
	for ip, entry := range rl.attempts {
		if entry.windowEnds.Before(now) {
			delete(rl.attempts, ip)
			removed = true
			continue
		}
		if oldestIP == "" || entry.windowEnds.Before(oldestEnd) {
			oldestIP, oldestEnd = ip, entry.windowEnds
		}
	}
	if !removed && oldestIP != "" {
		delete(rl.attempts, oldestIP)
	}
}

func (rl *ipRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
