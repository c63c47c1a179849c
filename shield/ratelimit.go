package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sonde/kit"
)

// RateLimitRule defines the rate limit for a single endpoint
// ("METHOD /path") or the "*" default.
type RateLimitRule struct {
	MaxRequests   int
	WindowSeconds int
}

// RateLimits maps endpoints to their rules. Endpoints without a rule
// fall back to "*"; no "*" entry means unmatched endpoints are
// unlimited.
type RateLimits map[string]RateLimitRule

// DefaultRateLimits bounds the expensive aggregation endpoint tighter
// than the rest of the API.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		"POST /api/search": {MaxRequests: 30, WindowSeconds: 60},
		"*":                {MaxRequests: 120, WindowSeconds: 60},
	}
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint rate limiting with fixed
// windows. Rules are static; expired buckets are garbage collected.
type RateLimiter struct {
	rules   RateLimits
	buckets sync.Map
	exclude []string // path prefixes excluded from rate limiting
}

// NewRateLimiter creates a rate limiter over a static rule set.
func NewRateLimiter(rules RateLimits, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		rules:   rules,
		exclude: excludePrefixes,
	}
	go rl.gcLoop()
	return rl
}

func (rl *RateLimiter) gcLoop() {
	tick := time.NewTicker(5 * time.Minute)
	defer tick.Stop()
	for range tick.C {
		now := time.Now()
		rl.buckets.Range(func(key, value any) bool {
			b := value.(*bucket)
			b.mu.Lock()
			expired := now.After(b.resetAt)
			b.mu.Unlock()
			if expired {
				rl.buckets.Delete(key)
			}
			return true
		})
	}
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	rule, ok := rl.rules[endpoint]
	if !ok {
		rule, ok = rl.rules["*"]
	}
	if !ok {
		return true
	}

	key := ip + ":" + endpoint
	now := time.Now()
	window := time.Duration(rule.WindowSeconds) * time.Second

	val, _ := rl.buckets.LoadOrStore(key, &bucket{resetAt: now.Add(window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}
	b.count++
	return b.count <= rule.MaxRequests
}

// Middleware is the HTTP middleware that enforces rate limits with a
// 429 JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		// RequestID runs earlier in the stack and has already resolved
		// the client IP; fall back for bare use outside the stack.
		ip := kit.GetRemoteAddr(r.Context())
		if ip == "" {
			ip = ExtractIP(r)
		}

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
