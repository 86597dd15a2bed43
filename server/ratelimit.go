package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window budget per client identifier. Endpoints
// overrides the budget for a named endpoint group (triggers, audits); groups
// without an override share the base budget.
type RateLimitConfig struct {
	Limit     int                       `mapstructure:"limit"`
	Window    time.Duration             `mapstructure:"window"`
	Endpoints map[string]EndpointBudget `mapstructure:"endpoints"`
}

// EndpointBudget is a per-endpoint rate-limit override.
type EndpointBudget struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DefaultRateLimit returns the production default of 100 requests per minute.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{Limit: 100, Window: time.Minute}
}

type rateWindow struct {
	start time.Time
	count int
}

// rateLimiter is a windowed counter per client key. A request either fits in
// the current window or is rejected whole; it never partially executes.
type rateLimiter struct {
	cfg   RateLimitConfig
	nowFn func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Limit < 1 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{cfg: cfg, nowFn: time.Now, windows: make(map[string]*rateWindow)}
}

// allow consumes one token for key. It returns the remaining budget and,
// when rejected, the wait until the window resets.
func (rl *rateLimiter) allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	now := rl.nowFn()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[key]
	if !exists || now.Sub(w.start) >= rl.cfg.Window {
		w = &rateWindow{start: now}
		rl.windows[key] = w
	}

	if w.count >= rl.cfg.Limit {
		return false, 0, w.start.Add(rl.cfg.Window).Sub(now)
	}
	w.count++
	return true, rl.cfg.Limit - w.count, 0
}

// clientKey identifies the caller: API key header when present, remote IP
// otherwise.
func clientKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// middleware enforces the budget and attaches the X-RateLimit headers on
// every response.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, retryAfter := rl.allow(clientKey(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Limit))
		w.Header().Set("X-RateLimit-Window", strconv.FormatInt(int64(rl.cfg.Window.Seconds()), 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			secs := int64(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			writeRateLimited(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
