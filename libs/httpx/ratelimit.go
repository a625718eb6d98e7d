package httpx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of one limiter check. RetryAfter is how long until
// the current window resets.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process fixed-window limiter. Counters are per
// replica and therefore approximate behind a load balancer.
type RateLimiter struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
	sweepAt  time.Time
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

// WithClock replaces the time source; used by tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	return rl.allow(key), nil
}

func (rl *RateLimiter) allow(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		v = &visitor{resetTime: now.Add(rl.window)}
		rl.visitors[key] = v
	}
	d := Decision{RetryAfter: v.resetTime.Sub(now)}
	if v.count >= rl.limit {
		return d
	}
	v.count++
	d.Allowed = true
	return d
}

// sweep drops expired visitors at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Before(rl.sweepAt) {
		return
	}
	for k, v := range rl.visitors {
		if now.After(v.resetTime) {
			delete(rl.visitors, k)
		}
	}
	rl.sweepAt = now.Add(rl.window)
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	// Prefix namespaces keys so several classes can share one limiter backend.
	Prefix string
	// Message is the human-readable body of a 429 response.
	Message string
	// Skip exempts a request from the limit.
	Skip     func(*http.Request) bool
	FailOpen bool
	// TrustProxy keys requests by the first X-Forwarded-For entry. Enable it
	// only behind a proxy that overwrites the header.
	TrustProxy bool
	Logger     *slog.Logger
}

// RateLimit rejects requests over the limit with 429, a Retry-After header and
// a JSON error body.
func RateLimit(l Limiter, opts RateLimitOptions) Middleware {
	msg := opts.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r, opts.TrustProxy)
			if opts.Prefix != "" {
				key = opts.Prefix + ":" + key
			}
			d, err := l.Allow(r.Context(), key)
			if err != nil {
				if opts.Logger != nil {
					opts.Logger.Warn("rate limiter error", "err", err, "request_id", RequestIDFromContext(r.Context()))
				}
				if opts.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable", nil)
				return
			}
			if !d.Allowed {
				if d.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				}
				WriteError(w, http.StatusTooManyRequests, msg, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			first, _, _ := strings.Cut(ip, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
