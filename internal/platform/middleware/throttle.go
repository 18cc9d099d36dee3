// Package middleware holds transport middleware that is not domain-specific.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/platform/httputil"
	"sitecheck/pkg/requestcontext"
)

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttle applies a per-IP token bucket to anonymous requests. Authenticated
// callers are governed by the plan quota guard instead, so requests with a
// resolved user skip this check.
type Throttle struct {
	ratePerMin int
	burst      int
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

// NewThrottle creates a per-IP throttle. Stale limiter entries are evicted
// lazily on each pass to bound memory.
func NewThrottle(ratePerMin, burst int, logger *slog.Logger) *Throttle {
	return &Throttle{
		ratePerMin: ratePerMin,
		burst:      burst,
		logger:     logger,
		limiters:   make(map[string]*ipLimiter),
	}
}

func (t *Throttle) limiterFor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, entry := range t.limiters {
		if now.Sub(entry.lastAccess) > 10*time.Minute {
			delete(t.limiters, key)
		}
	}

	entry, ok := t.limiters[ip]
	if !ok {
		entry = &ipLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(t.ratePerMin)/60.0), t.burst),
		}
		t.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// Handler wraps next with the anonymous throttle.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !requestcontext.UserID(ctx).IsNil() {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !t.limiterFor(ip).Allow() {
			t.logger.WarnContext(ctx, "anonymous request throttled",
				"ip", ip,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, slow down"))
			return
		}

		next.ServeHTTP(w, r.WithContext(requestcontext.WithClientIP(ctx, ip)))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
