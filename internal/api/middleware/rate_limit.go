package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vibhukrishnas/sams-sub010/internal/config"
)

// Per-client rate limiting. Metric ingest is the hot endpoint and gets its own
// configurable budget; reads and other writes use fixed tiers.

const (
	// Reads: 120 requests/minute per client
	rateLimitGetPerMin = 120
	rateLimitGetBurst  = 120
	// Other writes: 60 requests/minute per client
	rateLimitStandardPerMin = 60
	rateLimitStandardBurst  = 60
)

type rateLimitTier int

const (
	tierIngest rateLimitTier = iota
	tierGet
	tierStandard
)

// apiRateLimiter holds per-client limiters per tier.
type apiRateLimiter struct {
	ingestRate  rate.Limit
	ingestBurst int

	mu       sync.Mutex
	ingest   map[string]*rate.Limiter
	get      map[string]*rate.Limiter
	standard map[string]*rate.Limiter
}

func newAPIRateLimiter(ingestPerSec float64, ingestBurst int) *apiRateLimiter {
	if ingestBurst <= 0 {
		ingestBurst = int(ingestPerSec)
	}
	return &apiRateLimiter{
		ingestRate:  rate.Limit(ingestPerSec),
		ingestBurst: ingestBurst,
		ingest:      make(map[string]*rate.Limiter),
		get:         make(map[string]*rate.Limiter),
		standard:    make(map[string]*rate.Limiter),
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func tierForRequest(r *http.Request) rateLimitTier {
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/metrics") {
		return tierIngest
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return tierGet
	}
	return tierStandard
}

func (l *apiRateLimiter) limiterConfig(t rateLimitTier) (rate.Limit, int) {
	switch t {
	case tierIngest:
		return l.ingestRate, l.ingestBurst
	case tierGet:
		return rate.Limit(float64(rateLimitGetPerMin) / 60.0), rateLimitGetBurst
	default:
		return rate.Limit(float64(rateLimitStandardPerMin) / 60.0), rateLimitStandardBurst
	}
}

func (l *apiRateLimiter) limitHeader(t rateLimitTier) int {
	switch t {
	case tierIngest:
		return int(float64(l.ingestRate) * 60)
	case tierGet:
		return rateLimitGetPerMin
	default:
		return rateLimitStandardPerMin
	}
}

func (l *apiRateLimiter) getLimiter(ip string, t rateLimitTier) *rate.Limiter {
	limit, burst := l.limiterConfig(t)
	var m map[string]*rate.Limiter
	switch t {
	case tierIngest:
		m = l.ingest
	case tierGet:
		m = l.get
	default:
		m = l.standard
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := m[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(limit, burst)
	m[ip] = lim
	return lim
}

// RateLimit returns token-bucket middleware keyed by client IP. The ingest
// tier is driven by config; a zero ingest rate disables limiting for every
// tier (agents on a trusted network). Health and Prometheus endpoints are
// always exempt. Returns 429 with Retry-After and X-RateLimit-* headers.
func RateLimit(cfg *config.Config) func(http.Handler) http.Handler {
	limiter := newAPIRateLimiter(cfg.IngestRatePerSec, cfg.IngestRateBurst)
	enabled := cfg.IngestRatePerSec > 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			path := r.URL.Path
			if path == "/healthz/live" || path == "/healthz/ready" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			ip := getClientIP(r)
			tier := tierForRequest(r)
			lim := limiter.getLimiter(ip, tier)
			reservation := lim.Reserve()
			if !reservation.OK() {
				tooManyRequests(w, limiter.limitHeader(tier), 60)
				return
			}
			delay := reservation.Delay()
			if delay > 0 {
				reservation.Cancel()
				retryAfter := int(delay.Seconds()) + 1
				if retryAfter > 60 {
					retryAfter = 60
				}
				tooManyRequests(w, limiter.limitHeader(tier), retryAfter)
				return
			}
			tokens := int(lim.Tokens())
			if tokens < 0 {
				tokens = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limitHeader(tier)))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, limit, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"Too many requests. Please retry later."}`))
}
