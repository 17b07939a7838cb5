// Package ratelimit throttles callers with one token bucket per client key.
package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"spendlog/internal/log"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// Burst is how many requests a client may make at once; defaults to
	// RequestsPerMinute.
	Burst int
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		IdleTTL:           10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter hands out a rate.Limiter per client and forgets idle clients.
type Limiter struct {
	mu      sync.Mutex
	clients *gocache.Cache
	limit   rate.Limit
	burst   int
	rpm     int
	logger  *log.Logger

	hits atomic.Int64
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	TotalHits   int64 `json:"totalHits"`
	ClientCount int64 `json:"clientCount"`
}

func NewLimiter(config Config, logger *log.Logger) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	return &Limiter{
		clients: gocache.New(config.IdleTTL, config.CleanupInterval),
		limit:   rate.Every(time.Minute / time.Duration(config.RequestsPerMinute)),
		burst:   config.Burst,
		rpm:     config.RequestsPerMinute,
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentRateLimit),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.clients.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.clients.Set(key, lim, gocache.DefaultExpiration)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients.Set(key, lim, gocache.DefaultExpiration)
	return lim
}

// Allow reports whether the client identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l.bucket(key).Allow() {
		return true
	}
	l.hits.Add(1)
	return false
}

// ActiveClients returns the number of currently tracked clients
func (l *Limiter) ActiveClients() int {
	return l.clients.ItemCount()
}

func (l *Limiter) Metrics() Metrics {
	return Metrics{
		TotalHits:   l.hits.Load(),
		ClientCount: int64(l.clients.ItemCount()),
	}
}

// retryAfter is the number of seconds until one token is available again.
func (l *Limiter) retryAfter() string {
	secs := math.Ceil(60 / float64(l.rpm))
	return strconv.Itoa(int(math.Max(1, secs)))
}

// Middleware rejects requests over the limit with 429. key picks the client
// identity; onLimit, when set, writes the rejection instead of the default.
func (l *Limiter) Middleware(key func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !l.Allow(k) {
				log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
					"client", k,
					log.FieldPath, r.URL.Path,
					"limit", fmt.Sprintf("%d/min", l.rpm))
				w.Header().Set("Retry-After", l.retryAfter())
				if onLimit != nil {
					onLimit(w, r)
					return
				}
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
