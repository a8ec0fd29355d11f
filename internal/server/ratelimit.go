package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/ragcore-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client rate, in tokens per second.
	defaultRateLimit = 10

	// defaultRateBurst is the per-client bucket size.
	defaultRateBurst = 20

	// generationCost is the number of tokens a chat or image request takes.
	// Both hold an upstream model call, so they drain the bucket faster than
	// document and search requests.
	generationCost = 5

	// limiterIdleTTL is how long a client's bucket survives without traffic.
	limiterIdleTTL = 5 * time.Minute
)

// clientBucket is one client's token bucket and the last time it was used.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token-bucket limit per client address. Routes take
// a weighted number of tokens per request.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket

	rps        rate.Limit
	burst      int
	trustProxy bool
	log        *slog.Logger
	now        func() time.Time
}

// newRateLimiter starts a limiter and its eviction loop. The returned function
// stops the loop. With trustProxy set, the client address is read from the
// first X-Forwarded-For entry.
func newRateLimiter(rps float64, burst int, trustProxy bool, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:    make(map[string]*clientBucket),
		rps:        rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		log:        log,
		now:        time.Now,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict drops buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware limits next at one token per request.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return rl.weighted(1, next)
}

// weighted limits next at cost tokens per request. A cost above the burst is
// clamped so the route stays reachable.
func (rl *rateLimiter) weighted(cost int, next http.Handler) http.Handler {
	if cost > rl.burst {
		cost = rl.burst
	}
	if cost < 1 {
		cost = 1
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r, rl.trustProxy)
		now := rl.now()

		res := rl.bucket(client).ReserveN(now, cost)
		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
				slog.Int("cost", cost),
				slog.Duration("retry_after", delay),
			)
			w.Header().Set("Retry-After", retryAfter(delay))
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded",
				Code:  "rate_limited",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 || d == rate.InfDuration {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the address used to key the rate limit. X-Forwarded-For is
// only honoured when the server sits behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
