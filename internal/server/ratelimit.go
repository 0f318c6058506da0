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

	"github.com/54b3r/corpus-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests/second per client on
	// ingest, retry and query.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client burst.
	defaultRateBurst = 20

	// limiterIdleTTL is how long an idle client bucket is kept.
	limiterIdleTTL = 5 * time.Minute
	// limiterSweepInterval is how often idle buckets are dropped.
	limiterSweepInterval = time.Minute
)

// clientBucket is one client's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token bucket per client IP. Embedding calls are
// the expensive part of ingest and query, so only those routes use it.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger
	now     func() time.Time
}

// newRateLimiter returns the limiter and a stop function for its sweeper.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(stop) }) }
}

func (rl *rateLimiter) bucket(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After header giving the seconds until a token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		res := rl.bucket(ip).Reserve()
		delay := res.Delay()
		if !res.OK() || delay > 0 {
			res.Cancel()
			wait := retryAfterSeconds(res.OK(), delay)
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.Int("retry_after_s", wait),
			)
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			writeError(r.Context(), w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(ok bool, delay time.Duration) int {
	if !ok || delay == rate.InfDuration {
		return 60
	}
	return max(1, int(math.Ceil(delay.Seconds())))
}

// clientIP is the host part of RemoteAddr. X-Forwarded-For is ignored;
// deployments behind a proxy should rate limit at the proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
