package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter keeps one token bucket per caller address, falling back to
// the client IP for anonymous requests.
type callerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*limiterEntry
	now     func() time.Time
	pruned  time.Time
}

const limiterIdle = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(perSecond float64, burst int) *callerLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst < 1 {
		burst = 1
	}
	return &callerLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *callerLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.pruned) > limiterIdle {
		l.pruneLocked(now.Add(-limiterIdle))
		l.pruned = now
	}
	e, ok := l.buckets[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *callerLimiter) pruneLocked(cutoff time.Time) int {
	n := 0
	for key, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

func (l *callerLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := string(callerAddress(r))
		if key == "" {
			key = "ip:" + r.RemoteAddr
		}
		lim := l.get(key)
		if !lim.Allow() {
			res := lim.Reserve()
			delay := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
