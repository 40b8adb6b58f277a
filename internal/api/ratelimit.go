package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limitClass is one route family's token-bucket budget. Burst is the quota a
// quiet client can spend at once; every is the refill interval.
type limitClass struct {
	name  string
	every time.Duration
	burst int
}

var (
	authLimit    = limitClass{name: "auth", every: 12 * time.Second, burst: 5}
	uploadLimit  = limitClass{name: "upload", every: 6 * time.Minute, burst: 10}
	processLimit = limitClass{name: "process", every: 3 * time.Minute, burst: 20}
	queryLimit   = limitClass{name: "query", every: 3 * time.Minute, burst: 20}
)

// limiterSet hands out one bucket per (class, client) pair. Buckets live for
// the life of the process; keys are per account or per address, so the map
// stays small enough that eviction is not worth the bookkeeping.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{buckets: make(map[string]*rate.Limiter)}
}

func (ls *limiterSet) get(class limitClass, key string) *rate.Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	k := class.name + "|" + key
	lim, ok := ls.buckets[k]
	if !ok {
		lim = rate.NewLimiter(rate.Every(class.every), class.burst)
		ls.buckets[k] = lim
	}
	return lim
}

// rateLimit rejects requests exceeding the class budget for the calling
// client: keyed by account once authenticated, by remote address before.
func (s *Server) rateLimit(class limitClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.limits.get(class, clientKey(r)).Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if id := userID(r.Context()); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
