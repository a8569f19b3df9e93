// Package ratelimit throttles HTTP clients to a fixed number of
// requests per minute. State is per client address in fixed one-minute
// windows; stale clients are pruned as a side effect of admission.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const pruneAfter = 5 * time.Minute

type window struct {
	start time.Time
	count int
}

// Limiter admits or rejects requests per client key.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*window
	now       func() time.Time
}

func New(perMinute int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		clients:   make(map[string]*window),
		now:       time.Now,
	}
}

// Allow records one request for the client and reports whether it fits
// in the current window.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[client]
	if !ok || now.Sub(w.start) >= time.Minute {
		l.pruneLocked(now)
		l.clients[client] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.perMinute
}

// Middleware rejects over-limit requests with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, w := range l.clients {
		if now.Sub(w.start) >= pruneAfter {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
