// Package ratelimit keeps one token bucket per client address.
//
// Buckets live in an expiring cache: a client that stays idle for the idle
// window is dropped, and its next request starts from a full bucket.
package ratelimit

import (
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DefaultIdle is the idle window used when New is given zero.
const DefaultIdle = 10 * time.Minute

// Limiter is safe for concurrent use.
type Limiter struct {
	buckets *gocache.Cache
	rate    rate.Limit
	burst   int
}

// New returns a Limiter allowing rps requests per second per client with the
// given burst. Burst values below one are raised to one.
func New(rps float64, burst int, idle time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Limiter{
		buckets: gocache.New(idle, idle),
		rate:    rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	return l.get(client).Allow()
}

// Clients returns the number of tracked clients, expired ones included until
// the next sweep.
func (l *Limiter) Clients() int {
	return l.buckets.ItemCount()
}

// Sweep drops idle clients now instead of waiting for the janitor.
func (l *Limiter) Sweep() {
	l.buckets.DeleteExpired()
}

func (l *Limiter) get(client string) *rate.Limiter {
	if v, ok := l.buckets.Get(client); ok {
		b := v.(*rate.Limiter)
		// Touch to slide the idle window.
		l.buckets.SetDefault(client, b)
		return b
	}
	b := rate.NewLimiter(l.rate, l.burst)
	if err := l.buckets.Add(client, b, gocache.DefaultExpiration); err != nil {
		if v, ok := l.buckets.Get(client); ok {
			return v.(*rate.Limiter)
		}
	}
	return b
}

// Host strips the port from a host:port address.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
