package network

import (
	"net"
	"sync"
	"time"
)

// rateTracker counts events per source address within a one second window.
type rateTracker struct {
	mu        sync.Mutex
	counts    map[string]*rateBucket
	maxPerSec int
	now       func() time.Time
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

func newRateTracker(maxPerSec int) *rateTracker {
	return &rateTracker{
		counts:    make(map[string]*rateBucket),
		maxPerSec: maxPerSec,
		now:       time.Now,
	}
}

func (rt *rateTracker) allow(ip string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	b, ok := rt.counts[ip]
	if !ok || now.Sub(b.windowStart) >= time.Second {
		rt.counts[ip] = &rateBucket{count: 1, windowStart: now}
		rt.prune(now)
		return true
	}
	b.count++
	return b.count <= rt.maxPerSec
}

// prune forgets addresses whose window closed long ago.
func (rt *rateTracker) prune(now time.Time) {
	if len(rt.counts) < 1024 {
		return
	}
	for ip, b := range rt.counts {
		if now.Sub(b.windowStart) > time.Minute {
			delete(rt.counts, ip)
		}
	}
}

func extractIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
