package stream

import "sync"

// maxTotalStreams caps concurrent sweeps across all clients.
const maxTotalStreams = 64

// streamLimiter counts running sweeps per client and in total.
type streamLimiter struct {
	mu       sync.Mutex
	active   map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newStreamLimiter(maxPerIP int) *streamLimiter {
	return &streamLimiter{
		active:   make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotalStreams,
	}
}

// acquire reserves a slot for ip, or reports false when either limit is
// reached.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.active[ip] >= l.maxPerIP {
		return false
	}
	l.active[ip]++
	l.total++
	return true
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.active[ip]--; l.active[ip] <= 0 {
		delete(l.active, ip)
	}
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ip]
}
