package solve

import "sync"

// Limiter bounds concurrent solve requests per client IP and globally.
// Polling the external service blocks a request goroutine for up to the
// poll budget, so an unbounded client could pin arbitrarily many.
type Limiter struct {
	mu       sync.Mutex
	inFlight map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

// NewLimiter creates a Limiter allowing maxPerIP concurrent solves per IP.
func NewLimiter(maxPerIP int) *Limiter {
	if maxPerIP <= 0 {
		maxPerIP = 2
	}
	return &Limiter{
		inFlight: make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: 64, // Global cap.
	}
}

// Acquire attempts to register a solve for the given IP.
// Returns false if the IP or global limit has been reached.
func (l *Limiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return false
	}
	if l.inFlight[ip] >= l.maxPerIP {
		return false
	}

	l.inFlight[ip]++
	l.total++
	return true
}

// Release decrements the in-flight count for the given IP.
func (l *Limiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inFlight[ip]--
	l.total--
	if l.inFlight[ip] <= 0 {
		delete(l.inFlight, ip)
	}
}
