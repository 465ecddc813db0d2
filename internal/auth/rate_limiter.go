package auth

import (
	"sync"
	"time"
)

// rateWindow tracks requests from one client address
type rateWindow struct {
	Count    int
	FirstTry time.Time
	LastTry  time.Time
}

// GuestRateLimiter is a fixed-window limiter for anonymous chat traffic,
// keyed by client IP.
type GuestRateLimiter struct {
	windows map[string]*rateWindow
	mu      sync.Mutex
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once

	maxRequests int
	window      time.Duration
}

// NewGuestRateLimiter allows maxRequests per window per IP. A non-positive
// maxRequests disables limiting.
func NewGuestRateLimiter(maxRequests int, window time.Duration) *GuestRateLimiter {
	limiter := &GuestRateLimiter{
		windows:     make(map[string]*rateWindow),
		now:         time.Now,
		stop:        make(chan struct{}),
		maxRequests: maxRequests,
		window:      window,
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow records a request from ip and reports whether it may proceed
func (l *GuestRateLimiter) Allow(ip string) bool {
	if l.maxRequests <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[ip]
	if !exists || now.Sub(w.FirstTry) > l.window {
		l.windows[ip] = &rateWindow{Count: 1, FirstTry: now, LastTry: now}
		return true
	}

	if w.Count >= l.maxRequests {
		return false
	}

	w.Count++
	w.LastTry = now
	return true
}

// Close stops the cleanup goroutine
func (l *GuestRateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *GuestRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *GuestRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, w := range l.windows {
		if now.Sub(w.LastTry) > l.window {
			delete(l.windows, ip)
		}
	}
}
