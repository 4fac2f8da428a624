package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter throttles inbound traffic per (business, sender) pair. Bursts
// from one abusive sender must not starve the worker pool for a whole tenant.
type SenderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*senderEntry
	rate     rate.Limit
	burst    int
}

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSenderLimiter(r float64, burst int) *SenderLimiter {
	l := &SenderLimiter{
		limiters: make(map[string]*senderEntry),
		rate:     rate.Limit(r),
		burst:    burst,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a message from the given sender may proceed now.
func (l *SenderLimiter) Allow(businessID, senderID string) bool {
	key := businessID + ":" + senderID

	l.mu.Lock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &senderEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

func (l *SenderLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-30 * time.Minute)
		l.mu.Lock()
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.mu.Unlock()
	}
}
