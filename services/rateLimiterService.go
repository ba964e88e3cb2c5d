package services

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// RateLimiterService enforces a sliding-window request cap per client key.
// Timestamps older than the window are pruned lazily on each check; the
// check-and-append runs under one lock so concurrent requests from the same
// client cannot slip past the cap.
type RateLimiterService struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string][]time.Time
	now     func() time.Time
}

func NewRateLimiterService(limit int) *RateLimiterService {
	return &RateLimiterService{
		limit:   limit,
		window:  time.Minute,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether the client may proceed and, if so, records the
// request in its window.
func (s *RateLimiterService) Allow(clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := lo.Filter(s.buckets[clientKey], func(t time.Time, _ int) bool {
		return now.Sub(t) < s.window
	})

	if len(kept) >= s.limit {
		s.buckets[clientKey] = kept
		return false
	}

	s.buckets[clientKey] = append(kept, now)
	return true
}
