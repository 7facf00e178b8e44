package util

import (
	"net/url"
	"strings"
	"sync"
)

// HostLimiters hands out one Limiter per upstream host so the RPC and the
// indexer are throttled independently.
type HostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	burst    int
}

func NewHostLimiters(r float64, b int) *HostLimiters {
	return &HostLimiters{
		limiters: make(map[string]*Limiter),
		rate:     r,
		burst:    b,
	}
}

// For returns the limiter for rawURL's host. Unparseable URLs share the
// limiter of their raw text.
func (h *HostLimiters) For(rawURL string) *Limiter {
	key := strings.ToLower(strings.TrimSpace(rawURL))
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		key = strings.ToLower(u.Host)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = NewLimiter(h.rate, h.burst)
		h.limiters[key] = l
	}
	return l
}

// Len is the number of hosts seen so far.
func (h *HostLimiters) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}
