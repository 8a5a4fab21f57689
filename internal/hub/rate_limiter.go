package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces bursts of pane output into one message per interval.
type RateLimiter struct {
	mu       sync.Mutex
	emitMu   sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(pane string, text string)
}

type pendingOutput struct {
	texts []string
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(pane string, text string)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(pane string, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[pane]
	if !exists {
		p = &pendingOutput{}
		r.pending[pane] = p
	}
	p.texts = append(p.texts, text)

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.Flush(pane)
		})
	}
}

// Flush emits the pane's pending output now. Emission is serialized, so
// whatever the caller sends after Flush returns is ordered after it.
func (r *RateLimiter) Flush(pane string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	p, exists := r.pending[pane]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, pane)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Unlock()

	if r.onFlush != nil && len(p.texts) > 0 {
		r.onFlush(pane, strings.Join(p.texts, ""))
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	panes := make([]string, 0, len(r.pending))
	for p := range r.pending {
		panes = append(panes, p)
	}
	r.mu.Unlock()

	for _, p := range panes {
		r.Flush(p)
	}
}
