package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

type debounceKey struct {
	addr models.Address
	tag  string
}

// DebounceGuard suppresses a repeated (address, tag) action within a window.
// It keeps only the most recent grant per key.
type DebounceGuard struct {
	clock  Clock
	mu     sync.Mutex
	stamps map[debounceKey]time.Time
}

// NewDebounceGuard creates a DebounceGuard.
func NewDebounceGuard(clock Clock) *DebounceGuard {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DebounceGuard{
		clock:  clock,
		stamps: make(map[debounceKey]time.Time),
	}
}

// ShouldSkip returns true if the same (address, tag) action was taken within
// window. Otherwise it records now as the last grant and returns false. The
// check and the record happen under one lock.
func (g *DebounceGuard) ShouldSkip(addr models.Address, tag string, window time.Duration) bool {
	now := g.clock.Now()
	key := debounceKey{addr, tag}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.stamps[key]; ok && now.Sub(last) < window {
		slog.Debug("DebounceGuard ShouldSkip: suppressed", "address", addr, "tag", tag, "since", now.Sub(last))
		return true
	}
	g.stamps[key] = now
	return false
}

// Mark records now as the last grant for (address, tag) without checking.
func (g *DebounceGuard) Mark(addr models.Address, tag string) {
	now := g.clock.Now()
	g.mu.Lock()
	g.stamps[debounceKey{addr, tag}] = now
	g.mu.Unlock()
}
