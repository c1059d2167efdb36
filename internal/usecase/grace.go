package usecase

import (
	"slices"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// GraceTracker maps a disallowed package to the grace period it is currently in.
// Each period gets a cycle number so a deferred check can tell whether it still
// belongs to the period it was scheduled for. Not safe for concurrent use.
type GraceTracker struct {
	entries   map[string]domain.GraceEntry
	lastCycle uint64
}

// NewGraceTracker creates an empty tracker.
func NewGraceTracker() *GraceTracker {
	return &GraceTracker{entries: make(map[string]domain.GraceEntry)}
}

// Begin starts a grace period for pkg. If pkg is already tracked the existing entry
// is returned with started=false and nothing changes.
func (g *GraceTracker) Begin(pkg string, now time.Time) (entry domain.GraceEntry, started bool) {
	if existing, ok := g.entries[pkg]; ok {
		return existing, false
	}
	g.lastCycle++
	entry = domain.GraceEntry{Package: pkg, StartedAt: now, Cycle: g.lastCycle}
	g.entries[pkg] = entry
	return entry, true
}

// Contains reports whether pkg is in a grace period.
func (g *GraceTracker) Contains(pkg string) bool {
	_, ok := g.entries[pkg]
	return ok
}

// Resolve removes the entry for pkg if it belongs to cycle.
// It returns false when the entry is gone or was replaced by a later cycle.
func (g *GraceTracker) Resolve(pkg string, cycle uint64) bool {
	entry, ok := g.entries[pkg]
	if !ok || entry.Cycle != cycle {
		return false
	}
	delete(g.entries, pkg)
	return true
}

// Remove drops pkg unconditionally.
func (g *GraceTracker) Remove(pkg string) {
	delete(g.entries, pkg)
}

// RetainOnly drops every entry except the one for foreground.
func (g *GraceTracker) RetainOnly(foreground string) {
	for pkg := range g.entries {
		if pkg != foreground {
			delete(g.entries, pkg)
		}
	}
}

// Clear drops all entries. Cycle numbers keep increasing.
func (g *GraceTracker) Clear() {
	clear(g.entries)
}

// Len returns the number of tracked packages.
func (g *GraceTracker) Len() int { return len(g.entries) }

// Entries returns the tracked entries sorted by package.
func (g *GraceTracker) Entries() []domain.GraceEntry {
	out := make([]domain.GraceEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.GraceEntry) int {
		return strings.Compare(a.Package, b.Package)
	})
	return out
}

// recentSet suppresses repeated window-state events for the same package.
type recentSet struct {
	ttl  time.Duration
	seen map[string]time.Time
}

func newRecentSet(ttl time.Duration) *recentSet {
	return &recentSet{ttl: ttl, seen: make(map[string]time.Time)}
}

// checkAndMark reports whether pkg was marked within ttl of now; if not, marks it.
func (r *recentSet) checkAndMark(pkg string, now time.Time) bool {
	for p, at := range r.seen {
		if now.Sub(at) >= r.ttl {
			delete(r.seen, p)
		}
	}
	if _, ok := r.seen[pkg]; ok {
		return true
	}
	r.seen[pkg] = now
	return false
}

func (r *recentSet) reset() {
	clear(r.seen)
}
