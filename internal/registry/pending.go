// Package registry holds the in-memory maps that track generated artifacts:
// which files exist per track, which have been downloaded, and which tracks are
// scheduled for deletion. Each structure owns its own mutex and no code path
// takes two of them at once.
package registry

import (
	"sort"
	"sync"
	"time"
)

// PendingEntry describes one track's generated artifact set awaiting download.
type PendingEntry struct {
	Track        string    `json:"track"`
	FilesTotal   int       `json:"files_total"`
	Files        []string  `json:"files"`
	OriginalPath string    `json:"original_path"`
	ProcessedDir string    `json:"processed_dir"`
	SeparatedDir string    `json:"separated_dir"`
	CreatedAt    time.Time `json:"created_at"`
}

// PressureLevel classifies how close the pending set is to its caps.
type PressureLevel int

const (
	PressureOK PressureLevel = iota
	PressureWarning
	PressureCritical
)

// PendingSet tracks artifact sets that exist on disk but have not been
// confirmed as retrieved.
type PendingSet struct {
	mu      sync.Mutex
	entries map[string]PendingEntry

	warnAt int
	capAt  int
}

// NewPendingSet creates a pending-download tracker with the given soft warning
// threshold and hard cap.
func NewPendingSet(warnAt, capAt int) *PendingSet {
	return &PendingSet{
		entries: make(map[string]PendingEntry),
		warnAt:  warnAt,
		capAt:   capAt,
	}
}

// Register adds or replaces the entry for a track. Re-registration (a track
// re-processed before confirmation) replaces the previous snapshot.
func (p *PendingSet) Register(e PendingEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.FilesTotal = len(e.Files)
	p.mu.Lock()
	p.entries[e.Track] = e
	p.mu.Unlock()
}

// Get returns the entry for a track, if present.
func (p *PendingSet) Get(track string) (PendingEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[track]
	return e, ok
}

// Remove deletes the entry for a track and returns the removed snapshot.
func (p *PendingSet) Remove(track string) (PendingEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[track]
	if ok {
		delete(p.entries, track)
	}
	return e, ok
}

// Contains reports whether a track is registered.
func (p *PendingSet) Contains(track string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[track]
	return ok
}

// Count returns the number of outstanding artifact sets.
func (p *PendingSet) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// List returns all entries, oldest first.
func (p *PendingSet) List() []PendingEntry {
	p.mu.Lock()
	out := make([]PendingEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Oldest returns up to n entries ordered by creation time.
func (p *PendingSet) Oldest(n int) []PendingEntry {
	all := p.List()
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Names returns all registered track names.
func (p *PendingSet) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	return names
}

// Pressure classifies the current count against the configured thresholds.
func (p *PendingSet) Pressure() (int, PressureLevel) {
	count := p.Count()
	switch {
	case p.capAt > 0 && count >= p.capAt:
		return count, PressureCritical
	case p.warnAt > 0 && count >= p.warnAt:
		return count, PressureWarning
	default:
		return count, PressureOK
	}
}

// AtCapacity reports whether new enqueues must be rejected.
func (p *PendingSet) AtCapacity() bool {
	_, level := p.Pressure()
	return level == PressureCritical
}
