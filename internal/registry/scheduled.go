package registry

import (
	"sync"
	"time"
)

// ScheduledDeletion is a confirmed track waiting out its deletion delay.
type ScheduledDeletion struct {
	Track       string       `json:"track"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	DeleteAfter time.Time    `json:"delete_after"`
	Entry       PendingEntry `json:"entry"`
}

// ScheduleSet tracks confirmed tracks whose deletion delay is running.
type ScheduleSet struct {
	mu      sync.Mutex
	entries map[string]ScheduledDeletion
}

// NewScheduleSet creates an empty deletion schedule.
func NewScheduleSet() *ScheduleSet {
	return &ScheduleSet{entries: make(map[string]ScheduledDeletion)}
}

// Schedule records a deletion due after the given delay, capturing the pending
// entry snapshot so files remain reclaimable after the pending entry is gone.
func (s *ScheduleSet) Schedule(entry PendingEntry, delay time.Duration) ScheduledDeletion {
	now := time.Now()
	sd := ScheduledDeletion{
		Track:       entry.Track,
		ScheduledAt: now,
		DeleteAfter: now.Add(delay),
		Entry:       entry,
	}
	s.mu.Lock()
	s.entries[entry.Track] = sd
	s.mu.Unlock()
	return sd
}

// Contains reports whether a track is scheduled.
func (s *ScheduleSet) Contains(track string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[track]
	return ok
}

// Remove deletes the schedule entry for a track.
func (s *ScheduleSet) Remove(track string) (ScheduledDeletion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.entries[track]
	if ok {
		delete(s.entries, track)
	}
	return sd, ok
}

// Count returns the number of scheduled deletions.
func (s *ScheduleSet) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Due returns and removes every entry whose delay has elapsed at now.
func (s *ScheduleSet) Due(now time.Time) []ScheduledDeletion {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []ScheduledDeletion
	for track, sd := range s.entries {
		if !now.Before(sd.DeleteAfter) {
			due = append(due, sd)
			delete(s.entries, track)
		}
	}
	return due
}

// List returns all scheduled deletions.
func (s *ScheduleSet) List() []ScheduledDeletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledDeletion, 0, len(s.entries))
	for _, sd := range s.entries {
		out = append(out, sd)
	}
	return out
}
