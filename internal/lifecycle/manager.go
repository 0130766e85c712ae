// Package lifecycle owns the artifact state machine: pending artifacts are
// confirmed by the consumer, scheduled for deletion after a delay (or deleted
// immediately in strict per-file mode), and evicted oldest-first under disk
// pressure.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stemforge/internal/fileops"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/pkg/logger"
)

// ErrTrackNotFound is returned for confirmations naming an unknown track.
var ErrTrackNotFound = errors.New("track not found")

// NotFoundError wraps ErrTrackNotFound with operator debugging hints.
type NotFoundError struct {
	Track        string
	Suggestions  []string
	PendingCount int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("track %q not found (%d pending)", e.Track, e.PendingCount)
}

func (e *NotFoundError) Unwrap() error { return ErrTrackNotFound }

// maximum fuzzy-matched candidates returned with a not-found error
const maxSuggestions = 5

// Manager drives track artifacts from pending through deletion.
type Manager struct {
	pending   *registry.PendingSet
	downloads *registry.DownloadStatus // nil unless per-file tracking
	scheduled *registry.ScheduleSet

	deleteDelay time.Duration
	sweepEvery  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager. downloads may be nil to disable strict per-file mode.
func New(pending *registry.PendingSet, downloads *registry.DownloadStatus, scheduled *registry.ScheduleSet, deleteDelay, sweepEvery time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pending:     pending,
		downloads:   downloads,
		scheduled:   scheduled,
		deleteDelay: deleteDelay,
		sweepEvery:  sweepEvery,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the scheduled-deletion sweeper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweeper()
	logger.Infof("🗑️ Lifecycle sweeper started (every %v, delete delay %v)", m.sweepEvery, m.deleteDelay)
}

// Stop cancels the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Confirm handles a consumer's download confirmation for a track.
//
// Strict per-file mode deletes immediately. Otherwise the track moves from
// pending to scheduled-for-deletion with the configured delay. Confirming an
// already-scheduled track is a no-op; an unknown name yields a NotFoundError
// with fuzzy suggestions.
func (m *Manager) Confirm(track string) error {
	// per-file mode: a confirmation stands in for every remaining file
	if m.downloads != nil && m.downloads.Tracked(track) {
		m.downloads.MarkAllDownloaded(track)
		logger.Infof("📬 Confirmed (strict mode): %s, deleting now", track)
		m.Delete(track)
		return nil
	}

	if entry, ok := m.pending.Remove(track); ok {
		m.scheduled.Schedule(entry, m.deleteDelay)
		logger.Infof("📬 Confirmed: %s, deletion in %v", track, m.deleteDelay)
		return nil
	}

	if m.scheduled.Contains(track) {
		logger.Debugf("📬 Confirm repeat for already-scheduled %s", track)
		return nil
	}

	return &NotFoundError{
		Track:        track,
		Suggestions:  m.Similar(track),
		PendingCount: m.pending.Count(),
	}
}

// MarkFileDownloaded records one file retrieved in strict per-file mode. The
// last file triggers immediate deletion, bypassing the delay.
func (m *Manager) MarkFileDownloaded(track, file string) (bool, error) {
	if m.downloads == nil {
		return false, fmt.Errorf("per-file tracking disabled")
	}

	all, found := m.downloads.MarkDownloaded(track, file)
	if !found {
		if !m.downloads.Tracked(track) {
			return false, &NotFoundError{
				Track:        track,
				Suggestions:  m.Similar(track),
				PendingCount: m.pending.Count(),
			}
		}
		return false, fmt.Errorf("file %q not registered for %q", file, track)
	}

	if all {
		logger.Infof("📥 All files of %s downloaded, deleting now", track)
		m.Delete(track)
	}
	return all, nil
}

// Delete reclaims everything a track left on disk: the processed directory,
// the original upload, and the engine's intermediate directory. Each is
// removed independently, absence tolerated, errors logged; tracking entries
// always go afterwards so a half-deleted track is never re-served. Idempotent.
func (m *Manager) Delete(track string) {
	entry, ok := m.pending.Remove(track)
	if !ok {
		if sd, scheduled := m.scheduled.Remove(track); scheduled {
			entry = sd.Entry
			ok = true
		}
	}
	if m.downloads != nil {
		m.downloads.Remove(track)
	}
	if !ok {
		logger.Debugf("🗑️ Delete for untracked %s, nothing to do", track)
		return
	}

	m.removeFiles(entry)
	logger.Infof("🗑️ Deleted artifacts for %s", track)
}

func (m *Manager) removeFiles(entry registry.PendingEntry) {
	if entry.ProcessedDir != "" {
		if err := fileops.RemoveTree(entry.ProcessedDir); err != nil {
			logger.Warnf("⚠️ Remove processed dir %s: %v", entry.ProcessedDir, err)
		}
	}
	if entry.OriginalPath != "" {
		if err := fileops.Remove(entry.OriginalPath); err != nil {
			logger.Warnf("⚠️ Remove original %s: %v", entry.OriginalPath, err)
		}
	}
	if entry.SeparatedDir != "" {
		if err := fileops.RemoveTree(entry.SeparatedDir); err != nil {
			logger.Warnf("⚠️ Remove separated dir %s: %v", entry.SeparatedDir, err)
		}
	}
}

// EvictOldest force-deletes the n oldest tracks across pending and scheduled
// regardless of confirmation state. Returns the count removed and an estimate
// of the bytes freed.
func (m *Manager) EvictOldest(n int) (int, int64) {
	type victim struct {
		entry registry.PendingEntry
		born  time.Time
	}

	var victims []victim
	for _, e := range m.pending.List() {
		victims = append(victims, victim{entry: e, born: e.CreatedAt})
	}
	for _, sd := range m.scheduled.List() {
		victims = append(victims, victim{entry: sd.Entry, born: sd.Entry.CreatedAt})
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].born.Before(victims[j].born) })

	if n > 0 && len(victims) > n {
		victims = victims[:n]
	}

	var freed int64
	for _, v := range victims {
		if v.entry.ProcessedDir != "" {
			freed += fileops.DirSize(v.entry.ProcessedDir)
		}
		if v.entry.SeparatedDir != "" {
			freed += fileops.DirSize(v.entry.SeparatedDir)
		}
		logger.Warnf("💾 Evicting %s (created %s)", v.entry.Track, v.born.Format(time.RFC3339))
		m.Delete(v.entry.Track)
	}
	return len(victims), freed
}

// Similar returns up to maxSuggestions track names that loosely match the
// requested one, for not-found diagnostics.
func (m *Manager) Similar(track string) []string {
	needle := strings.ToLower(track)

	var hits []string
	names := m.pending.Names()
	for _, sd := range m.scheduled.List() {
		names = append(names, sd.Track)
	}
	sort.Strings(names)

	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(lower, needle) || strings.Contains(needle, lower) {
			hits = append(hits, name)
			if len(hits) == maxSuggestions {
				break
			}
		}
	}
	return hits
}

// CleanupAged deletes every tracked entry older than maxAge. Used by the
// periodic max-age sweep.
func (m *Manager) CleanupAged(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	n := 0
	for _, e := range m.pending.List() {
		if e.CreatedAt.Before(cutoff) {
			logger.Infof("🗑️ Max-age cleanup: %s", e.Track)
			m.Delete(e.Track)
			n++
		}
	}
	return n
}

// sweeper deletes scheduled entries whose delay has elapsed.
func (m *Manager) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			for _, sd := range m.scheduled.Due(time.Now()) {
				logger.Infof("🗑️ Deletion delay elapsed for %s", sd.Track)
				m.removeFiles(sd.Entry)
				if m.downloads != nil {
					m.downloads.Remove(sd.Track)
				}
			}
		}
	}
}
