package registry

import (
	"path/filepath"
	"strings"
	"sync"
)

// fileState tracks which of a track's files have been retrieved.
type fileState struct {
	downloaded    map[string]bool
	allDownloaded bool
}

// DownloadStatus is the strict per-file tracking structure: every registered
// file must be individually marked downloaded before a track is considered
// fully retrieved.
type DownloadStatus struct {
	mu     sync.Mutex
	tracks map[string]*fileState
}

// NewDownloadStatus creates an empty per-file download tracker.
func NewDownloadStatus() *DownloadStatus {
	return &DownloadStatus{tracks: make(map[string]*fileState)}
}

// Register starts tracking a track's files, all initially not downloaded.
// Re-registration resets any previous marks.
func (d *DownloadStatus) Register(track string, files []string) {
	st := &fileState{downloaded: make(map[string]bool, len(files))}
	for _, f := range files {
		st.downloaded[f] = false
	}
	d.mu.Lock()
	d.tracks[track] = st
	d.mu.Unlock()
}

// Tracked reports whether per-file state exists for a track.
func (d *DownloadStatus) Tracked(track string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tracks[track]
	return ok
}

// MarkDownloaded marks one file retrieved and reports whether every registered
// file for the track has now been marked. The file argument may be the exact
// registered name, a basename, or a distinctive fragment of it.
func (d *DownloadStatus) MarkDownloaded(track, file string) (allDownloaded, found bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.tracks[track]
	if !ok {
		return false, false
	}

	key, ok := st.match(file)
	if !ok {
		return st.allDownloaded, false
	}
	st.downloaded[key] = true

	st.allDownloaded = true
	for _, done := range st.downloaded {
		if !done {
			st.allDownloaded = false
			break
		}
	}
	return st.allDownloaded, true
}

// MarkAllDownloaded marks every file of a track retrieved.
func (d *DownloadStatus) MarkAllDownloaded(track string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.tracks[track]
	if !ok {
		return false
	}
	for f := range st.downloaded {
		st.downloaded[f] = true
	}
	st.allDownloaded = true
	return true
}

// AllDownloaded reports whether every file of a track has been marked.
func (d *DownloadStatus) AllDownloaded(track string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.tracks[track]
	return ok && st.allDownloaded
}

// Snapshot returns the per-file map for a track (copy).
func (d *DownloadStatus) Snapshot(track string) (map[string]bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.tracks[track]
	if !ok {
		return nil, false
	}
	out := make(map[string]bool, len(st.downloaded))
	for f, done := range st.downloaded {
		out[f] = done
	}
	return out, true
}

// Remove drops tracking for a track.
func (d *DownloadStatus) Remove(track string) {
	d.mu.Lock()
	delete(d.tracks, track)
	d.mu.Unlock()
}

// match resolves a requested file name against the registered keys: exact
// match first, then basename, then containment either way.
func (s *fileState) match(file string) (string, bool) {
	if _, ok := s.downloaded[file]; ok {
		return file, true
	}
	base := filepath.Base(file)
	for key := range s.downloaded {
		if filepath.Base(key) == base {
			return key, true
		}
	}
	for key := range s.downloaded {
		if strings.Contains(key, file) || strings.Contains(file, filepath.Base(key)) {
			return key, true
		}
	}
	return "", false
}
