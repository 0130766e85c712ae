package fileops

import (
	"os"
	"path/filepath"
	"sort"
)

var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".aiff": true,
	".aif":  true,
	".m4a":  true,
	".ogg":  true,
	".aac":  true,
}

// IsAudioFile checks if the file has a supported audio extension.
func IsAudioFile(path string) bool {
	return audioExts[filepath.Ext(path)]
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists checks if a file or directory exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a file. Missing files are not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveTree removes a directory and everything under it. Missing trees are
// not an error; the concurrent-deletion case must stay quiet.
func RemoveTree(path string) error {
	err := os.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FindAudioFiles returns all audio files in a directory (recursive).
func FindAudioFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && IsAudioFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// HasAudioFiles reports whether dir exists and contains at least one audio file
// at its top level.
func HasAudioFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && IsAudioFile(e.Name()) {
			return true
		}
	}
	return false
}

// DirSize returns the total size in bytes of all files under dir.
// Files that vanish mid-walk are skipped.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// SubdirInfo describes one immediate subdirectory of a parent folder.
type SubdirInfo struct {
	Name    string
	Path    string
	ModTime int64 // unix seconds
}

// OldestSubdirs returns up to n immediate subdirectories of dir, oldest first
// by modification time.
func OldestSubdirs(dir string, n int) ([]SubdirInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var subs []SubdirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		subs = append(subs, SubdirInfo{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime().Unix(),
		})
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].ModTime < subs[j].ModTime })

	if n > 0 && len(subs) > n {
		subs = subs[:n]
	}
	return subs, nil
}
