package edits

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/stemforge/internal/media"
	"github.com/stemforge/pkg/logger"
)

// ExportSpec describes one file to write: a source audio path, a target path
// whose extension selects the format, and the tags to embed. Label and TrackID
// are the derived identifiers written as custom frames alongside the standard
// tags.
type ExportSpec struct {
	Source    string
	Dest      string
	Bitrate   int // kbps, mp3 only
	Tags      media.Tags
	Label     string
	TrackID   string
	CoverPath string
}

// Export writes one artifact via ffmpeg, embedding the tag contract and the
// branding cover when available.
func Export(ctx context.Context, spec ExportSpec) error {
	args := []string{"-hide_banner", "-y", "-i", spec.Source}

	cover := spec.CoverPath != "" && strings.HasSuffix(strings.ToLower(spec.Dest), ".mp3")
	if cover {
		if _, err := os.Stat(spec.CoverPath); err != nil {
			cover = false
		}
	}

	if cover {
		args = append(args,
			"-i", spec.CoverPath,
			"-map", "0:a", "-map", "1:0",
			"-c:v", "copy",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)",
		)
	}

	if strings.HasSuffix(strings.ToLower(spec.Dest), ".mp3") {
		bitrate := spec.Bitrate
		if bitrate == 0 {
			bitrate = 320
		}
		args = append(args, "-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", bitrate), "-id3v2_version", "3")
	} else {
		args = append(args, "-c:a", "pcm_s16le")
	}

	args = append(args, metadataArgs(spec)...)
	args = append(args, spec.Dest)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg export %s: %w\n%s", spec.Dest, err, tail(string(out), 800))
	}

	info, err := os.Stat(spec.Dest)
	if err != nil {
		return fmt.Errorf("export not written: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("export is empty: %s", spec.Dest)
	}

	logger.Debugf("💿 Exported: %s", spec.Dest)
	return nil
}

// metadataArgs builds the -metadata flags for the fixed tag contract. Absent
// fields are simply omitted.
func metadataArgs(spec ExportSpec) []string {
	t := spec.Tags

	var args []string
	add := func(key, value string) {
		if value != "" {
			args = append(args, "-metadata", key+"="+value)
		}
	}

	add("title", t.Title)
	add("artist", t.Artist)
	add("album", t.Album)
	add("date", t.Date)
	add("track", t.Track)
	add("genre", t.Genre)
	add("TBPM", t.BPM)
	add("TSRC", t.ISRC)
	add("publisher", t.Publisher)
	add("LABEL", spec.Label)
	add("TRACK_ID", spec.TrackID)
	return args
}

// tail returns the last n bytes of s, for error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// bpmValue resolves the numeric BPM for catalog payloads: source metadata
// first, trailing filename number second, never detected.
func bpmValue(tagBPM, filenameBase string) int {
	if tagBPM != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(tagBPM)); err == nil {
			return v
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(tagBPM), 64); err == nil {
			return int(f)
		}
	}
	return BPMFromFilename(filenameBase)
}
