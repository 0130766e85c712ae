// Package media shells out to ffprobe/ffmpeg for tag probing and loudness
// analysis. All audio inspection goes through subprocesses; no decoding
// happens in-process.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Tags is the metadata read from (and written to) audio files.
type Tags struct {
	Title     string
	Artist    string
	Album     string
	Date      string
	Track     string
	Genre     string
	BPM       string
	ISRC      string
	Publisher string
}

type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe reads format-level tags from an audio file via ffprobe.
func Probe(ctx context.Context, path string) (Tags, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return Tags{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Tags{}, fmt.Errorf("ffprobe output: %w", err)
	}

	return tagsFromMap(probed.Format.Tags), nil
}

// tagsFromMap normalizes ffprobe's tag map: keys vary in case and naming
// across containers (TIT2 vs title, TBPM vs BPM).
func tagsFromMap(raw map[string]string) Tags {
	get := func(keys ...string) string {
		for _, k := range keys {
			for rk, v := range raw {
				if strings.EqualFold(rk, k) && strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v)
				}
			}
		}
		return ""
	}

	return Tags{
		Title:     get("title", "TIT2"),
		Artist:    get("artist", "TPE1"),
		Album:     get("album", "TALB"),
		Date:      get("date", "TDRC", "year"),
		Track:     get("track", "TRCK"),
		Genre:     get("genre", "TCON"),
		BPM:       get("TBPM", "BPM", "tempo"),
		ISRC:      get("TSRC", "ISRC"),
		Publisher: get("publisher", "TPUB", "label", "organization"),
	}
}
