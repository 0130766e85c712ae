package media

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// Loudness holds the mean (RMS) and peak levels of an audio file in dBFS.
type Loudness struct {
	MeanDB float64
	PeakDB float64
}

var (
	meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)
	maxVolumeRe  = regexp.MustCompile(`max_volume:\s*(-?[\d.]+)\s*dB`)
)

// AnalyzeLoudness runs ffmpeg's volumedetect filter over a file and extracts
// the mean and max volume it reports on stderr.
func AnalyzeLoudness(ctx context.Context, path string) (Loudness, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-i", path,
		"-af", "volumedetect",
		"-f", "null", "-",
	)

	// volumedetect writes its report to stderr
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Loudness{}, fmt.Errorf("volumedetect %s: %w", path, err)
	}

	return parseLoudness(string(out))
}

func parseLoudness(report string) (Loudness, error) {
	mean := meanVolumeRe.FindStringSubmatch(report)
	if mean == nil {
		return Loudness{}, fmt.Errorf("no mean_volume in volumedetect output")
	}
	meanDB, err := strconv.ParseFloat(mean[1], 64)
	if err != nil {
		return Loudness{}, fmt.Errorf("parse mean_volume %q: %w", mean[1], err)
	}

	l := Loudness{MeanDB: meanDB, PeakDB: meanDB}
	if max := maxVolumeRe.FindStringSubmatch(report); max != nil {
		if peak, err := strconv.ParseFloat(max[1], 64); err == nil {
			l.PeakDB = peak
		}
	}
	return l, nil
}
