package separator

import (
	"regexp"
	"strconv"
	"strings"
)

// Update is one progress observation from a batch run.
type Update struct {
	Percent float64 // 0–100 across the whole batch
	File    string  // current input file, if known
	Index   int     // 1-based index of the current file within the batch
	Step    string
}

// ProgressSource turns the engine's line-oriented output into progress
// updates. The textual contract is unversioned, so missing or unrecognized
// lines simply produce no update; they never error.
type ProgressSource interface {
	Consume(line string) (Update, bool)
}

var (
	separatingRe = regexp.MustCompile(`(?i)separating track\s+(.+?)\s*$`)
	// trailing tqdm fragment like " 45%|████▌ "
	tqdmRe = regexp.MustCompile(`(\d{1,3})%\|`)
)

// separation owns the first half of the progress range; edits own the rest
const separationBand = 50.0

// engineProgress scrapes demucs output. A "Separating track" line advances the
// file index; an embedded tqdm percentage blends fractional progress within
// the current file's share of the separation band.
type engineProgress struct {
	totalFiles int
	doneBefore int // files completed in earlier chunks
	chunkLabel string

	currentInChunk int // 0 until the first announce line
	currentFile    string
}

// newEngineProgress creates the scraper for one chunk of a batch.
func newEngineProgress(totalFiles, doneBefore int, chunkLabel string) *engineProgress {
	return &engineProgress{
		totalFiles: totalFiles,
		doneBefore: doneBefore,
		chunkLabel: chunkLabel,
	}
}

func (p *engineProgress) Consume(line string) (Update, bool) {
	if m := separatingRe.FindStringSubmatch(line); m != nil {
		p.currentInChunk++
		p.currentFile = strings.TrimSpace(m[1])
		return p.update(0), true
	}

	if p.currentInChunk == 0 {
		// tqdm noise before the first announce line carries no position
		return Update{}, false
	}

	if m := tqdmRe.FindStringSubmatch(line); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			return Update{}, false
		}
		return p.update(float64(pct) / 100), true
	}

	return Update{}, false
}

// update computes the batch-wide percent: completed files plus the fractional
// share of the file currently separating, all inside the separation band.
func (p *engineProgress) update(fraction float64) Update {
	completed := p.doneBefore + p.currentInChunk - 1
	pct := (float64(completed) + fraction) / float64(p.totalFiles) * separationBand

	return Update{
		Percent: pct,
		File:    p.currentFile,
		Index:   p.doneBefore + p.currentInChunk,
		Step:    "Separating " + p.chunkLabel,
	}
}

// completedInChunk reports how many files this chunk has announced so far.
func (p *engineProgress) completedInChunk() int {
	return p.currentInChunk
}
