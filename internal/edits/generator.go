package edits

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stemforge/internal/catalog"
	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/fileops"
	"github.com/stemforge/internal/media"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/pkg/logger"
)

// Variant names.
const (
	VariantMain         = "Main"
	VariantAcapella     = "Acapella"
	VariantInstrumental = "Instrumental"
)

// Generator produces the exported artifacts for one separated track and
// registers them with the artifact registry. Safe for concurrent use across
// tracks.
type Generator struct {
	folders   config.FoldersConfig
	sep       config.SeparatorConfig
	baseURL   string
	coverPath string

	pending   *registry.PendingSet
	downloads *registry.DownloadStatus // nil unless per-file tracking is on
	catalog   *catalog.Client          // nil when disabled
}

// NewGenerator wires a Generator. downloads and catalogClient may be nil.
func NewGenerator(cfg *config.Config, pending *registry.PendingSet, downloads *registry.DownloadStatus, catalogClient *catalog.Client) *Generator {
	folders := config.Folders()
	return &Generator{
		folders:   folders,
		sep:       cfg.Separator,
		baseURL:   strings.TrimRight(cfg.Server.BaseURL, "/"),
		coverPath: filepath.Join(folders.Covers, "branding.jpg"),
		pending:   pending,
		downloads: downloads,
		catalog:   catalogClient,
	}
}

// Result describes the artifacts generated for one track.
type Result struct {
	Track    string
	Variants []string
	Files    []string
}

// AlreadyProcessed reports whether an upload's track already has artifacts:
// either a registry entry or an existing processed directory with audio files.
// The registry is authoritative; the directory check reconciles state left by
// a previous process.
func (g *Generator) AlreadyProcessed(originalPath string) (string, bool) {
	track := g.trackTitle(context.Background(), originalPath)
	if g.pending.Contains(track) {
		return track, true
	}
	if fileops.HasAudioFiles(filepath.Join(g.folders.Processed, track)) {
		return track, true
	}
	return track, false
}

// trackTitle derives the display title: embedded title tag first, cleaned
// filename second.
func (g *Generator) trackTitle(ctx context.Context, originalPath string) string {
	base := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))

	tags, err := media.Probe(ctx, originalPath)
	if err == nil && tags.Title != "" {
		return CleanTitle(tags.Title)
	}
	return CleanTitle(base)
}

// StemPaths returns the separation engine's output paths for an input file.
func (g *Generator) StemPaths(originalPath string) (vocals, noVocals string) {
	base := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	dir := filepath.Join(g.folders.Separated, g.sep.Model, base)
	return filepath.Join(dir, "vocals.mp3"), filepath.Join(dir, "no_vocals.mp3")
}

// Generate exports all variants for one track and registers the artifact set.
func (g *Generator) Generate(ctx context.Context, originalPath string) (Result, error) {
	base := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))

	tags, err := media.Probe(ctx, originalPath)
	if err != nil {
		logger.Warnf("⚠️ Tag probe failed for %s: %v", filepath.Base(originalPath), err)
		tags = media.Tags{}
	}

	track := tags.Title
	if track == "" {
		track = base
	}
	track = CleanTitle(track)

	outDir := filepath.Join(g.folders.Processed, track)
	if err := fileops.EnsureDir(outDir); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	// Uploads whose title already names a variant skip separation entirely
	// and export only themselves.
	var variants []variantSource
	if named := NamedVariant(track); named != "" {
		logger.Infof("🎛️ %s already is a %s edit, exporting as-is", track, named)
		variants = []variantSource{{name: named, source: originalPath}}
	} else {
		variants = g.selectVariants(ctx, originalPath, track)
	}

	result := Result{Track: track}
	var files []string

	for _, v := range variants {
		exported, err := g.exportVariant(ctx, v, track, outDir, tags, base)
		if err != nil {
			return Result{}, fmt.Errorf("export %s: %w", v.name, err)
		}
		result.Variants = append(result.Variants, v.name)
		files = append(files, exported...)
	}
	result.Files = files

	g.pending.Register(registry.PendingEntry{
		Track:        track,
		Files:        files,
		OriginalPath: originalPath,
		ProcessedDir: outDir,
		SeparatedDir: g.separatedDir(originalPath),
	})
	if g.downloads != nil {
		g.downloads.Register(track, files)
	}

	logger.Infof("✅ Generated %d artifacts for %s (%s)", len(files), track, strings.Join(result.Variants, ", "))
	return result, nil
}

type variantSource struct {
	name   string
	source string
}

// selectVariants applies the variant rules: Main always, Acapella only when
// the vocals stem carries audible vocals, Instrumental whenever the no-vocals
// stem exists.
func (g *Generator) selectVariants(ctx context.Context, originalPath, track string) []variantSource {
	vocals, noVocals := g.StemPaths(originalPath)

	variants := []variantSource{{name: VariantMain, source: originalPath}}

	if fileops.Exists(vocals) {
		if g.hasVocals(ctx, vocals, track) {
			variants = append(variants, variantSource{name: VariantAcapella, source: vocals})
		}
	}
	if fileops.Exists(noVocals) {
		variants = append(variants, variantSource{name: VariantInstrumental, source: noVocals})
	}
	return variants
}

// hasVocals checks the vocals stem's mean level against the silence threshold.
// Analysis failures assume vocals are present.
func (g *Generator) hasVocals(ctx context.Context, vocalsPath, track string) bool {
	l, err := media.AnalyzeLoudness(ctx, vocalsPath)
	if err != nil {
		logger.Warnf("⚠️ Vocal analysis failed for %s, assuming vocals present: %v", track, err)
		return true
	}

	if l.MeanDB < g.sep.VocalRMSThreshold {
		logger.Infof("🎹 %s is instrumental (vocals RMS %.1f dBFS < %.0f), skipping Acapella",
			track, l.MeanDB, g.sep.VocalRMSThreshold)
		return false
	}
	logger.Debugf("🎤 %s has vocals (RMS %.1f dBFS, peak %.1f dBFS)", track, l.MeanDB, l.PeakDB)
	return true
}

// exportVariant writes the MP3 and WAV for one variant in parallel and sends
// the catalog notifications.
func (g *Generator) exportVariant(ctx context.Context, v variantSource, track, outDir string, src media.Tags, filenameBase string) ([]string, error) {
	display := fmt.Sprintf("%s - %s", track, v.name)

	tags := src
	tags.Title = display
	tags.Artist = FormatArtists(src.Artist)
	if tags.BPM == "" {
		if bpm := BPMFromFilename(filenameBase); bpm > 0 {
			tags.BPM = fmt.Sprintf("%d", bpm)
		}
	}

	mp3Path := filepath.Join(outDir, display+".mp3")
	wavPath := filepath.Join(outDir, display+".wav")

	var wg sync.WaitGroup
	errs := make([]error, 2)

	// both formats of a variant export in parallel
	for i, dest := range []string{mp3Path, wavPath} {
		wg.Add(1)
		go func(i int, dest string) {
			defer wg.Done()
			errs[i] = Export(ctx, ExportSpec{
				Source:    v.source,
				Dest:      dest,
				Bitrate:   g.sep.MP3Bitrate,
				Tags:      tags,
				Label:     ParentLabel(src.Publisher),
				TrackID:   TrackID(tags.ISRC, filenameBase),
				CoverPath: g.coverPath,
			})
		}(i, dest)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			// remove the sibling so a half-exported variant never ships
			_ = fileops.Remove(mp3Path)
			_ = fileops.Remove(wavPath)
			return nil, err
		}
	}

	g.notifyCatalog(ctx, v.name, "MP3", track, mp3Path, tags, src, filenameBase)
	g.notifyCatalog(ctx, v.name, "WAV", track, wavPath, tags, src, filenameBase)

	return []string{mp3Path, wavPath}, nil
}

// notifyCatalog posts one artifact record, best-effort.
func (g *Generator) notifyCatalog(ctx context.Context, variant, format, track, path string, tags, src media.Tags, filenameBase string) {
	if g.catalog == nil {
		return
	}

	info := catalog.TrackInfo{
		Type:         variant,
		Format:       format,
		Titre:        tags.Title,
		Artiste:      tags.Artist,
		Fichiers:     g.downloadURL(track, filepath.Base(path)),
		Album:        tags.Album,
		Style:        tags.Genre,
		Label:        ParentLabel(tags.Publisher),
		SousLabel:    tags.Publisher,
		DateDeSortie: releaseUnix(tags.Date),
		BPM:          bpmValue(src.BPM, filenameBase),
		ArtisteOrig:  src.Artist,
		URL:          g.coverURL(),
		ISRC:         tags.ISRC,
		TrackID:      TrackID(tags.ISRC, filenameBase),
	}

	if err := g.catalog.Notify(ctx, info); err != nil {
		logger.Warnf("⚠️ Catalog notification failed for %s: %v", tags.Title, err)
	}
}

func (g *Generator) downloadURL(track, filename string) string {
	if g.baseURL == "" {
		return filename
	}
	return fmt.Sprintf("%s/api/v1/download/%s/%s", g.baseURL, url.PathEscape(track), url.PathEscape(filename))
}

func (g *Generator) coverURL() string {
	if g.baseURL == "" {
		return ""
	}
	return g.baseURL + "/covers/branding.jpg"
}

// separatedDir returns the engine's intermediate directory for an input, so
// lifecycle deletion can reclaim it with the artifacts.
func (g *Generator) separatedDir(originalPath string) string {
	base := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	return filepath.Join(g.folders.Separated, g.sep.Model, base)
}

// releaseUnix parses a date tag into a unix timestamp, 0 when absent or
// unparseable.
func releaseUnix(date string) int64 {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Unix()
		}
	}
	return 0
}
