// Package pipeline is the queue's processor: it resolves queued filenames to
// uploaded files, drives the separation batch, fans out edit generation, and
// keeps the session status board current.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/edits"
	"github.com/stemforge/internal/fileops"
	"github.com/stemforge/internal/queue"
	"github.com/stemforge/internal/separator"
	"github.com/stemforge/pkg/logger"
)

// ProgressSink receives live per-item progress. The queue implements it.
type ProgressSink interface {
	SetProgress(id string, percent float64, step string)
}

// Service implements queue.Processor.
type Service struct {
	folders  config.FoldersConfig
	runner   *separator.Runner
	gen      *edits.Generator
	status   *queue.StatusBoard
	progress ProgressSink // optional
}

// New wires the pipeline.
func New(runner *separator.Runner, gen *edits.Generator, status *queue.StatusBoard) *Service {
	return &Service{
		folders: config.Folders(),
		runner:  runner,
		gen:     gen,
		status:  status,
	}
}

// AttachProgress routes per-item progress updates through sink. Call before
// the queue starts.
func (s *Service) AttachProgress(sink ProgressSink) {
	s.progress = sink
}

// InputPath resolves a queued filename to its uploaded location.
func (s *Service) InputPath(sessionID, filename string) string {
	return filepath.Join(s.folders.Uploads, sessionID, filename)
}

// ProcessBatch processes one claimed batch; all items share a session.
func (s *Service) ProcessBatch(ctx context.Context, items []*queue.Item) []error {
	if len(items) == 0 {
		return nil
	}
	session := items[0].SessionID
	start := time.Now()

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("🎬 Batch start: %d track(s), session %s", len(items), session)
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	s.status.UpdateBoth(session, func(st *queue.Status) {
		st.State = queue.StateStarting
		st.TotalFiles += len(items)
		st.Error = ""
	})

	errs := make([]error, len(items))

	// Partition: already-processed tracks short-circuit; named variants
	// export straight from the original; the rest go through separation.
	var sepInputs []string
	sepIndex := make(map[string]int) // input path → item index

	for i, it := range items {
		input := s.InputPath(session, it.Filename)

		if !fileops.Exists(input) {
			errs[i] = fmt.Errorf("upload missing: %s", input)
			continue
		}

		if track, done := s.gen.AlreadyProcessed(input); done {
			logger.Infof("⏭️ %s already processed, skipping", track)
			s.status.Log(session, fmt.Sprintf("skipped %s (already processed)", track))
			continue
		}

		if edits.NamedVariant(it.Filename) != "" {
			errs[i] = s.generateDirect(ctx, session, input)
			continue
		}

		sepInputs = append(sepInputs, input)
		sepIndex[input] = i
	}

	if len(sepInputs) > 0 {
		s.separate(ctx, session, sepInputs, sepIndex, items, errs)
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}

	s.status.UpdateBoth(session, func(st *queue.Status) {
		if failed > 0 {
			st.State = queue.StateError
			st.Error = fmt.Sprintf("%d of %d track(s) failed", failed, len(items))
		} else {
			st.State = queue.StateCompleted
			st.Progress = 100
		}
	})

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("🏁 Batch done: %d ok, %d failed (%v)", len(items)-failed, failed, time.Since(start).Round(time.Second))
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	return errs
}

// generateDirect handles the skip-separation path for uploads that already
// are a named variant.
func (s *Service) generateDirect(ctx context.Context, session, input string) error {
	result, err := s.gen.Generate(ctx, input)
	if err != nil {
		return err
	}
	s.recordResult(session, result)
	return nil
}

// separate runs the batch through the engine and collects per-input outcomes
// into errs.
func (s *Service) separate(ctx context.Context, session string, inputs []string, index map[string]int, items []*queue.Item, errs []error) {
	var mu sync.Mutex
	processed := make(map[string]bool, len(inputs))

	edit := func(ctx context.Context, input string) error {
		result, err := s.gen.Generate(ctx, input)

		mu.Lock()
		processed[input] = true
		if err != nil {
			errs[index[input]] = err
		}
		mu.Unlock()

		if err == nil {
			s.recordResult(session, result)
		}
		return err
	}

	onProgress := func(up separator.Update) {
		if i, ok := index[up.File]; ok && s.progress != nil {
			s.progress.SetProgress(items[i].ID, up.Percent, up.Step)
		}
		s.status.UpdateBoth(session, func(st *queue.Status) {
			st.State = queue.StateProcessing
			st.Progress = up.Percent
			st.CurrentStep = up.Step
			if up.File != "" {
				st.CurrentFile = filepath.Base(up.File)
				st.CurrentIndex = up.Index
			}
		})
		if up.File != "" && up.Step != "" {
			s.status.Log(session, fmt.Sprintf("%s: %s (%.0f%%)", up.Step, filepath.Base(up.File), up.Percent))
		}
	}

	batchErr := s.runner.ProcessBatch(ctx, inputs, edit, onProgress)
	if batchErr == nil {
		return
	}

	s.status.Log(session, "batch aborted: "+batchErr.Error())

	// A chunk abort leaves some inputs untouched; they inherit the batch
	// error so the queue can retry them.
	mu.Lock()
	defer mu.Unlock()
	for _, input := range inputs {
		i := index[input]
		if !processed[input] && errs[i] == nil {
			errs[i] = batchErr
		}
	}
}

func (s *Service) recordResult(session string, result edits.Result) {
	s.status.UpdateBoth(session, func(st *queue.Status) {
		for _, f := range result.Files {
			st.Results = append(st.Results, filepath.Base(f))
		}
	})
	s.status.Log(session, fmt.Sprintf("generated %s (%d files)", result.Track, len(result.Files)))
}
