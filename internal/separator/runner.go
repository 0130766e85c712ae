// Package separator drives the external stem-separation engine: it chunks
// batches, builds and runs the engine subprocess, scrapes its progress stream,
// and fans completed chunks out into parallel edit generation.
package separator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/pkg/logger"
)

// EditFunc generates the exported artifacts for one separated input.
type EditFunc func(ctx context.Context, inputPath string) error

// ProgressFunc receives batch-wide progress observations.
type ProgressFunc func(Update)

// Runner orchestrates separation for batches of input tracks.
type Runner struct {
	cfg     config.SeparatorConfig
	outDir  string
	device  Device
	workers int
}

// NewRunner probes the hardware once and returns a configured runner.
func NewRunner(ctx context.Context, cfg config.SeparatorConfig) *Runner {
	device, workers := DetectDevice(ctx, cfg.ForceCPU)
	return &Runner{
		cfg:     cfg,
		outDir:  config.Folders().Separated,
		device:  device,
		workers: workers,
	}
}

// Device returns the selected engine device.
func (r *Runner) Device() Device { return r.device }

// ProcessBatch separates the inputs chunk by chunk and, after each chunk,
// generates edits for its tracks in parallel. Separation occupies the first
// half of the progress range, edits the second. A failed chunk aborts the
// whole batch; per-track edit failures are collected and returned together.
func (r *Runner) ProcessBatch(ctx context.Context, inputs []string, edit EditFunc, onProgress ProgressFunc) error {
	if len(inputs) == 0 {
		return nil
	}
	if onProgress == nil {
		onProgress = func(Update) {}
	}

	chunks := chunkPaths(inputs, r.cfg.ChunkSize)
	logger.Infof("🎛️ Separating %d tracks in %d chunk(s) on %s (-j %d)", len(inputs), len(chunks), r.device, r.workers)

	done := 0
	var editErrs []error

	for i, chunk := range chunks {
		label := fmt.Sprintf("(chunk %d/%d)", i+1, len(chunks))

		if err := r.separateChunk(ctx, chunk, len(inputs), done, label, onProgress); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		done += len(chunk)

		editErrs = append(editErrs, r.fanOutEdits(ctx, chunk, len(inputs), done-len(chunk), edit, onProgress)...)
	}

	onProgress(Update{Percent: 100, Step: "Completed"})

	if len(editErrs) > 0 {
		return fmt.Errorf("%d track(s) failed edit generation: %v", len(editErrs), editErrs[0])
	}
	return nil
}

// separateChunk runs one engine invocation and streams its progress.
func (r *Runner) separateChunk(ctx context.Context, chunk []string, total, doneBefore int, label string, onProgress ProgressFunc) error {
	err := r.runEngine(ctx, chunk, r.device, total, doneBefore, label, onProgress)
	if err == nil {
		return nil
	}

	// A single track failing on the accelerator gets one CPU retry; whole
	// chunks are too expensive to redo blind.
	if r.device == DeviceCUDA && len(chunk) == 1 {
		logger.Warnf("⚠️ Accelerator run failed (%v), retrying %s on CPU", err, chunk[0])
		return r.runEngine(ctx, chunk, DeviceCPU, total, doneBefore, label, onProgress)
	}
	return err
}

func (r *Runner) runEngine(ctx context.Context, chunk []string, device Device, total, doneBefore int, label string, onProgress ProgressFunc) error {
	args := []string{
		"--two-stems=vocals",
		"-n", r.cfg.Model,
		"--mp3",
		"--mp3-bitrate", strconv.Itoa(r.cfg.MP3Bitrate),
		"-j", strconv.Itoa(r.workers),
		"--segment", fmt.Sprintf("%g", r.cfg.Segment),
		"--overlap", fmt.Sprintf("%g", r.cfg.Overlap),
		"--device", string(device),
		"-o", r.outDir,
	}
	args = append(args, chunk...)

	logger.Infof("🎛️ Engine %s: %d tracks", label, len(chunk))
	logger.Debugf("  Command: demucs %v", args)

	cmd := exec.CommandContext(ctx, "demucs", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	source := newEngineProgress(total, doneBefore, label)
	var mu sync.Mutex
	var wg sync.WaitGroup

	scan := func(rd io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			logger.Debugf("  │ %s", line)

			mu.Lock()
			up, ok := source.Consume(line)
			mu.Unlock()
			if ok {
				onProgress(up)
			}
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("engine exited: %w", err)
	}

	logger.Infof("✅ Engine %s done (%d/%d announced)", label, source.completedInChunk(), len(chunk))
	return nil
}

// fanOutEdits generates edits for a completed chunk with a bounded pool,
// reporting progress in the second half of the range.
func (r *Runner) fanOutEdits(ctx context.Context, chunk []string, total, doneBefore int, edit EditFunc, onProgress ProgressFunc) []error {
	pool := editPoolSize(r.workers)
	sem := make(chan struct{}, pool)

	var mu sync.Mutex
	var errs []error
	editsDone := 0

	var wg sync.WaitGroup
	for _, input := range chunk {
		wg.Add(1)
		go func(input string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := edit(ctx, input)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", input, err))
				logger.Errorf("❌ Edit generation failed for %s: %v", input, err)
			}
			editsDone++
			onProgress(Update{
				Percent: separationBand + float64(doneBefore+editsDone)/float64(total)*separationBand,
				File:    input,
				Index:   doneBefore + editsDone,
				Step:    "Generating edits",
			})
		}(input)
	}
	wg.Wait()

	return errs
}

// ReleaseCache asks the engine runtime to drop its accelerator memory cache.
// Invoked by the memory watchdog under sustained critical pressure.
func (r *Runner) ReleaseCache() {
	if r.device != DeviceCUDA {
		return
	}
	cmd := exec.Command("python3", "-c", "import torch; torch.cuda.empty_cache()")
	if err := cmd.Run(); err != nil {
		logger.Debugf("cache release: %v", err)
	}
}

// chunkPaths partitions inputs into fixed-size chunks to bound the engine's
// peak memory use. Non-positive sizes disable chunking.
func chunkPaths(inputs []string, size int) [][]string {
	if size <= 0 || len(inputs) <= size {
		return [][]string{inputs}
	}
	var chunks [][]string
	for start := 0; start < len(inputs); start += size {
		end := start + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[start:end])
	}
	return chunks
}
