// Package monitor contains the resource watchdogs: a memory watchdog that
// forces GC and gates workers under RAM pressure, and a disk monitor that
// triggers oldest-first artifact eviction.
package monitor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stemforge/pkg/logger"
)

// MemoryProbe returns the current system memory usage percentage.
type MemoryProbe func() (float64, error)

func systemMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// MemoryWatchdog periodically checks RAM usage, forces GC above the high
// threshold, and releases the separation engine's accelerator cache after
// sustained critical pressure. Workers call WaitForMemory before starting a
// new track.
type MemoryWatchdog struct {
	highPct     float64
	criticalPct float64
	resumePct   float64
	interval    time.Duration
	waitMax     time.Duration

	probe        MemoryProbe
	releaseCache func() // accelerator cache release hook, may be nil

	mu                  sync.Mutex
	consecutiveCritical int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// consecutive critical checks before the cache-release hook fires
const criticalTrigger = 3

// NewMemoryWatchdog creates a watchdog with the given thresholds (percent) and
// check interval. releaseCache may be nil.
func NewMemoryWatchdog(highPct, criticalPct, resumePct float64, interval, waitMax time.Duration, releaseCache func()) *MemoryWatchdog {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryWatchdog{
		highPct:      highPct,
		criticalPct:  criticalPct,
		resumePct:    resumePct,
		interval:     interval,
		waitMax:      waitMax,
		probe:        systemMemoryPercent,
		releaseCache: releaseCache,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the watchdog ticker.
func (w *MemoryWatchdog) Start() {
	w.wg.Add(1)
	go w.run()
	logger.Infof("🧠 Memory watchdog started (high=%.0f%% critical=%.0f%% resume=%.0f%%)",
		w.highPct, w.criticalPct, w.resumePct)
}

// Stop cancels the watchdog and waits for it to exit.
func (w *MemoryWatchdog) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *MemoryWatchdog) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *MemoryWatchdog) check() {
	pct, err := w.probe()
	if err != nil {
		logger.Debugf("memory probe: %v", err)
		return
	}

	if pct < w.highPct {
		w.mu.Lock()
		w.consecutiveCritical = 0
		w.mu.Unlock()
		return
	}

	logger.Warnf("🧠 Memory high: %.1f%% ≥ %.0f%%, forcing GC", pct, w.highPct)
	forceGC()

	if pct < w.criticalPct {
		w.mu.Lock()
		w.consecutiveCritical = 0
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.consecutiveCritical++
	hits := w.consecutiveCritical
	w.mu.Unlock()

	logger.Warnf("🚨 Memory critical: %.1f%% (%d/%d consecutive)", pct, hits, criticalTrigger)

	if hits >= criticalTrigger && w.releaseCache != nil {
		logger.Warnf("🚨 Releasing separation engine cache")
		w.releaseCache()
		w.mu.Lock()
		w.consecutiveCritical = 0
		w.mu.Unlock()
	}
}

func forceGC() {
	runtime.GC()
	debug.FreeOSMemory()
}

// WaitForMemory blocks the calling worker until memory usage drops below the
// resume threshold, with exponential backoff (2s × 1.5, capped at 30s). After
// the bounded total wait it proceeds anyway so workers never starve.
func (w *MemoryWatchdog) WaitForMemory(ctx context.Context, workerID int) error {
	pct, err := w.probe()
	if err != nil || pct < w.highPct {
		return nil
	}

	logger.Warnf("⏸️ Worker %d waiting for memory (%.1f%% ≥ %.0f%%)", workerID, pct, w.highPct)
	forceGC()

	deadline := time.Now().Add(w.waitMax)
	wait := 2 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		pct, err = w.probe()
		if err != nil || pct < w.resumePct {
			logger.Infof("▶️ Worker %d resuming (memory %.1f%%)", workerID, pct)
			return nil
		}

		if time.Now().After(deadline) {
			logger.Warnf("⏰ Worker %d memory wait timed out at %.1f%%, proceeding anyway", workerID, pct)
			return nil
		}

		wait = time.Duration(float64(wait) * 1.5)
		if wait > 30*time.Second {
			wait = 30 * time.Second
		}
	}
}
