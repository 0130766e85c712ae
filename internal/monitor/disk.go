package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/stemforge/pkg/logger"
)

// DiskProbe returns the usage percentage of the artifact volume.
type DiskProbe func() (float64, error)

// Evictor deletes the oldest artifact sets and reports how many were removed
// and how many bytes were freed.
type Evictor interface {
	EvictOldest(n int) (removed int, freedBytes int64)
}

// DiskMonitor periodically checks the artifact volume and triggers
// oldest-first eviction when usage crosses the threshold.
type DiskMonitor struct {
	path         string
	thresholdPct float64
	interval     time.Duration
	batch        int

	probe   DiskProbe
	evictor Evictor

	// cooldown after a sweep that freed nothing, so a full disk with no
	// evictable tracks does not log every tick
	cooldownUntil time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDiskMonitor creates a monitor over the volume containing path.
func NewDiskMonitor(path string, thresholdPct float64, interval time.Duration, batch int, evictor Evictor) *DiskMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &DiskMonitor{
		path:         path,
		thresholdPct: thresholdPct,
		interval:     interval,
		batch:        batch,
		evictor:      evictor,
		ctx:          ctx,
		cancel:       cancel,
	}
	m.probe = func() (float64, error) {
		usage, err := disk.Usage(path)
		if err != nil {
			return 0, err
		}
		return usage.UsedPercent, nil
	}
	return m
}

// Start begins the disk-check ticker.
func (m *DiskMonitor) Start() {
	m.wg.Add(1)
	go m.run()
	logger.Infof("💾 Disk monitor started (%s, threshold %.0f%%, every %v)", m.path, m.thresholdPct, m.interval)
}

// Stop cancels the monitor and waits for it to exit.
func (m *DiskMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *DiskMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *DiskMonitor) check() {
	if time.Now().Before(m.cooldownUntil) {
		return
	}

	pct, err := m.probe()
	if err != nil {
		logger.Debugf("disk probe: %v", err)
		return
	}

	if pct < m.thresholdPct {
		return
	}

	logger.Warnf("💾 Disk usage %.1f%% ≥ %.0f%%, evicting up to %d oldest tracks", pct, m.thresholdPct, m.batch)

	removed, freed := m.evictor.EvictOldest(m.batch)
	if removed == 0 {
		logger.Warnf("💾 Nothing evictable, backing off")
		m.cooldownUntil = time.Now().Add(5 * m.interval)
		return
	}

	after, err := m.probe()
	if err != nil {
		after = pct
	}
	logger.Infof("💾 Evicted %d tracks, freed %.1f MiB (disk %.1f%% → %.1f%%)",
		removed, float64(freed)/(1024*1024), pct, after)
}
