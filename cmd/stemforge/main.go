package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stemforge/internal/catalog"
	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/edits"
	"github.com/stemforge/internal/fileops"
	"github.com/stemforge/internal/handler"
	"github.com/stemforge/internal/lifecycle"
	"github.com/stemforge/internal/monitor"
	"github.com/stemforge/internal/queue"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/internal/separator"
	"github.com/stemforge/internal/service/pipeline"
	"github.com/stemforge/internal/upload"
	"github.com/stemforge/internal/version"
	"github.com/stemforge/pkg/logger"
)

func main() {
	// Initialize logger
	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	version.PrintBanner(nil)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	logger.Infof("📁 Loading config: %s", configPath)
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		logger.Fatalf("❌ Config error: %v", err)
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()

	// Get hardcoded folders
	folders := config.Folders()

	// Ensure required directories exist
	if err := ensureDirectories(folders); err != nil {
		logger.Fatalf("❌ Directory setup error: %v", err)
	}

	if cfg.Disk.CleanOnStart {
		wipeLeftovers(folders)
	}

	// Artifact registries
	pending := registry.NewPendingSet(cfg.Queue.PendingWarning, cfg.Queue.PendingCap)
	scheduled := registry.NewScheduleSet()
	var downloads *registry.DownloadStatus
	if cfg.Lifecycle.PerFileTracking {
		downloads = registry.NewDownloadStatus()
		logger.Info("📥 Download tracking: strict per-file")
	} else {
		logger.Infof("📥 Download tracking: confirmation + %ds delay", cfg.Lifecycle.DeleteDelaySec)
	}

	// Catalog notification client
	catalogClient := catalog.NewClient(cfg.Catalog)
	if catalogClient != nil {
		logger.Infof("📇 Catalog notifications: enabled (%s)", cfg.Catalog.Endpoint)
	} else {
		logger.Info("📇 Catalog notifications: disabled")
	}

	// Separation engine runner (probes for an accelerator once at startup)
	runner := separator.NewRunner(context.Background(), cfg.Separator)

	// Edit generation
	gen := edits.NewGenerator(cfg, pending, downloads, catalogClient)

	// Status board + pipeline
	status := queue.NewStatusBoard()
	proc := pipeline.New(runner, gen, status)

	// Memory watchdog gates workers and can release the engine's cache
	watchdog := monitor.NewMemoryWatchdog(
		cfg.Memory.HighPct,
		cfg.Memory.CriticalPct,
		cfg.Memory.ResumePct,
		config.DurationSec(cfg.Memory.CheckSec),
		config.DurationSec(cfg.Memory.WaitMaxSec),
		runner.ReleaseCache,
	)
	watchdog.Start()
	defer watchdog.Stop()

	// Job queue and worker pool
	jobQueue := queue.New(proc, watchdog, pending, queue.Options{
		Workers:       cfg.Queue.Workers,
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryDelay:    config.DurationSec(cfg.Queue.RetryDelaySec),
		MaxProcessing: time.Duration(cfg.Queue.MaxProcessingMin) * time.Minute,
		BatchSize:     cfg.Separator.ChunkSize,
	})
	jobQueue.AttachStatus(status)
	proc.AttachProgress(jobQueue)
	jobQueue.Start()
	defer jobQueue.Stop()

	// Lifecycle manager owns pending-download deletion
	lc := lifecycle.New(
		pending,
		downloads,
		scheduled,
		config.DurationSec(cfg.Lifecycle.DeleteDelaySec),
		config.DurationSec(cfg.Lifecycle.SweepSec),
	)
	lc.Start()
	defer lc.Stop()

	if cfg.Disk.MaxAgeHours > 0 {
		n := lc.CleanupAged(time.Duration(cfg.Disk.MaxAgeHours) * time.Hour)
		if n > 0 {
			logger.Infof("🧹 Startup cleanup: %d aged track(s) removed", n)
		}
	}

	// Disk monitor evicts oldest tracks under pressure
	diskPath := cfg.Disk.Path
	if diskPath == "" {
		diskPath = folders.Processed
	}
	diskMon := monitor.NewDiskMonitor(
		diskPath,
		cfg.Disk.ThresholdPct,
		config.DurationSec(cfg.Disk.CheckSec),
		cfg.Disk.EvictBatch,
		lc,
	)
	diskMon.Start()
	defer diskMon.Stop()

	// Upload concurrency limiter
	limiter := upload.NewLimiter(cfg.Upload.MaxConcurrent, config.DurationSec(cfg.Upload.AcquireTimeoutSec))

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.MaxMultipartMemory = 64 << 20

	h := handler.New(jobQueue, status, pending, lc, limiter, cfg.Lifecycle.PerFileTracking)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // large multi-track uploads
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Print startup info
	logger.Info("")
	logger.Infof("📂 Data folders (mount these in Docker):")
	logger.Infof("   /data/uploads   → Original uploads (write)")
	logger.Infof("   /data/processed → Exported artifacts (read)")
	logger.Infof("   /data/covers    → Branding cover art (read)")
	logger.Info("")
	logger.Infof("🎛️ Engine: %s on %s (%d workers, chunks of %d)",
		cfg.Separator.Model, runner.Device(), cfg.Queue.Workers, cfg.Separator.ChunkSize)
	logger.Infof("🧠 Memory watchdog: GC ≥%.0f%%, release cache ≥%.0f%%, resume <%.0f%%",
		cfg.Memory.HighPct, cfg.Memory.CriticalPct, cfg.Memory.ResumePct)
	logger.Infof("💾 Disk monitor: evict %d oldest at ≥%.0f%% on %s",
		cfg.Disk.EvictBatch, cfg.Disk.ThresholdPct, diskPath)
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST /api/v1/upload            - Queue audio tracks")
	logger.Infof("   GET  /api/v1/download/:t/:f    - Retrieve an artifact")
	logger.Infof("   POST /api/v1/confirm_download  - Confirm retrieval")
	logger.Infof("   GET  /api/v1/status            - Batch progress")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready! Waiting for uploads...")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
}

func ensureDirectories(folders config.FoldersConfig) error {
	dirs := []string{
		folders.Uploads,
		folders.Separated,
		folders.Processed,
		folders.Covers,
	}

	for _, dir := range dirs {
		if err := fileops.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// wipeLeftovers removes artifacts from a previous run. Registries start
// empty, so leftover files would never be confirmable.
func wipeLeftovers(folders config.FoldersConfig) {
	for _, dir := range []string{folders.Processed, folders.Separated, folders.Uploads} {
		subs, err := fileops.OldestSubdirs(dir, 0)
		if err != nil {
			continue
		}
		for _, s := range subs {
			if err := fileops.RemoveTree(s.Path); err != nil {
				logger.Warnf("⚠️ Startup wipe of %s: %v", s.Path, err)
			}
		}
	}
	logger.Info("🧹 Startup wipe: previous run's artifacts removed")
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if path != "/api/v1/health" || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
