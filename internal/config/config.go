package config

import (
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/stemforge/pkg/logger"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Separator SeparatorConfig `mapstructure:"separator"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Disk      DiskConfig      `mapstructure:"disk"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BaseURL is used to build absolute download URLs for catalog notifications.
	BaseURL string `mapstructure:"base_url"`
}

// Folders returns hardcoded folder paths (user mounts via Docker volumes).
func Folders() FoldersConfig {
	return FoldersConfig{
		Uploads:   "/data/uploads",   // Mount: original uploads (per-session subdirs)
		Separated: "/data/separated", // Internal: separation engine output
		Processed: "/data/processed", // Mount: final artifacts (per-track subdirs)
		Covers:    "/data/covers",    // Branding cover image(s)
	}
}

type FoldersConfig struct {
	Uploads   string // Original uploads, one subdirectory per session
	Separated string // Separation engine intermediates
	Processed string // Exported artifacts, one subdirectory per track
	Covers    string // Cover art used when tagging exports
}

type SeparatorConfig struct {
	// Model: separation model name, e.g. "htdemucs"
	Model string `mapstructure:"model"`
	// ChunkSize: tracks per engine invocation
	ChunkSize int `mapstructure:"chunk_size"`
	// MP3Bitrate: bitrate (kbps) for the engine's mp3 output and edit exports
	MP3Bitrate int `mapstructure:"mp3_bitrate"`
	// Segment/Overlap: engine tuning parameters
	Segment float64 `mapstructure:"segment"`
	Overlap float64 `mapstructure:"overlap"`
	// ForceCPU disables accelerator detection
	ForceCPU bool `mapstructure:"force_cpu"`
	// VocalRMSThreshold: mean level (dBFS) below which a vocals stem counts as silent
	VocalRMSThreshold float64 `mapstructure:"vocal_rms_threshold"`
}

type QueueConfig struct {
	Workers          int `mapstructure:"workers"`            // Worker goroutines
	MaxRetries       int `mapstructure:"max_retries"`        // Max attempts per track
	RetryDelaySec    int `mapstructure:"retry_delay_sec"`    // Delay between attempts
	MaxProcessingMin int `mapstructure:"max_processing_min"` // Stuck-item bound
	// PendingWarning / PendingCap: outstanding artifact-set thresholds.
	// At or above the cap new enqueues are rejected.
	PendingWarning int `mapstructure:"pending_warning"`
	PendingCap     int `mapstructure:"pending_cap"`
}

type MemoryConfig struct {
	HighPct     float64 `mapstructure:"high_pct"`     // Force GC at or above
	CriticalPct float64 `mapstructure:"critical_pct"` // Release engine cache at or above
	ResumePct   float64 `mapstructure:"resume_pct"`   // Workers resume below
	CheckSec    int     `mapstructure:"check_sec"`    // Watchdog interval
	WaitMaxSec  int     `mapstructure:"wait_max_sec"` // Bounded worker wait
}

type DiskConfig struct {
	Path         string  `mapstructure:"path"`           // Volume to watch ("" = processed folder)
	ThresholdPct float64 `mapstructure:"threshold_pct"`  // Evict at or above
	CheckSec     int     `mapstructure:"check_sec"`      // Monitor interval
	EvictBatch   int     `mapstructure:"evict_batch"`    // Tracks evicted per trigger
	MaxAgeHours  int     `mapstructure:"max_age_hours"`  // Periodic max-age cleanup (0 = off)
	CleanOnStart bool    `mapstructure:"clean_on_start"` // Wipe leftover artifacts at startup
}

type LifecycleConfig struct {
	// DeleteDelaySec: delay between confirmation and deletion
	DeleteDelaySec int `mapstructure:"delete_delay_sec"`
	// SweepSec: scheduled-deletion sweeper interval
	SweepSec int `mapstructure:"sweep_sec"`
	// PerFileTracking enables strict per-file download confirmation
	PerFileTracking bool `mapstructure:"per_file_tracking"`
}

type UploadConfig struct {
	MaxConcurrent     int `mapstructure:"max_concurrent"`      // Simultaneous inbound uploads
	AcquireTimeoutSec int `mapstructure:"acquire_timeout_sec"` // Slot wait before 503
}

type CatalogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	// RateLimitRPM bounds outbound notification rate (0 = no limit)
	RateLimitRPM int `mapstructure:"rate_limit_rpm"`
}

// setDefaults registers fallback values so a minimal YAML file works.
func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("separator.model", "htdemucs")
	viper.SetDefault("separator.chunk_size", 50)
	viper.SetDefault("separator.mp3_bitrate", 320)
	viper.SetDefault("separator.segment", 7.0)
	viper.SetDefault("separator.overlap", 0.1)
	viper.SetDefault("separator.vocal_rms_threshold", -35.0)
	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.retry_delay_sec", 5)
	viper.SetDefault("queue.max_processing_min", 30)
	viper.SetDefault("queue.pending_warning", 1000)
	viper.SetDefault("queue.pending_cap", 1500)
	viper.SetDefault("memory.high_pct", 85)
	viper.SetDefault("memory.critical_pct", 92)
	viper.SetDefault("memory.resume_pct", 75)
	viper.SetDefault("memory.check_sec", 15)
	viper.SetDefault("memory.wait_max_sec", 300)
	viper.SetDefault("disk.threshold_pct", 80)
	viper.SetDefault("disk.check_sec", 60)
	viper.SetDefault("disk.evict_batch", 25)
	viper.SetDefault("lifecycle.delete_delay_sec", 60)
	viper.SetDefault("lifecycle.sweep_sec", 30)
	viper.SetDefault("upload.max_concurrent", 50)
	viper.SetDefault("upload.acquire_timeout_sec", 300)
}

// ChangeCallback is called when config changes.
type ChangeCallback func(old, new *Config)

// Manager handles config loading and hot-reload.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	callbacks []ChangeCallback
	stop      chan struct{}

	path        string
	lastModTime time.Time
}

// NewManager creates a config manager with hot-reload support via polling.
func NewManager(path string) (*Manager, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("STEMFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	var lastMod time.Time
	if stat, err := os.Stat(path); err == nil {
		lastMod = stat.ModTime()
	}

	m := &Manager{
		cfg:         &cfg,
		stop:        make(chan struct{}),
		path:        path,
		lastModTime: lastMod,
	}

	go m.pollForChanges(10 * time.Second)

	logger.Infof("📋 Config loaded (polling every 10s for changes)")

	return m, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) pollForChanges(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(m.path)
			if err != nil {
				continue
			}

			m.mu.RLock()
			lastMod := m.lastModTime
			m.mu.RUnlock()

			if stat.ModTime().After(lastMod) {
				logger.Infof("🔄 Config file changed, reloading...")

				if err := viper.ReadInConfig(); err != nil {
					logger.Errorf("❌ Failed to re-read config: %v", err)
					continue
				}

				m.mu.Lock()
				m.lastModTime = stat.ModTime()
				m.mu.Unlock()

				m.reload()
			}
		}
	}
}

func (m *Manager) reload() {
	var newCfg Config
	if err := viper.Unmarshal(&newCfg); err != nil {
		logger.Errorf("❌ Failed to reload config: %v", err)
		return
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = &newCfg
	callbacks := m.callbacks
	m.mu.Unlock()

	logChanges(oldCfg, &newCfg, "")

	for _, cb := range callbacks {
		cb(oldCfg, &newCfg)
	}
}

func logChanges(old, cur any, prefix string) {
	oldVal := reflect.ValueOf(old)
	newVal := reflect.ValueOf(cur)

	if oldVal.Kind() == reflect.Ptr {
		oldVal = oldVal.Elem()
	}
	if newVal.Kind() == reflect.Ptr {
		newVal = newVal.Elem()
	}

	if oldVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		fieldName := field.Name
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if oldField.Kind() == reflect.Struct {
			logChanges(oldField.Interface(), newField.Interface(), fieldName)
			continue
		}

		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			logger.Infof("  📝 %s: %v → %v", fieldName, oldField.Interface(), newField.Interface())
		}
	}
}

// DurationSec converts a seconds count into a time.Duration.
func DurationSec(s int) time.Duration {
	return time.Duration(s) * time.Second
}
