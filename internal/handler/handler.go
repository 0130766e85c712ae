package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/fileops"
	"github.com/stemforge/internal/lifecycle"
	"github.com/stemforge/internal/queue"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/internal/upload"
	"github.com/stemforge/internal/version"
	"github.com/stemforge/pkg/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	queue     *queue.Queue
	status    *queue.StatusBoard
	pending   *registry.PendingSet
	lifecycle *lifecycle.Manager
	limiter   *upload.Limiter
	folders   config.FoldersConfig
	perFile   bool
}

// New creates a new Handler.
func New(q *queue.Queue, status *queue.StatusBoard, pending *registry.PendingSet, lc *lifecycle.Manager, limiter *upload.Limiter, perFile bool) *Handler {
	return &Handler{
		queue:     q,
		status:    status,
		pending:   pending,
		lifecycle: lc,
		limiter:   limiter,
		folders:   config.Folders(),
		perFile:   perFile,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)
		api.GET("/version", h.Version)

		// Track intake
		api.POST("/upload", h.Upload)
		api.POST("/rescan_uploads", h.RescanUploads)

		// Artifact retrieval and confirmation
		api.GET("/download/:track/:file", h.Download)
		api.POST("/confirm_download", h.ConfirmDownload)
		api.GET("/pending", h.ListPending)

		// Queue management
		api.GET("/queue", h.GetQueue)
		api.GET("/queue/stats", h.GetQueueStats)
		api.GET("/queue/:id", h.GetItem)
		api.POST("/queue/reset_stale", h.ResetStale)

		// Batch status
		api.GET("/status", h.GlobalStatus)
		api.GET("/status/:session", h.SessionStatus)
		api.DELETE("/status/:session", h.ResetStatus)

		// Failed-file handling
		api.GET("/failed", h.ListFailed)
		api.POST("/retry/failed", h.RetryFailed)
		api.POST("/failed/clear", h.ClearFailed)
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Version returns service version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.Version})
}

// Upload accepts one or more audio files for a session and enqueues them.
// Concurrency is bounded by the upload limiter; a full pending registry
// rejects new work so batch uploads cannot grow the disk without bound.
func (h *Handler) Upload(c *gin.Context) {
	if err := h.limiter.Acquire(c.Request.Context()); err != nil {
		if errors.Is(err, upload.ErrServerBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy, try again later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer h.limiter.Release()

	session := c.PostForm("session_id")
	if session == "" {
		session = c.Query("session_id")
	}
	if session == "" {
		session = uuid.New().String()[:8]
	}

	files, err := h.formFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files in request"})
		return
	}

	sessionDir := filepath.Join(h.folders.Uploads, session)
	if err := fileops.EnsureDir(sessionDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	queued := make([]string, 0, len(files))
	skipped := make([]string, 0)
	depth := 0

	for _, fh := range files {
		name := filepath.Base(fh.Filename)

		if !fileops.IsAudioFile(name) {
			logger.Warnf("⚠️ Not an audio file, skipping: %s", name)
			skipped = append(skipped, name)
			continue
		}

		dest := filepath.Join(sessionDir, name)
		if fileops.Exists(dest) {
			logger.Infof("⏭️ Duplicate upload, skipping: %s", name)
			skipped = append(skipped, name)
			continue
		}

		if err := c.SaveUploadedFile(fh, dest); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "file": name})
			return
		}

		d, err := h.queue.Enqueue(name, session)
		if err != nil {
			fileops.Remove(dest)
			if errors.Is(err, queue.ErrTooManyPending) {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":   "too many unconfirmed tracks, confirm downloads before uploading more",
					"queued":  queued,
					"skipped": skipped,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "file": name})
			return
		}
		depth = d
		queued = append(queued, name)
		logger.Infof("📥 Queued: %s (session: %s, depth: %d)", name, session, depth)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":     "files queued",
		"session_id":  session,
		"queued":      queued,
		"skipped":     skipped,
		"queue_depth": depth,
	})
}

// RescanUploads walks the uploads tree and re-queues every audio file still
// on disk, recovering work lost to a restart. Tracks that already have
// artifacts are skipped again at processing time.
func (h *Handler) RescanUploads(c *gin.Context) {
	files, err := fileops.FindAudioFiles(h.folders.Uploads)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	queued := 0
	for _, f := range files {
		rel, err := filepath.Rel(h.folders.Uploads, f)
		if err != nil {
			continue
		}
		parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
		if len(parts) != 2 {
			// loose file outside a session directory
			continue
		}

		if _, err := h.queue.Enqueue(parts[1], parts[0]); err != nil {
			if errors.Is(err, queue.ErrTooManyPending) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "queued": queued})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "queued": queued})
			return
		}
		queued++
	}

	logger.Infof("🔎 Rescan queued %d of %d upload(s) on disk", queued, len(files))
	c.JSON(http.StatusOK, gin.H{"found": len(files), "queued": queued})
}

// formFiles collects uploads from either a "files" multi-part field or a
// single "file" field.
func (h *Handler) formFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	out := form.File["files"]
	if len(out) == 0 {
		out = form.File["file"]
	}
	return out, nil
}

// Download serves one exported artifact. In strict per-file mode, a served
// file counts as downloaded; the last one triggers immediate cleanup.
func (h *Handler) Download(c *gin.Context) {
	track := filepath.Base(c.Param("track"))
	file := filepath.Base(c.Param("file"))

	path := filepath.Join(h.folders.Processed, track, file)
	if !fileops.Exists(path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found", "track": track, "file": file})
		return
	}

	c.FileAttachment(path, file)

	if h.perFile {
		if all, err := h.lifecycle.MarkFileDownloaded(track, file); err != nil {
			logger.Warnf("⚠️ Download tracking for %s/%s: %v", track, file, err)
		} else if all {
			logger.Infof("✅ Last file of %s served, artifacts reclaimed", track)
		}
	}
}

type confirmRequest struct {
	Track string `json:"track"`
}

// ConfirmDownload consumes the external consumer's confirmation for a track.
// The track name is taken from the JSON body, the query parameter, or the
// form field, in that order.
func (h *Handler) ConfirmDownload(c *gin.Context) {
	var req confirmRequest
	if c.ContentType() == "application/json" {
		_ = c.ShouldBindJSON(&req)
	}
	if req.Track == "" {
		req.Track = c.Query("track")
	}
	if req.Track == "" {
		req.Track = c.PostForm("track")
	}

	if req.Track == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "track name required"})
		return
	}

	if err := h.lifecycle.Confirm(req.Track); err != nil {
		var nf *lifecycle.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":         "track not found",
				"track":         nf.Track,
				"suggestions":   nf.Suggestions,
				"pending_count": nf.PendingCount,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download confirmed", "track": req.Track})
}

// ListPending returns the pending artifact sets plus a threshold warning.
func (h *Handler) ListPending(c *gin.Context) {
	entries := h.pending.List()
	count, level := h.pending.Pressure()

	tracks := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, gin.H{
			"track":       e.Track,
			"files_total": e.FilesTotal,
			"files":       e.Files,
			"created_at":  e.CreatedAt,
		})
	}

	resp := gin.H{"count": count, "tracks": tracks}
	switch level {
	case registry.PressureWarning:
		resp["warning"] = "pending downloads approaching capacity, confirm downloads to free disk"
	case registry.PressureCritical:
		resp["warning"] = "pending downloads at capacity, new uploads are rejected"
	}
	c.JSON(http.StatusOK, resp)
}

// GetQueue returns all queue items, failed first, then processing, then
// waiting. Stuck items are swept back to waiting on the way.
func (h *Handler) GetQueue(c *gin.Context) {
	if reset := h.queue.ResetStale(); len(reset) > 0 {
		logger.Warnf("⚠️ Reset %d stuck item(s): %v", len(reset), reset)
	}
	items := h.queue.Items()
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetQueueStats returns queue statistics.
func (h *Handler) GetQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// GetItem returns a specific queue item by ID.
func (h *Handler) GetItem(c *gin.Context) {
	id := c.Param("id")
	it, ok := h.queue.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, it)
}

// ResetStale moves items stuck in processing back to waiting and re-queues
// them.
func (h *Handler) ResetStale(c *gin.Context) {
	names := h.queue.ResetStale()
	c.JSON(http.StatusOK, gin.H{"reset": names, "count": len(names)})
}

// GlobalStatus returns the process-wide aggregate status.
func (h *Handler) GlobalStatus(c *gin.Context) {
	st := h.status.Snapshot(queue.GlobalSession)
	h.attachTail(c, &st)
	c.JSON(http.StatusOK, st)
}

// SessionStatus returns one session's status.
func (h *Handler) SessionStatus(c *gin.Context) {
	session := c.Param("session")
	sessions := h.status.Sessions()
	found := false
	for _, id := range sessions {
		if id == session {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	st := h.status.Snapshot(session)
	h.attachTail(c, &st)
	c.JSON(http.StatusOK, st)
}

// attachTail trims the status log to the requested number of lines
// (?logs=N, default all).
func (h *Handler) attachTail(c *gin.Context, st *queue.Status) {
	raw := c.Query("logs")
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return
	}
	if n < len(st.Logs) {
		st.Logs = st.Logs[len(st.Logs)-n:]
	}
}

// ResetStatus clears a session's status back to idle.
func (h *Handler) ResetStatus(c *gin.Context) {
	session := c.Param("session")
	h.status.Reset(session)
	c.JSON(http.StatusOK, gin.H{"message": "status reset", "session": session})
}

// ListFailed returns the structured failed-file entries.
func (h *Handler) ListFailed(c *gin.Context) {
	failed := h.queue.FailedFiles()
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].Timestamp.Before(failed[j].Timestamp)
	})
	c.JSON(http.StatusOK, gin.H{"failed": failed, "count": len(failed)})
}

// RetryFailed re-queues every failed file with a fresh retry budget.
func (h *Handler) RetryFailed(c *gin.Context) {
	n := h.queue.RetryFailed()
	if n == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "no failed files", "count": 0})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "failed files re-queued", "count": n})
}

// ClearFailed drops the failed-file list without re-queuing.
func (h *Handler) ClearFailed(c *gin.Context) {
	n := h.queue.ClearFailed()
	c.JSON(http.StatusOK, gin.H{"message": "failed files cleared", "count": n})
}
