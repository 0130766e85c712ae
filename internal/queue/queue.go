package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemforge/pkg/logger"
)

// ErrTooManyPending is returned by Enqueue when the outstanding artifact-set
// count has reached the hard cap.
var ErrTooManyPending = errors.New("too many pending downloads, rejecting new work")

// Processor handles a batch of claimed items. It returns one error slot per
// item, aligned with the input; nil means success.
type Processor interface {
	ProcessBatch(ctx context.Context, items []*Item) []error
}

// Gate blocks a worker before it starts new work, e.g. under memory pressure.
type Gate interface {
	WaitForMemory(ctx context.Context, workerID int) error
}

// Capacity reports whether new work must be rejected.
type Capacity interface {
	AtCapacity() bool
}

// Options configures a Queue.
type Options struct {
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxProcessing time.Duration // stuck-item bound
	BatchSize     int           // max items a worker drains into one batch
}

// Queue tracks items and feeds the worker pool.
type Queue struct {
	mu     sync.Mutex
	items  []*Item
	byID   map[string]*Item
	failed []FailedFile

	ch chan *Item

	processor Processor
	gate      Gate
	capacity  Capacity
	board     *StatusBoard // optional mirror for retry/failure bookkeeping
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. gate and capacity may be nil.
func New(processor Processor, gate Gate, capacity Capacity, opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		byID:      make(map[string]*Item),
		ch:        make(chan *Item, 2000),
		processor: processor,
		gate:      gate,
		capacity:  capacity,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AttachStatus mirrors per-file retry counts and failed files onto the given
// board. Call before Start.
func (q *Queue) AttachStatus(board *StatusBoard) {
	q.board = board
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 1; i <= q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logger.Infof("📥 Job queue started (%d workers)", q.opts.Workers)
}

// Stop gracefully stops the queue.
func (q *Queue) Stop() {
	logger.Info("🛑 Stopping job queue...")
	q.cancel()
	q.wg.Wait()
	logger.Info("✅ Job queue stopped")
}

// Enqueue adds a track to the queue and returns the resulting depth. It
// rejects work while the pending-artifact cap is reached.
func (q *Queue) Enqueue(filename, sessionID string) (int, error) {
	if q.capacity != nil && q.capacity.AtCapacity() {
		return 0, ErrTooManyPending
	}

	item := &Item{
		ID:        uuid.New().String()[:8],
		Filename:  filename,
		SessionID: sessionID,
		Status:    StatusWaiting,
		AddedAt:   time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.byID[item.ID] = item
	depth := q.waitingLocked()
	q.mu.Unlock()

	logger.Infof("📥 Queued: %s (session %s, depth %d)", filename, sessionID, depth)

	select {
	case q.ch <- item:
	default:
		// channel full: hand off from a goroutine so the item is never lost
		logger.Warnf("⚠️ Work channel full, delivering %s asynchronously", item.Filename)
		go q.requeue(item)
	}

	return depth, nil
}

// Get returns a snapshot of an item by ID.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// SetProgress records live batch progress on a processing item.
func (q *Queue) SetProgress(id string, percent float64, step string) {
	q.mu.Lock()
	if it, ok := q.byID[id]; ok && it.Status == StatusProcessing {
		it.Progress = percent
		it.Step = step
	}
	q.mu.Unlock()
}

// Items returns snapshots of all live items, failed first, then processing,
// then waiting.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	q.mu.Unlock()

	rank := func(s ItemStatus) int {
		switch s {
		case StatusFailed:
			return 0
		case StatusProcessing:
			return 1
		default:
			return 2
		}
	}

	// stable insertion-order sort within each rank
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j-1].Status) > rank(out[j].Status); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// FailedFiles returns the exhausted-retry records.
func (q *Queue) FailedFiles() []FailedFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]FailedFile(nil), q.failed...)
}

// ClearFailed drops all failed records and their items.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.failed)
	q.failed = nil
	q.removeLocked(func(it *Item) bool { return it.Status == StatusFailed })
	return n
}

// RetryFailed resets every failed item's retry counter and re-enqueues it.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	var retry []*Item
	for _, it := range q.items {
		if it.Status == StatusFailed {
			it.Status = StatusWaiting
			it.Retries = 0
			it.Worker = 0
			it.Error = ""
			retry = append(retry, it)
		}
	}
	q.failed = nil
	q.mu.Unlock()

	for _, it := range retry {
		q.requeue(it)
		logger.Infof("🔁 Retrying failed: %s", it.Filename)
	}
	return len(retry)
}

// ResetStale finds processing items older than the configured bound, resets
// them to waiting with no worker, and re-queues each exactly once. Returns
// the reset items' filenames.
func (q *Queue) ResetStale() []string {
	if q.opts.MaxProcessing <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-q.opts.MaxProcessing)

	q.mu.Lock()
	var stale []*Item
	for _, it := range q.items {
		if it.Status == StatusProcessing && !it.ProcessingStartedAt.IsZero() && it.ProcessingStartedAt.Before(cutoff) {
			it.Status = StatusWaiting
			it.Worker = 0
			it.Progress = 0
			it.Step = ""
			it.ProcessingStartedAt = time.Time{}
			stale = append(stale, it)
		}
	}
	q.mu.Unlock()

	names := make([]string, 0, len(stale))
	for _, it := range stale {
		q.requeue(it)
		names = append(names, it.Filename)
		logger.Warnf("♻️ Reset stuck item: %s (session %s)", it.Filename, it.SessionID)
	}
	return names
}

// Stats returns a per-status breakdown.
func (q *Queue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":      len(q.items),
		"waiting":    0,
		"processing": 0,
		"failed":     0,
		"workers":    q.opts.Workers,
	}
	for _, it := range q.items {
		switch it.Status {
		case StatusWaiting:
			stats["waiting"]++
		case StatusProcessing:
			stats["processing"]++
		case StatusFailed:
			stats["failed"]++
		}
	}
	return stats
}

func (q *Queue) waitingLocked() int {
	n := 0
	for _, it := range q.items {
		if it.Status == StatusWaiting {
			n++
		}
	}
	return n
}

// removeLocked drops items matching pred from the tracker.
func (q *Queue) removeLocked(pred func(*Item) bool) {
	kept := q.items[:0]
	for _, it := range q.items {
		if pred(it) {
			delete(q.byID, it.ID)
		} else {
			kept = append(kept, it)
		}
	}
	q.items = kept
}

func (q *Queue) requeue(it *Item) {
	select {
	case q.ch <- it:
	case <-q.ctx.Done():
	}
}

// worker claims items, drains companions from the same session into one
// batch, and hands the batch to the processor.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case first := <-q.ch:
			if !q.claim(first, id) {
				continue // raced with a reset or clear
			}

			if q.gate != nil {
				if err := q.gate.WaitForMemory(q.ctx, id); err != nil {
					// shutdown mid-wait: put the item back for next start
					q.release(first)
					return
				}
			}

			batch := append([]*Item{first}, q.drain(first.SessionID, id)...)
			q.processBatch(batch, id)
		}
	}
}

// claim transitions one item to processing under this worker.
func (q *Queue) claim(it *Item, workerID int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, live := q.byID[it.ID]; !live || it.Status != StatusWaiting {
		return false
	}
	it.Status = StatusProcessing
	it.Worker = workerID
	it.ProcessingStartedAt = time.Now()
	return true
}

func (q *Queue) release(it *Item) {
	q.mu.Lock()
	it.Status = StatusWaiting
	it.Worker = 0
	it.Progress = 0
	it.Step = ""
	it.ProcessingStartedAt = time.Time{}
	q.mu.Unlock()
}

// drain opportunistically claims more waiting items from the same session so
// the separation engine sees one batch instead of single files.
func (q *Queue) drain(sessionID string, workerID int) []*Item {
	var extra []*Item
	for len(extra) < q.opts.BatchSize-1 {
		select {
		case it := <-q.ch:
			if it.SessionID != sessionID {
				// another session's work: put it back and stop draining
				q.requeue(it)
				return extra
			}
			if q.claim(it, workerID) {
				extra = append(extra, it)
			}
		default:
			return extra
		}
	}
	return extra
}

func (q *Queue) processBatch(batch []*Item, workerID int) {
	names := make([]string, len(batch))
	for i, it := range batch {
		names[i] = it.Filename
	}
	logger.Infof("🔄 Worker %d processing %d track(s): %s", workerID, len(batch), strings.Join(names, ", "))

	errs := q.processor.ProcessBatch(q.ctx, batch)

	retried := make(map[string]int)
	var newlyFailed []FailedFile

	q.mu.Lock()
	for i, it := range batch {
		var err error
		if i < len(errs) {
			err = errs[i]
		}

		if err == nil {
			logger.Infof("✅ Done: %s", it.Filename)
			it.Status = StatusDone
			continue
		}

		it.Retries++
		it.Error = err.Error()
		retried[it.Filename] = it.Retries

		if it.Retries < q.opts.MaxRetries {
			logger.Warnf("⚠️ %s failed (attempt %d/%d): %v", it.Filename, it.Retries, q.opts.MaxRetries, err)
			it.Status = StatusWaiting
			it.Worker = 0
			it.Progress = 0
			it.Step = ""
			it.ProcessingStartedAt = time.Time{}

			go func(it *Item) {
				select {
				case <-time.After(q.opts.RetryDelay):
					q.requeue(it)
				case <-q.ctx.Done():
				}
			}(it)
		} else {
			logger.Errorf("❌ %s failed after %d attempts: %v", it.Filename, it.Retries, err)
			it.Status = StatusFailed
			ff := FailedFile{
				Filename:   it.Filename,
				SessionID:  it.SessionID,
				Error:      err.Error(),
				Timestamp:  time.Now(),
				RetryCount: it.Retries,
			}
			q.failed = append(q.failed, ff)
			newlyFailed = append(newlyFailed, ff)
		}
	}

	// drop completed items from the live list
	q.removeLocked(func(it *Item) bool { return it.Status == StatusDone })
	q.mu.Unlock()

	// mirror retry/failure bookkeeping onto the session status, outside q.mu
	if q.board != nil && (len(retried) > 0 || len(newlyFailed) > 0) {
		q.board.Update(batch[0].SessionID, func(st *Status) {
			for name, n := range retried {
				st.RetryCounts[name] = n
			}
			st.FailedFiles = append(st.FailedFiles, newlyFailed...)
		})
	}
}
