package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stemforge/pkg/logger"
)

func init() {
	logger.Init(false)
}

// stubProcessor records batches and answers from a per-filename error map.
type stubProcessor struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]error
	done    chan string
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{fail: make(map[string]error), done: make(chan string, 100)}
}

func (p *stubProcessor) ProcessBatch(ctx context.Context, items []*Item) []error {
	p.mu.Lock()
	var names []string
	for _, it := range items {
		names = append(names, it.Filename)
	}
	p.batches = append(p.batches, names)
	errs := make([]error, len(items))
	for i, it := range items {
		errs[i] = p.fail[it.Filename]
	}
	p.mu.Unlock()

	for _, it := range items {
		p.done <- it.Filename
	}
	return errs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnqueueAndProcess(t *testing.T) {
	proc := newStubProcessor()
	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})
	q.Start()
	defer q.Stop()

	depth, err := q.Enqueue("one.mp3", "s1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}

	waitFor(t, func() bool { return q.Stats()["total"] == 0 })
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	q := New(newStubProcessor(), nil, capacityFunc(true), Options{Workers: 1})

	if _, err := q.Enqueue("one.mp3", "s1"); !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("err = %v, want ErrTooManyPending", err)
	}
}

type capacityFunc bool

func (c capacityFunc) AtCapacity() bool { return bool(c) }

func TestRetryThenFailed(t *testing.T) {
	proc := newStubProcessor()
	proc.fail["bad.mp3"] = errors.New("engine exploded")

	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	q.Start()
	defer q.Stop()

	q.Enqueue("bad.mp3", "s1")

	waitFor(t, func() bool { return len(q.FailedFiles()) == 1 })

	failed := q.FailedFiles()[0]
	if failed.Filename != "bad.mp3" || failed.RetryCount != 2 {
		t.Errorf("failed = %+v, want bad.mp3 after 2 attempts", failed)
	}
	if failed.SessionID != "s1" {
		t.Errorf("session lost on failure: %q", failed.SessionID)
	}

	// two attempts total
	proc.mu.Lock()
	attempts := len(proc.batches)
	proc.mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryFailedResetsCounter(t *testing.T) {
	proc := newStubProcessor()
	proc.fail["bad.mp3"] = errors.New("boom")

	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start()
	defer q.Stop()

	q.Enqueue("bad.mp3", "s1")
	waitFor(t, func() bool { return len(q.FailedFiles()) == 1 })

	// operator fixes the cause and retries
	proc.mu.Lock()
	delete(proc.fail, "bad.mp3")
	proc.mu.Unlock()

	if n := q.RetryFailed(); n != 1 {
		t.Fatalf("RetryFailed = %d, want 1", n)
	}
	waitFor(t, func() bool { return q.Stats()["total"] == 0 })

	if len(q.FailedFiles()) != 0 {
		t.Error("failed list should be empty after successful retry")
	}
}

func TestClearFailed(t *testing.T) {
	proc := newStubProcessor()
	proc.fail["bad.mp3"] = errors.New("boom")

	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start()
	defer q.Stop()

	q.Enqueue("bad.mp3", "s1")
	waitFor(t, func() bool { return len(q.FailedFiles()) == 1 })

	if n := q.ClearFailed(); n != 1 {
		t.Fatalf("ClearFailed = %d, want 1", n)
	}
	if q.Stats()["total"] != 0 {
		t.Error("cleared item should leave the tracker")
	}
}

func TestResetStale(t *testing.T) {
	q := New(newStubProcessor(), nil, nil, Options{Workers: 1, MaxProcessing: time.Minute})

	// simulate an item stuck in processing past the bound
	item := &Item{
		ID:                  "stuck123",
		Filename:            "stuck.mp3",
		SessionID:           "s1",
		Status:              StatusProcessing,
		Worker:              7,
		ProcessingStartedAt: time.Now().Add(-2 * time.Minute),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.byID[item.ID] = item
	q.mu.Unlock()

	names := q.ResetStale()
	if len(names) != 1 || names[0] != "stuck.mp3" {
		t.Fatalf("ResetStale = %v, want [stuck.mp3]", names)
	}
	if item.Status != StatusWaiting || item.Worker != 0 {
		t.Errorf("item = %s/worker %d, want waiting with no worker", item.Status, item.Worker)
	}
	if item.SessionID != "s1" {
		t.Error("session association lost on reset")
	}
	if len(q.ch) != 1 {
		t.Errorf("requeued %d times, want exactly 1", len(q.ch))
	}

	// a second sweep finds nothing stale
	if names := q.ResetStale(); len(names) != 0 {
		t.Errorf("second sweep reset %v", names)
	}
}

func TestWorkerDrainsSessionIntoBatch(t *testing.T) {
	proc := newStubProcessor()
	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond, BatchSize: 10})

	// enqueue before starting workers so the drain sees them all at once
	for _, f := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		if _, err := q.Enqueue(f, "s1"); err != nil {
			t.Fatalf("Enqueue %s: %v", f, err)
		}
	}

	q.Start()
	defer q.Stop()

	waitFor(t, func() bool { return q.Stats()["total"] == 0 })

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.batches) != 1 {
		t.Fatalf("batches = %d, want one drained batch, got %v", len(proc.batches), proc.batches)
	}
	if len(proc.batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(proc.batches[0]))
	}
}

type blockingGate struct{ waited chan int }

func (g *blockingGate) WaitForMemory(ctx context.Context, workerID int) error {
	g.waited <- workerID
	return nil
}

func TestWorkerConsultsGate(t *testing.T) {
	gate := &blockingGate{waited: make(chan int, 1)}
	q := New(newStubProcessor(), gate, nil, Options{Workers: 1})
	q.Start()
	defer q.Stop()

	q.Enqueue("one.mp3", "s1")

	select {
	case <-gate.waited:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never consulted the memory gate")
	}
}

// countingProcessor tallies processed items without per-item channel sends,
// so it scales to large enqueue bursts.
type countingProcessor struct {
	mu sync.Mutex
	n  int
}

func (p *countingProcessor) ProcessBatch(ctx context.Context, items []*Item) []error {
	p.mu.Lock()
	p.n += len(items)
	p.mu.Unlock()
	return make([]error, len(items))
}

func TestEnqueueBeyondChannelCapacityLosesNothing(t *testing.T) {
	proc := &countingProcessor{}
	q := New(proc, nil, nil, Options{Workers: 2, MaxRetries: 1, RetryDelay: time.Millisecond, BatchSize: 10})

	// more items than the work channel holds, all before any worker runs
	const total = 2050
	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(fmt.Sprintf("track-%04d.mp3", i), "s1"); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	q.Start()
	defer q.Stop()

	waitFor(t, func() bool { return q.Stats()["total"] == 0 })

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.n != total {
		t.Errorf("processed %d items, want %d", proc.n, total)
	}
}

func TestSetProgressAndSnapshotIsolation(t *testing.T) {
	q := New(newStubProcessor(), nil, nil, Options{Workers: 1})

	q.Enqueue("one.mp3", "s1")
	it := <-q.ch
	if !q.claim(it, 1) {
		t.Fatal("claim failed")
	}

	q.SetProgress(it.ID, 42.5, "Separating")

	snap, ok := q.Get(it.ID)
	if !ok {
		t.Fatal("item not found")
	}
	if snap.Progress != 42.5 || snap.Step != "Separating" {
		t.Errorf("snapshot = %.1f/%q, want 42.5/Separating", snap.Progress, snap.Step)
	}

	// mutating snapshots must not touch the live item
	snap.Progress = 99
	items := q.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	items[0].Step = "tampered"

	live, _ := q.Get(it.ID)
	if live.Progress != 42.5 || live.Step != "Separating" {
		t.Errorf("live item = %.1f/%q, snapshots leaked through", live.Progress, live.Step)
	}
}

func TestBoardMirrorsRetriesAndFailures(t *testing.T) {
	proc := newStubProcessor()
	proc.fail["bad.mp3"] = errors.New("boom")

	board := NewStatusBoard()
	q := New(proc, nil, nil, Options{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	q.AttachStatus(board)
	q.Start()
	defer q.Stop()

	q.Enqueue("bad.mp3", "s1")

	waitFor(t, func() bool { return len(q.FailedFiles()) == 1 })

	st := board.Snapshot("s1")
	if st.RetryCounts["bad.mp3"] != 2 {
		t.Errorf("retry count = %d, want 2", st.RetryCounts["bad.mp3"])
	}
	if len(st.FailedFiles) != 1 || st.FailedFiles[0].Filename != "bad.mp3" {
		t.Fatalf("failed files = %+v", st.FailedFiles)
	}
}
