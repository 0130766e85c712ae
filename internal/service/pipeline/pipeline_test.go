package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/edits"
	"github.com/stemforge/internal/queue"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/pkg/logger"
)

func init() {
	logger.Init(false)
}

func newTestService(t *testing.T, pending *registry.PendingSet) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	gen := edits.NewGenerator(&config.Config{}, pending, nil, nil)
	svc := &Service{
		folders: config.FoldersConfig{
			Uploads:   filepath.Join(root, "uploads"),
			Separated: filepath.Join(root, "separated"),
			Processed: filepath.Join(root, "processed"),
			Covers:    filepath.Join(root, "covers"),
		},
		gen:    gen,
		status: queue.NewStatusBoard(),
	}
	return svc, root
}

func TestProcessBatchMissingUpload(t *testing.T) {
	svc, _ := newTestService(t, registry.NewPendingSet(1000, 1500))

	items := []*queue.Item{{ID: "a1", Filename: "ghost.mp3", SessionID: "s1"}}
	errs := svc.ProcessBatch(context.Background(), items)

	if errs[0] == nil {
		t.Fatal("expected error for missing upload")
	}
	if !strings.Contains(errs[0].Error(), "upload missing") {
		t.Fatalf("unexpected error: %v", errs[0])
	}
	st := svc.status.Snapshot("s1")
	if st.State != queue.StateError {
		t.Fatalf("state = %s, want error", st.State)
	}
}

func TestProcessBatchSkipsAlreadyProcessed(t *testing.T) {
	pending := registry.NewPendingSet(1000, 1500)
	pending.Register(registry.PendingEntry{Track: "Song"})

	svc, _ := newTestService(t, pending)

	dir := filepath.Join(svc.folders.Uploads, "s1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Song.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	items := []*queue.Item{{ID: "a1", Filename: "Song.mp3", SessionID: "s1"}}
	errs := svc.ProcessBatch(context.Background(), items)

	if errs[0] != nil {
		t.Fatalf("unexpected error: %v", errs[0])
	}
	st := svc.status.Snapshot("s1")
	if st.State != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", st.State)
	}
	found := false
	for _, line := range st.Logs {
		if strings.Contains(line, "skipped Song") {
			found = true
		}
	}
	if !found {
		t.Fatalf("skip not logged: %v", st.Logs)
	}
}

func TestInputPath(t *testing.T) {
	svc, root := newTestService(t, registry.NewPendingSet(1000, 1500))
	got := svc.InputPath("s1", "a.mp3")
	want := filepath.Join(root, "uploads", "s1", "a.mp3")
	if got != want {
		t.Fatalf("InputPath = %s, want %s", got, want)
	}
}
