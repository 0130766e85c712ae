package queue

import (
	"fmt"
	"testing"
)

func TestStatusBoardLazyCreate(t *testing.T) {
	b := NewStatusBoard()

	st := b.Snapshot("s1")
	if st.State != StateIdle {
		t.Errorf("new session state = %s, want idle", st.State)
	}
}

func TestStatusBoardLogMirrorsToGlobal(t *testing.T) {
	b := NewStatusBoard()

	b.Log("s1", "separating one.mp3")

	if logs := b.Snapshot("s1").Logs; len(logs) != 1 {
		t.Fatalf("session logs = %d, want 1", len(logs))
	}
	if logs := b.Snapshot(GlobalSession).Logs; len(logs) != 1 {
		t.Fatalf("global logs = %d, want 1", len(logs))
	}
}

func TestStatusBoardLogRingCap(t *testing.T) {
	b := NewStatusBoard()

	for i := 0; i < maxLogLines+50; i++ {
		b.Log("s1", fmt.Sprintf("line %d", i))
	}

	logs := b.Snapshot("s1").Logs
	if len(logs) != maxLogLines {
		t.Fatalf("logs = %d, want capped at %d", len(logs), maxLogLines)
	}
	if logs[0] != "line 50" {
		t.Errorf("oldest surviving line = %q, want line 50 (oldest evicted)", logs[0])
	}
}

func TestStatusBoardSnapshotIsACopy(t *testing.T) {
	b := NewStatusBoard()
	b.Update("s1", func(st *Status) {
		st.Results = append(st.Results, "Song - Main.mp3")
	})

	snap := b.Snapshot("s1")
	snap.Results[0] = "mutated"

	if b.Snapshot("s1").Results[0] != "Song - Main.mp3" {
		t.Error("snapshot mutation leaked into the board")
	}
}

func TestStatusBoardReset(t *testing.T) {
	b := NewStatusBoard()
	b.Update("s1", func(st *Status) {
		st.State = StateError
		st.Error = "engine exited"
	})

	b.Reset("s1")

	st := b.Snapshot("s1")
	if st.State != StateIdle || st.Error != "" {
		t.Errorf("after reset: state=%s error=%q, want idle and clear", st.State, st.Error)
	}
}
