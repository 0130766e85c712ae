package queue

import (
	"sync"
	"time"
)

// State is the coarse phase of a session's batch run.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// GlobalSession is the process-wide aggregate status key.
const GlobalSession = "global"

// log lines kept per session before the oldest are evicted
const maxLogLines = 1000

// Status is the live view of one session's batch run.
type Status struct {
	State        State          `json:"state"`
	TotalFiles   int            `json:"total_files"`
	CurrentIndex int            `json:"current_index"`
	CurrentFile  string         `json:"current_file"`
	CurrentStep  string         `json:"current_step"`
	Progress     float64        `json:"progress"`
	Logs         []string       `json:"logs"`
	Results      []string       `json:"results"`
	Error        string         `json:"error,omitempty"`
	RetryCounts  map[string]int `json:"retry_counts,omitempty"`
	FailedFiles  []FailedFile   `json:"failed_files,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StatusBoard holds per-session statuses plus the global aggregate. Sessions
// are created lazily on first touch.
type StatusBoard struct {
	mu       sync.Mutex
	sessions map[string]*Status
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{sessions: make(map[string]*Status)}
}

// session returns the live status for an id, creating it idle. Callers must
// hold b.mu.
func (b *StatusBoard) session(id string) *Status {
	st, ok := b.sessions[id]
	if !ok {
		st = &Status{State: StateIdle, RetryCounts: make(map[string]int)}
		b.sessions[id] = st
	}
	return st
}

// Update applies fn to a session's status (and stamps UpdatedAt).
func (b *StatusBoard) Update(id string, fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.session(id)
	fn(st)
	st.UpdatedAt = time.Now()
}

// UpdateBoth applies fn to a session and to the global aggregate.
func (b *StatusBoard) UpdateBoth(id string, fn func(*Status)) {
	b.Update(id, fn)
	if id != GlobalSession {
		b.Update(GlobalSession, fn)
	}
}

// Log appends a line to a session's capped log ring and the global one.
func (b *StatusBoard) Log(id, line string) {
	b.UpdateBoth(id, func(st *Status) {
		st.Logs = append(st.Logs, line)
		if len(st.Logs) > maxLogLines {
			st.Logs = st.Logs[len(st.Logs)-maxLogLines:]
		}
	})
}

// Snapshot returns a deep copy of a session's status.
func (b *StatusBoard) Snapshot(id string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.session(id)
	out := *st
	out.Logs = append([]string(nil), st.Logs...)
	out.Results = append([]string(nil), st.Results...)
	out.FailedFiles = append([]FailedFile(nil), st.FailedFiles...)
	out.RetryCounts = make(map[string]int, len(st.RetryCounts))
	for k, v := range st.RetryCounts {
		out.RetryCounts[k] = v
	}
	return out
}

// Sessions returns the known session ids.
func (b *StatusBoard) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Reset clears a session back to idle.
func (b *StatusBoard) Reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = &Status{State: StateIdle, RetryCounts: make(map[string]int)}
}
