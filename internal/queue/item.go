package queue

import (
	"time"
)

// ItemStatus represents the current state of a queued track.
type ItemStatus string

const (
	StatusWaiting    ItemStatus = "waiting"
	StatusProcessing ItemStatus = "processing"
	StatusDone       ItemStatus = "done"
	StatusFailed     ItemStatus = "failed"
)

// Item is one track awaiting or undergoing processing. The worker that claims
// an item owns its mutable fields until it releases it; at most one worker
// holds a processing item at a time.
type Item struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	SessionID string     `json:"session_id"`
	Status    ItemStatus `json:"status"`
	// Worker is the claiming worker's id; 0 means unclaimed.
	Worker              int       `json:"worker,omitempty"`
	Progress            float64   `json:"progress"`
	Step                string    `json:"step,omitempty"`
	Retries             int       `json:"retries"`
	AddedAt             time.Time `json:"added_at"`
	ProcessingStartedAt time.Time `json:"processing_started_at,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// FailedFile is the structured record kept for an item that exhausted its
// retries.
type FailedFile struct {
	Filename   string    `json:"filename"`
	SessionID  string    `json:"session_id"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}
