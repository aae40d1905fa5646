package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/jukebox/internal/shared"
)

// SyncStatus is the lifecycle state of a [SyncRun].
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncRun records one library sync of one provider instance.
type SyncRun struct {
	ID           string     `json:"id"`
	Sequence     int        `json:"sequence"`
	Provider     string     `json:"provider"`
	Status       SyncStatus `json:"status"`
	ItemsTotal   int        `json:"items_total"`
	ItemsFailed  int        `json:"items_failed"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewSyncRun creates a pending run for provider.
func NewSyncRun(provider string) *SyncRun {
	now := time.Now()
	return &SyncRun{Provider: provider, Status: SyncPending, CreatedAt: now, UpdatedAt: now}
}

// Start marks the run as running at t.
func (r *SyncRun) Start(t time.Time) {
	r.Status = SyncRunning
	r.StartedAt = &t
}

// Finish marks the run completed, or failed when err is non-nil.
func (r *SyncRun) Finish(t time.Time, err error) {
	r.CompletedAt = &t
	if err != nil {
		r.Status = SyncFailed
		r.ErrorMessage = err.Error()
		return
	}
	r.Status = SyncCompleted
}

// Duration returns how long the run took, or zero while it has not finished.
func (r *SyncRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// Validate checks the fields required before persisting.
func (r *SyncRun) Validate() error {
	if r.Provider == "" {
		return fmt.Errorf("%w: sync run without provider", shared.ErrInvalidInput)
	}
	switch r.Status {
	case SyncPending, SyncRunning, SyncCompleted, SyncFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown sync status %q", shared.ErrInvalidInput, r.Status)
	}
}

// PlaylogEntry is the number of seconds one item was streamed on one player.
type PlaylogEntry struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	ItemID   string    `json:"item_id"`
	PlayerID string    `json:"player_id,omitempty"`
	Seconds  int       `json:"seconds"`
	PlayedAt time.Time `json:"played_at"`
}
