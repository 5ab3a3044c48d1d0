// Package journal records every sync attempt as an operation row: begun
// while the sync runs, finished exactly once with a terminal status and
// outcome counts. Finished rows are immutable history.
package journal

import (
	"errors"
	"time"
)

// Status is an operation's lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Terminal reports whether the status ends the operation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors || s == StatusFailed
}

// OperationType distinguishes how a sync was initiated.
type OperationType string

const (
	OpTypeScheduled OperationType = "auto_sync"
	OpTypeManual    OperationType = "manual_sync"
)

var (
	// ErrNotFound means no operation matched the id.
	ErrNotFound = errors.New("operation not found")

	// ErrAlreadyFinished means Finish was called on a terminal row.
	ErrAlreadyFinished = errors.New("operation already finished")
)

// Operation is one journal row.
type Operation struct {
	ID           int64         `json:"id"`
	WatcherID    int64         `json:"watcher_id"`
	Type         OperationType `json:"operation_type"`
	Status       Status        `json:"status"`
	SongsAdded   int           `json:"songs_added"`
	SongsRemoved int           `json:"songs_removed"`
	SongsFailed  int           `json:"songs_failed"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Outcome carries the counts a finished sync reports.
type Outcome struct {
	SongsAdded   int    `json:"songs_added"`
	SongsRemoved int    `json:"songs_removed"`
	SongsFailed  int    `json:"songs_failed"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StatusFor derives the terminal status from an outcome. A hard error means
// failed regardless of counts; per-song failures alone degrade to
// completed_with_errors.
func (o Outcome) StatusFor(hardError bool) Status {
	if hardError {
		return StatusFailed
	}
	if o.SongsFailed > 0 {
		return StatusCompletedWithErrors
	}
	return StatusCompleted
}
