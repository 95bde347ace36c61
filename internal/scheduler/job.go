package scheduler

import (
	"time"

	"github.com/tastythames/labfleet/internal/inventory"
)

// Status is a job's position in the run state machine:
//
//	Pending -> Running -> {Succeeded, AwaitingRetry, Failed}
//	AwaitingRetry -> Running (after the retry delay)
//
// Succeeded and Failed are terminal.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusAwaitingRetry
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusAwaitingRetry:
		return "awaiting-retry"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Work binds one target to its rendered remote command.
type Work struct {
	Target  inventory.Target
	Command string
}

// Job tracks one target's attempts for the lifetime of a run. A job is only
// ever touched by the goroutine currently holding it; hand-off happens through
// the ready channel.
type Job struct {
	Target  inventory.Target
	Command string

	Attempts   int
	Status     Status
	LastErr    error
	LastExit   int
	StartedAt  time.Time
	FinishedAt time.Time
	LogPath    string
}

// Duration is wall-clock time from the first attempt to the terminal state.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Event describes one state transition, published to the reporter as it
// happens.
type Event struct {
	Target     string
	Status     Status
	Attempt    int
	Elapsed    time.Duration
	ExitStatus int
	Err        error
}
