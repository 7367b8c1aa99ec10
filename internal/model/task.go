package model

import "github.com/oklog/ulid/v2"

// Result codes recorded on a finished task. A nil result means the task is
// still running.
const (
	ResultOrphaned    = -1
	ResultSuccess     = 0
	ResultScriptError = 1
	ResultStopped     = 9
)

// Task state names derived from the result code.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateStopped   = "stopped"
	StateOrphaned  = "orphaned"
)

// Field bounds shared by the store schema and request validation.
const (
	MaxNameLen   = 32
	MaxDetailLen = 1024
	MaxPercent   = 100
)

// StopMessage is appended to the output of a task stopped by the user.
const StopMessage = "Task aborted by the user"

// NewID generates a new ULID string for use as an entity identifier.
// ULIDs sort by creation time, which keeps id tie-breaks stable in listings.
func NewID() string {
	return ulid.Make().String()
}

// Task is a trackable unit of background work.
type Task struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Detail    *string `json:"detail,omitempty"`
	Output    *string `json:"-"`
	Result    *int    `json:"result,omitempty"`
	Percent   int     `json:"percent"`
	ScriptID  *string `json:"script_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Running reports whether the task has not reached a terminal state.
func (t *Task) Running() bool {
	return t.Result == nil
}

// State returns the lifecycle state name of the task.
func (t *Task) State() string {
	return TaskState(t.Result)
}

// OutputText returns the task output, or "" if nothing was written yet.
func (t *Task) OutputText() string {
	if t.Output == nil {
		return ""
	}
	return *t.Output
}

// TaskState maps a result code to its state name.
func TaskState(result *int) string {
	if result == nil {
		return StateRunning
	}
	switch r := *result; {
	case r == ResultSuccess:
		return StateSucceeded
	case r == ResultStopped:
		return StateStopped
	case r == ResultOrphaned:
		return StateOrphaned
	default:
		return StateFailed
	}
}

// Script is persisted, reusable source code that a task may execute.
type Script struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}
