// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package importjob

import (
	"math"

	"auditctl/cli/internal/backend"
)

// State is a step of the import lifecycle.
type State int

const (
	Idle State = iota
	Starting
	// AlreadyRunning means another run was in progress and the poller attached to it.
	AlreadyRunning
	Polling
	// Skipped means the backend declined to start, e.g. a precondition was not met.
	Skipped
	Completed
	Failed
	// Stopped means the caller cancelled the poller. It is not a reported outcome.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case AlreadyRunning:
		return "already_running"
	case Polling:
		return "polling"
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Skipped || s == Completed || s == Failed
}

// JobStatus is a snapshot of the remote job, rebuilt from scratch on every check.
type JobStatus struct {
	State    State
	Message  string
	Progress int
	Total    int
	// Attached is true when the poller joined a run started elsewhere.
	Attached bool
}

// Percent returns the completion percentage of the snapshot.
func (s JobStatus) Percent() int { return Percent(s.Progress, s.Total) }

func newJobStatus(state State, st backend.ImportStatus, attached bool) JobStatus {
	return JobStatus{
		State:    state,
		Message:  st.Message,
		Progress: max(st.Progress, 0),
		Total:    max(st.Total, 0),
		Attached: attached,
	}
}

// Percent is round(100*progress/total) clamped to [0,100], and 0 when total is not positive.
func Percent(progress, total int) int {
	if total <= 0 {
		return 0
	}
	v := int(math.Round(100 * float64(progress) / float64(total)))
	return min(max(v, 0), 100)
}
