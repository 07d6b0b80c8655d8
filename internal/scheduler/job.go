package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leozw/monitrix/internal/core"
)

// JobState moves Idle -> Running -> (Success | PartialFailure) -> Idle.
// Success and PartialFailure describe the last finished tick.
type JobState string

const (
	StateIdle           JobState = "idle"
	StateRunning        JobState = "running"
	StateSuccess        JobState = "success"
	StatePartialFailure JobState = "partial_failure"
)

type TickResult struct {
	Kind     core.ResourceKind `json:"kind"`
	State    JobState          `json:"state"`
	Total    int               `json:"total"`
	Checked  int               `json:"checked"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
}

type Job struct {
	Kind core.ResourceKind
	Spec string

	entryID cron.EntryID
	mu      sync.Mutex
	state   JobState
	last    *TickResult
}

type JobStatus struct {
	Kind    core.ResourceKind `json:"kind"`
	Spec    string            `json:"spec"`
	State   JobState          `json:"state"`
	NextRun time.Time         `json:"next_run"`
	Last    *TickResult       `json:"last,omitempty"`
}

func (j *Job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateRunning {
		return false
	}
	j.state = StateRunning
	return true
}

// finish records r as the last tick. A nil r leaves the previous one.
func (j *Job) finish(r *TickResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if r != nil {
		j.last = r
	}
	j.state = StateIdle
}

func (j *Job) status(next time.Time) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{Kind: j.Kind, Spec: j.Spec, State: j.state, NextRun: next, Last: j.last}
	if st.State == StateIdle && j.last != nil {
		st.State = j.last.State
	}
	return st
}
