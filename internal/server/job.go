package server

import (
	"context"
	"time"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/engine"
)

// job is a submitted optimization. Fields below done are guarded by the
// server's jobsMu.
type job struct {
	id          string
	strategy    string
	cfg         optimization.OptimizationConfig
	engine      *engine.Engine
	cancel      context.CancelFunc
	done        chan struct{}
	submittedAt time.Time

	cancelRequested bool
	finishedAt      *time.Time
	result          *optimization.OptimizationResult
	err             error
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	ID        string                 `json:"optimization_id"`
	Strategy  string                 `json:"strategy"`
	Algorithm optimization.Algorithm `json:"algorithm"`
	Objective string                 `json:"objective"`
	engine.Progress
	// Fraction is Completed/Planned, 0 before the plan is known.
	Fraction        float64     `json:"progress"`
	CancelRequested bool        `json:"cancel_requested"`
	SubmittedAt     time.Time   `json:"submitted_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Error           string      `json:"error,omitempty"`
	ErrorKind       errors.Kind `json:"error_kind,omitempty"`
}

func (j *job) status() *JobStatus {
	p := j.engine.Progress()
	st := &JobStatus{
		ID:              j.id,
		Strategy:        j.strategy,
		Algorithm:       j.cfg.Algorithm,
		Objective:       j.cfg.ObjectiveFunction,
		Progress:        p,
		CancelRequested: j.cancelRequested,
		SubmittedAt:     j.submittedAt,
		FinishedAt:      j.finishedAt,
	}
	if p.Planned > 0 {
		st.Fraction = float64(p.Completed) / float64(p.Planned)
	}
	if j.err != nil {
		st.Error = j.err.Error()
		st.ErrorKind = errors.KindOf(j.err)
	}
	return st
}
