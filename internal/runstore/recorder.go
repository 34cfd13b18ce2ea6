package runstore

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"voyager/internal/contract"
	"voyager/internal/resolver"
)

// Recorder writes the lifecycle of runs to a Store.
type Recorder struct {
	Store *Store
	Now   func() time.Time
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{Store: store, Now: time.Now}
}

func (r *Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Start persists a running record. The previous run, if any, is linked.
func (r *Recorder) Start(mode Mode, workers int) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("nil recorder store")
	}
	run := Run{
		RunID:     uuid.NewString(),
		StartTime: r.now(),
		Mode:      mode,
		Workers:   workers,
		Status:    StatusRunning,
	}
	prev, ok, err := r.Store.LatestRun()
	if err != nil {
		return Run{}, err
	}
	if ok {
		id := prev.RunID
		run.PreviousRunID = &id
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Finish records a completed pass: the trace, a summary and, when crates
// failed or were blocked, a failure record.
func (r *Recorder) Finish(run Run, rep *resolver.Report) (Run, error) {
	end := r.now()
	run.EndTime = &end
	run.GraphHash = rep.GraphHash
	run.Summary = Summarize(rep)

	t := rep.Trace
	t.GraphHash = rep.GraphHash
	if err := r.Store.SaveTrace(run.RunID, t); err != nil {
		return run, err
	}
	h, err := t.Hash()
	if err != nil {
		return run, err
	}
	run.TraceHash = h

	run.Status = StatusSucceeded
	if err := rep.Err(); err != nil {
		run.Status = StatusFailed
		f, ferr := FailureFromError(err)
		if ferr != nil {
			return run, ferr
		}
		if err := r.Store.SaveFailure(run.RunID, f); err != nil {
			return run, err
		}
	}
	return run, r.Store.SaveRun(run)
}

// Abort records a run that ended without a report.
func (r *Recorder) Abort(run Run, cause error) (Run, error) {
	end := r.now()
	run.EndTime = &end
	run.Status = StatusErrored
	f, err := FailureFromError(cause)
	if err != nil {
		return run, err
	}
	if err := r.Store.SaveFailure(run.RunID, f); err != nil {
		return run, err
	}
	return run, r.Store.SaveRun(run)
}

// Summarize counts crate outcomes and diagnostics of rep.
func Summarize(rep *resolver.Report) *Summary {
	s := &Summary{
		Ready:     []string{},
		Failed:    []string{},
		Blocked:   []string{},
		Artifacts: len(rep.Artifacts),
		Revision:  uint64(rep.Revision),
	}
	for _, name := range rep.Order {
		switch rep.States[name] {
		case contract.StateReady:
			s.Ready = append(s.Ready, name)
		case contract.StateFailed:
			s.Failed = append(s.Failed, name)
		case contract.StateBlocked:
			s.Blocked = append(s.Blocked, name)
		}
	}
	s.Errors, s.Warnings = rep.Errors, rep.Warnings
	return s
}
