// Package runstore persists resolution runs under <workdir>/.voyager/runs and
// writes contract artifacts to an output directory.
package runstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode records whether a run could reuse the artifact cache.
type Mode string

const (
	ModeClean       Mode = "clean"
	ModeIncremental Mode = "incremental"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	// StatusFailed means at least one crate failed or was blocked.
	StatusFailed Status = "failed"
	// StatusErrored means the run aborted before producing a report.
	StatusErrored Status = "errored"
)

// Run is the run.json record.
type Run struct {
	RunID     string     `json:"run_id"`
	GraphHash string     `json:"graph_hash,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Mode      Mode       `json:"mode"`
	Workers   int        `json:"workers"`
	Status    Status     `json:"status"`
	// Summary is set once the run has a report.
	Summary       *Summary `json:"summary,omitempty"`
	TraceHash     string   `json:"trace_hash,omitempty"`
	PreviousRunID *string  `json:"previous_run_id"`
}

// Summary counts crate outcomes and diagnostics of a finished run.
type Summary struct {
	Ready     []string `json:"ready"`
	Failed    []string `json:"failed"`
	Blocked   []string `json:"blocked"`
	Artifacts int      `json:"artifacts"`
	Errors    int      `json:"errors"`
	Warnings  int      `json:"warnings"`
	Revision  uint64   `json:"revision"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeClean, ModeIncremental:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusErrored:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassGraph      FailureClass = "graph"
	FailureClassWorkspace  FailureClass = "workspace"
	FailureClassResolution FailureClass = "resolution"
	FailureClassSystem     FailureClass = "system"
)

// Failure is the failure.json record of a run that did not succeed.
type Failure struct {
	Class   FailureClass `json:"failure_class"`
	Crates  []string     `json:"crates,omitempty"`
	Code    string       `json:"error_code"`
	Message string       `json:"error_message"`
	// Retryable failures may succeed on an unchanged workspace.
	Retryable bool `json:"retryable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.Class {
	case FailureClassGraph, FailureClassWorkspace, FailureClassResolution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.Class))
	}
	if strings.TrimSpace(f.Code) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.Message) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
