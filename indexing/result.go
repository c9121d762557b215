// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package indexing

import (
	"errors"

	"github.com/poiesic/ragindex/core"
)

// SourceErrorMessage is recorded on a source when any of its documents failed.
const SourceErrorMessage = "There were some errors processing this source"

// Action is what a run did with one document.
type Action uint8

const (
	// ActionIndexed means the document was scraped, embedded and marked ready.
	ActionIndexed Action = iota + 1
	// ActionDeleted means the document's points and record were removed.
	ActionDeleted
	// ActionSuperseded means the document changed during the run and the
	// final write was dropped.
	ActionSuperseded
	// ActionFailed means the document hit an error; see DocumentOutcome.Err.
	ActionFailed
	// ActionSkipped means the run stopped before reaching the document.
	ActionSkipped
)

func (a Action) String() string {
	switch a {
	case ActionIndexed:
		return "indexed"
	case ActionDeleted:
		return "deleted"
	case ActionSuperseded:
		return "superseded"
	case ActionFailed:
		return "failed"
	case ActionSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// DocumentOutcome is the result of running one document.
type DocumentOutcome struct {
	DocID  string
	Name   string
	Action Action
	Chunks int
	Tokens int
	Err    error

	// UsageErr is a failure to report usage. The document stays indexed.
	UsageErr error
}

// RunResult accumulates the outcome of one claimed source run.
type RunResult struct {
	SourceID string
	Outcomes []DocumentOutcome

	// BillingErr is set when the quota gate stopped the run.
	BillingErr *BillingError

	// SourceErr is a failure that aborted the run outside any single document.
	SourceErr error

	// Finalized reports whether the source's final status was written.
	Finalized bool
}

// Failed reports whether the run should leave the source in error.
func (r *RunResult) Failed() bool {
	if r.BillingErr != nil || r.SourceErr != nil {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// FinalStatus is the status the source ends in.
func (r *RunResult) FinalStatus() core.Status {
	if r.Failed() {
		return core.StatusError
	}
	return core.StatusReady
}

// Tokens sums the embedding tokens consumed by the run.
func (r *RunResult) Tokens() int {
	total := 0
	for _, o := range r.Outcomes {
		total += o.Tokens
	}
	return total
}

// Count returns how many outcomes had the given action.
func (r *RunResult) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// Err joins every document error.
func (r *RunResult) Err() error {
	var errs []error
	if r.SourceErr != nil {
		errs = append(errs, r.SourceErr)
	}
	if r.BillingErr != nil {
		errs = append(errs, r.BillingErr)
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// sourceError is the message written to the source's Error field.
func (r *RunResult) sourceError() string {
	switch {
	case r.SourceErr != nil:
		return r.SourceErr.Error()
	case r.Failed():
		return SourceErrorMessage
	default:
		return ""
	}
}

func (r *RunResult) billingReason() string {
	if r.BillingErr == nil {
		return ""
	}
	return r.BillingErr.Error()
}
