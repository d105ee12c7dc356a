// Package workflow runs the gap-analysis and amendment-drafting state machines.
// Every step goes through Route, which owns retries and the failure contract.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/retry"
)

// Error kinds recorded for executions stopped from outside their steps.
const (
	KindTimeout   = "WorkflowTimeout"
	KindCancelled = "WorkflowCancelled"
)

// Step is one state of a workflow. Run reads and writes the execution's working set.
type Step struct {
	State string
	Run   func(ctx context.Context) error
}

// StepError is the failure of a routed step. It becomes the execution's error payload.
type StepError struct {
	State     string
	Kind      string
	EnteredAt time.Time
	Err       error
}

func (e *StepError) Error() string { return e.State + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Payload returns the error recorded on the failed execution.
func (e *StepError) Payload() *models.ExecutionError {
	return &models.ExecutionError{
		Kind:      e.Kind,
		Message:   e.Err.Error(),
		State:     e.State,
		EnteredAt: e.EnteredAt,
	}
}

// Route wraps step so that transient errors are retried within policy and any other outcome
// is reported as a *StepError. NotFound and invalid transitions are never retried. When the
// overall deadline of ctx passes the step fails with KindTimeout.
func Route(step Step, policy retry.Policy, notify retry.Notify) Step {
	return Step{
		State: step.State,
		Run: func(ctx context.Context) error {
			entered := time.Now().UTC()
			err := retry.Do(ctx, policy, step.Run, notify)
			if err == nil {
				return nil
			}
			kind := string(fault.Classify(err))
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				kind = KindTimeout
			case errors.Is(ctx.Err(), context.Canceled):
				kind = KindCancelled
			}
			return &StepError{State: step.State, Kind: kind, EnteredAt: entered, Err: err}
		},
	}
}
