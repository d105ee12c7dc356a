package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestRoute_RetriesTransient(t *testing.T) {
	calls := 0
	step := Route(Step{State: "S", Run: func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fault.Transient("call", errors.New("throttled"))
		}
		return nil
	}}, fastPolicy, nil)

	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, "S", step.State)
}

func TestRoute_ExhaustedBudget(t *testing.T) {
	var notified []int
	step := Route(Step{State: "S", Run: func(ctx context.Context) error {
		return fault.Transient("call", errors.New("throttled"))
	}}, fastPolicy, func(attempt int, err error, wait time.Duration) { notified = append(notified, attempt) })

	err := step.Run(context.Background())
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(fault.KindTransient), se.Kind)
	assert.Equal(t, []int{1, 2}, notified)

	p := se.Payload()
	assert.Equal(t, "S", p.State)
	assert.Contains(t, p.Message, "throttled")
	assert.False(t, p.EnteredAt.IsZero())
}

func TestRoute_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	step := Route(Step{State: "S", Run: func(ctx context.Context) error {
		calls++
		return fault.NotFound("get gap", "gap not found: %s", "g1")
	}}, fastPolicy, nil)

	err := step.Run(context.Background())
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(fault.KindNotFound), se.Kind)
	assert.Equal(t, 1, calls)
	assert.True(t, fault.IsNotFound(err))
}
