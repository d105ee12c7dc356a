package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/retry"
	"github.com/hyperjump/compliagent/internal/storage"
)

// StateSucceeded is the current state of an execution that completed every step.
const StateSucceeded = "Succeeded"

const defaultTimeout = 30 * time.Minute

// Definition is one execution's ordered steps and the output it reports on success.
// Steps share the working set captured by their closures.
type Definition struct {
	Kind   models.WorkflowKind
	Steps  []Step
	Output func() any
}

type executionKey struct{}

// ExecutionID returns the id of the execution running the current step, or "" outside one.
func ExecutionID(ctx context.Context) string {
	id, _ := ctx.Value(executionKey{}).(string)
	return id
}

// Engine records executions and drives their steps.
type Engine struct {
	store    storage.ExecutionStore
	policy   retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
	observer func(*models.WorkflowExecution)

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRetryPolicy sets the per-step retry budget.
func WithRetryPolicy(p retry.Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithTimeout bounds each execution.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithObserver registers a callback invoked once per execution when it reaches a terminal status.
func WithObserver(fn func(*models.WorkflowExecution)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an engine over store.
func NewEngine(store storage.ExecutionStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		policy:  retry.DefaultPolicy(),
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	return e
}

// Start records a new execution of def and runs it in the background.
func (e *Engine) Start(ctx context.Context, def Definition, input any) (*models.ExecutionStarted, error) {
	exec, err := e.create(ctx, def, input)
	if err != nil {
		return nil, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.base, exec.ID, def)
	}()
	return &models.ExecutionStarted{ExecutionID: exec.ID, RequestID: exec.RequestID, Timestamp: exec.StartedAt}, nil
}

// Run records a new execution of def, runs it to completion and returns the final record.
func (e *Engine) Run(ctx context.Context, def Definition, input any) (*models.WorkflowExecution, error) {
	exec, err := e.create(ctx, def, input)
	if err != nil {
		return nil, err
	}
	e.execute(ctx, exec.ID, def)
	return e.store.GetExecution(context.WithoutCancel(ctx), exec.ID)
}

// Shutdown waits for running executions. When ctx ends first they are cancelled.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		<-done
	}
	e.cancel()
}

func (e *Engine) create(ctx context.Context, def Definition, input any) (*models.WorkflowExecution, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s has no steps", def.Kind)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow input: %w", err)
	}
	exec := &models.WorkflowExecution{
		ID:        uuid.NewString(),
		RequestID: uuid.NewString(),
		Kind:      def.Kind,
		State:     def.Steps[0].State,
		Status:    models.ExecutionRunning,
		Input:     raw,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.logger.Info("workflow execution started", zap.String("execution_id", exec.ID), zap.String("kind", string(def.Kind)))
	return exec, nil
}

func (e *Engine) execute(parent context.Context, id string, def Definition) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, executionKey{}, id)
	// Bookkeeping must land even after the execution deadline passes.
	record := context.WithoutCancel(ctx)

	for _, step := range def.Steps {
		if err := e.store.SetExecutionState(record, id, step.State); err != nil {
			e.logger.Warn("failed to record execution state", zap.String("execution_id", id), zap.Error(err))
		}
		e.appendStep(record, id, step.State, "entered", 0, "")

		if err := ctx.Err(); err != nil {
			se := &StepError{State: step.State, Kind: KindTimeout, EnteredAt: time.Now().UTC(), Err: err}
			if errors.Is(err, context.Canceled) {
				se.Kind = KindCancelled
			}
			e.fail(record, id, se)
			return
		}

		state := step.State
		routed := Route(step, e.policy, func(attempt int, err error, wait time.Duration) {
			e.logger.Warn("workflow step failed, retrying",
				zap.String("execution_id", id), zap.String("state", state),
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			e.appendStep(record, id, state, "retry", attempt, err.Error())
		})
		if err := routed.Run(ctx); err != nil {
			var se *StepError
			if !errors.As(err, &se) {
				se = &StepError{State: state, Kind: string(fault.KindUnclassified), EnteredAt: time.Now().UTC(), Err: err}
			}
			e.fail(record, id, se)
			return
		}
		e.appendStep(record, id, state, "succeeded", 0, "")
	}

	var output []byte
	if def.Output != nil {
		out, err := json.Marshal(def.Output())
		if err != nil {
			e.fail(record, id, &StepError{State: def.Steps[len(def.Steps)-1].State, Kind: string(fault.KindUnclassified), EnteredAt: time.Now().UTC(), Err: err})
			return
		}
		output = out
	}
	if err := e.store.SetExecutionState(record, id, StateSucceeded); err != nil {
		e.logger.Warn("failed to record execution state", zap.String("execution_id", id), zap.Error(err))
	}
	e.finish(record, id, models.ExecutionSucceeded, output, nil)
}

func (e *Engine) fail(ctx context.Context, id string, se *StepError) {
	e.appendStep(ctx, id, se.State, "failed", 0, se.Err.Error())
	e.logger.Error("workflow execution failed",
		zap.String("execution_id", id), zap.String("state", se.State),
		zap.String("error_kind", se.Kind), zap.Error(se.Err))
	e.finish(ctx, id, models.ExecutionFailed, nil, se.Payload())
}

func (e *Engine) finish(ctx context.Context, id string, status models.ExecutionStatus, output []byte, execErr *models.ExecutionError) {
	ok, err := e.store.FinishExecution(ctx, id, status, output, execErr)
	if err != nil {
		e.logger.Error("failed to finish execution", zap.String("execution_id", id), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	e.logger.Info("workflow execution finished", zap.String("execution_id", id), zap.String("status", string(status)))
	if e.observer == nil {
		return
	}
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		e.logger.Warn("failed to read finished execution", zap.String("execution_id", id), zap.Error(err))
		return
	}
	e.observer(exec)
}

func (e *Engine) appendStep(ctx context.Context, id, state, event string, attempt int, detail string) {
	step := models.StepEntry{State: state, Event: event, Attempt: attempt, Detail: detail}
	if err := e.store.AppendStep(ctx, id, step); err != nil {
		e.logger.Warn("failed to append step", zap.String("execution_id", id), zap.Error(err))
	}
}
