package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

const executionColumns = `execution_id, request_id, kind, state, status, input, output,
	error_kind, error_message, error_state, error_entered_at, started_at, completed_at`

// CreateExecution stores a new running execution.
func (s *SQLiteStorage) CreateExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (execution_id, request_id, kind, state, status, input, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.RequestID, exec.Kind, exec.State, exec.Status, string(exec.Input), exec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func scanExecution(row interface{ Scan(...any) error }) (*models.WorkflowExecution, error) {
	var (
		e                  models.WorkflowExecution
		input              string
		output             sql.NullString
		errKind, errMsg    string
		errState           string
		errAt, completedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.RequestID, &e.Kind, &e.State, &e.Status, &input, &output,
		&errKind, &errMsg, &errState, &errAt, &e.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if input != "" {
		e.Input = []byte(input)
	}
	if output.Valid && output.String != "" {
		e.Output = []byte(output.String)
	}
	if errKind != "" {
		e.Error = &models.ExecutionError{Kind: errKind, Message: errMsg, State: errState}
		if errAt.Valid {
			e.Error.EnteredAt = errAt.Time
		}
	}
	e.CompletedAt = nullTime(completedAt)
	return &e, nil
}

// GetExecution returns an execution together with its step log.
func (s *SQLiteStorage) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE execution_id = ?`, id))
	if err != nil {
		return nil, notFound(err, "get execution", "execution", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, event, attempt, detail, at FROM execution_steps
		 WHERE execution_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var step models.StepEntry
		if err := rows.Scan(&step.Seq, &step.State, &step.Event, &step.Attempt, &step.Detail, &step.Timestamp); err != nil {
			return nil, err
		}
		e.Steps = append(e.Steps, step)
	}
	return e, rows.Err()
}

// ListExecutions returns executions newest first, without step logs.
func (s *SQLiteStorage) ListExecutions(ctx context.Context, kind models.WorkflowKind, status models.ExecutionStatus, limit int) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
		 WHERE (? = '' OR kind = ?) AND (? = '' OR status = ?)
		 ORDER BY started_at DESC, execution_id LIMIT ?`,
		kind, kind, status, status, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetExecutionState records the state a running execution is in.
func (s *SQLiteStorage) SetExecutionState(ctx context.Context, id, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET state = ? WHERE execution_id = ? AND status = ?`,
		state, id, models.ExecutionRunning)
	if err != nil {
		return fmt.Errorf("failed to set execution state: %w", err)
	}
	return nil
}

// AppendStep adds an entry to the step log with the next sequence number.
func (s *SQLiteStorage) AppendStep(ctx context.Context, id string, step models.StepEntry) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_steps WHERE execution_id = ?`, id,
	).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_steps (execution_id, seq, state, event, attempt, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seq, step.State, step.Event, step.Attempt, step.Detail, step.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}
	return tx.Commit()
}

// FinishExecution sets the terminal status of a running execution. Later calls are no-ops.
func (s *SQLiteStorage) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, output []byte, execErr *models.ExecutionError) (bool, error) {
	var (
		errKind, errMsg, errState string
		errAt                     *time.Time
		out                       *string
	)
	if execErr != nil {
		errKind, errMsg, errState = execErr.Kind, execErr.Message, execErr.State
		at := execErr.EnteredAt
		errAt = &at
	}
	if output != nil {
		o := string(output)
		out = &o
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET status = ?, output = ?, error_kind = ?, error_message = ?, error_state = ?,
		     error_entered_at = ?, completed_at = ?
		 WHERE execution_id = ? AND status = ?`,
		status, out, errKind, errMsg, errState, errAt, time.Now().UTC(), id, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to finish execution: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}
