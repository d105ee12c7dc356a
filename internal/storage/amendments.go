package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

const amendmentColumns = `amendment_id, gap_id, attempt, title, amendment_type, target_policy, amendment_text,
	rationale, implementation_notes, compliance_monitoring, effective_date, priority, status, execution_id,
	created_at, approved_by, approved_at, approval_notes`

// InsertAmendmentIfAbsent stores an amendment unless its id already exists.
func (s *SQLiteStorage) InsertAmendmentIfAbsent(ctx context.Context, a *models.AmendmentRecord) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO amendments (amendment_id, gap_id, attempt, title, amendment_type, target_policy,
			amendment_text, rationale, implementation_notes, compliance_monitoring, effective_date, priority,
			status, execution_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.GapID, a.Attempt, a.Title, a.AmendmentType, a.TargetPolicy, a.AmendmentText, a.Rationale,
		a.ImplementationNotes, a.ComplianceMonitoring, a.EffectiveDate, a.Priority, a.Status, a.ExecutionID,
		a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert amendment: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func scanAmendment(row interface{ Scan(...any) error }) (*models.AmendmentRecord, error) {
	var a models.AmendmentRecord
	var approvedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.GapID, &a.Attempt, &a.Title, &a.AmendmentType, &a.TargetPolicy, &a.AmendmentText,
		&a.Rationale, &a.ImplementationNotes, &a.ComplianceMonitoring, &a.EffectiveDate, &a.Priority, &a.Status,
		&a.ExecutionID, &a.CreatedAt, &a.ApprovedBy, &approvedAt, &a.ApprovalNotes); err != nil {
		return nil, err
	}
	a.ApprovedAt = nullTime(approvedAt)
	return &a, nil
}

// GetAmendment returns an amendment by id.
func (s *SQLiteStorage) GetAmendment(ctx context.Context, id string) (*models.AmendmentRecord, error) {
	a, err := scanAmendment(s.db.QueryRowContext(ctx,
		`SELECT `+amendmentColumns+` FROM amendments WHERE amendment_id = ?`, id))
	if err != nil {
		return nil, notFound(err, "get amendment", "amendment", id)
	}
	return a, nil
}

// ListAmendments returns amendments matching f, newest first.
func (s *SQLiteStorage) ListAmendments(ctx context.Context, f models.AmendmentFilter) ([]*models.AmendmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+amendmentColumns+` FROM amendments
		 WHERE (? = '' OR status = ?)
		   AND (? = '' OR gap_id = ?)
		   AND (? = '' OR execution_id = ?)
		 ORDER BY created_at DESC, amendment_id LIMIT ?`,
		f.Status, f.Status, f.GapID, f.GapID, f.ExecutionID, f.ExecutionID, limitOrDefault(f.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AmendmentRecord
	for rows.Next() {
		a, err := scanAmendment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdvanceAmendmentStatus moves an amendment forward while it still holds from.
// Approval stamps approver and notes.
func (s *SQLiteStorage) AdvanceAmendmentStatus(ctx context.Context, id string, from, to models.AmendmentStatus, by, notes string) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if to == models.AmendmentApproved {
		result, err = s.db.ExecContext(ctx,
			`UPDATE amendments SET status = ?, approved_by = ?, approved_at = ?, approval_notes = ?
			 WHERE amendment_id = ? AND status = ?`,
			to, by, time.Now().UTC(), notes, id, from)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE amendments SET status = ? WHERE amendment_id = ? AND status = ?`, to, id, from)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update amendment: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// CountAmendmentsForGap counts the drafting attempts already stored for a gap.
func (s *SQLiteStorage) CountAmendmentsForGap(ctx context.Context, gapID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT attempt) FROM amendments WHERE gap_id = ?`, gapID).Scan(&n)
	return n, err
}
