package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

const gapColumns = `gap_id, regulation_id, title, description, severity, status, gap_type, risk_level,
	regulatory_reference, policy_reference, impact_description, recommended_action, source_document_ids,
	execution_id, created_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes`

// InsertGapIfAbsent stores a gap unless its content-hash id already exists.
func (s *SQLiteStorage) InsertGapIfAbsent(ctx context.Context, g *models.GapRecord) (bool, error) {
	sources, err := json.Marshal(g.SourceDocumentIDs)
	if err != nil {
		return false, fmt.Errorf("failed to marshal source documents: %w", err)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO gaps (gap_id, regulation_id, title, description, severity, status, gap_type,
			risk_level, regulatory_reference, policy_reference, impact_description, recommended_action,
			source_document_ids, execution_id, created_at, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.RegulationID, g.Title, g.Description, g.Severity, g.Status, g.GapType, g.RiskLevel,
		g.RegulatoryReference, g.PolicyReference, g.ImpactDescription, g.RecommendedAction,
		string(sources), g.ExecutionID, g.CreatedAt, g.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert gap: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func scanGap(row interface{ Scan(...any) error }) (*models.GapRecord, error) {
	var g models.GapRecord
	var sources string
	var ackAt, resAt sql.NullTime
	if err := row.Scan(&g.ID, &g.RegulationID, &g.Title, &g.Description, &g.Severity, &g.Status, &g.GapType,
		&g.RiskLevel, &g.RegulatoryReference, &g.PolicyReference, &g.ImpactDescription, &g.RecommendedAction,
		&sources, &g.ExecutionID, &g.CreatedAt, &g.AcknowledgedBy, &ackAt, &g.ResolvedBy, &resAt, &g.Notes); err != nil {
		return nil, err
	}
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &g.SourceDocumentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source documents: %w", err)
		}
	}
	g.AcknowledgedAt = nullTime(ackAt)
	g.ResolvedAt = nullTime(resAt)
	return &g, nil
}

// GetGap returns a gap by id.
func (s *SQLiteStorage) GetGap(ctx context.Context, id string) (*models.GapRecord, error) {
	g, err := scanGap(s.db.QueryRowContext(ctx, `SELECT `+gapColumns+` FROM gaps WHERE gap_id = ?`, id))
	if err != nil {
		return nil, notFound(err, "get gap", "gap", id)
	}
	return g, nil
}

// ListGaps returns gaps matching f, newest first.
func (s *SQLiteStorage) ListGaps(ctx context.Context, f models.GapFilter) ([]*models.GapRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gapColumns+` FROM gaps
		 WHERE (? = '' OR status = ?)
		   AND (? = '' OR severity = ?)
		   AND (? = '' OR regulation_id = ?)
		   AND (? = '' OR execution_id = ?)
		 ORDER BY created_at DESC, gap_id LIMIT ?`,
		f.Status, f.Status, f.Severity, f.Severity, f.RegulationID, f.RegulationID,
		f.ExecutionID, f.ExecutionID, limitOrDefault(f.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.GapRecord
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AdvanceGapStatus moves a gap forward while it still holds from.
func (s *SQLiteStorage) AdvanceGapStatus(ctx context.Context, id string, from, to models.GapStatus, by, notes string) (bool, error) {
	now := time.Now().UTC()
	var query string
	switch to {
	case models.GapAcknowledged:
		query = `UPDATE gaps SET status = ?, acknowledged_by = ?, acknowledged_at = ?,
			notes = CASE WHEN ? != '' THEN ? ELSE notes END
			WHERE gap_id = ? AND status = ?`
	case models.GapResolved:
		query = `UPDATE gaps SET status = ?, resolved_by = ?, resolved_at = ?,
			notes = CASE WHEN ? != '' THEN ? ELSE notes END
			WHERE gap_id = ? AND status = ?`
	default:
		return false, fmt.Errorf("unsupported gap status: %s", to)
	}
	result, err := s.db.ExecContext(ctx, query, to, by, now, notes, notes, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update gap: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}
