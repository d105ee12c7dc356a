package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

const documentColumns = `document_id, source_url, bucket, object_key, title, document_type, status,
	ocr_job_id, error_code, error_message, created_at, last_updated`

func scanDocument(row interface{ Scan(...any) error }) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	err := row.Scan(&rec.ID, &rec.SourceURL, &rec.Bucket, &rec.ObjectKey, &rec.Title, &rec.Type, &rec.Status,
		&rec.OCRJobID, &rec.ErrorCode, &rec.ErrorMessage, &rec.CreatedAt, &rec.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertDocumentIfAbsent creates rec unless its source URL is already known. Concurrent callers
// converge on the first writer's row through the UNIQUE constraint on source_url.
func (s *SQLiteStorage) InsertDocumentIfAbsent(ctx context.Context, rec *models.DocumentRecord) (bool, error) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUpdated = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		rec.ID, rec.SourceURL, rec.Bucket, rec.ObjectKey, rec.Title, rec.Type, rec.Status,
		rec.OCRJobID, rec.ErrorCode, rec.ErrorMessage, rec.CreatedAt, rec.LastUpdated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert document: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_transitions (document_id, status, at) VALUES (?, ?, ?)`,
		rec.ID, rec.Status, now,
	); err != nil {
		return false, fmt.Errorf("failed to record transition: %w", err)
	}
	return true, tx.Commit()
}

// GetDocument returns a ledger record by id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	rec, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE document_id = ?`, id))
	if err != nil {
		return nil, notFound(err, "get document", "document", id)
	}
	return rec, nil
}

// GetDocumentByURL returns a ledger record by source URL.
func (s *SQLiteStorage) GetDocumentByURL(ctx context.Context, sourceURL string) (*models.DocumentRecord, error) {
	rec, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_url = ?`, sourceURL))
	if err != nil {
		return nil, notFound(err, "lookup document", "document", sourceURL)
	}
	return rec, nil
}

// CompareAndSetStatus updates the status only while the row still holds from.
// Non-empty fields overwrite the stored values; moving out of Failed clears the error.
func (s *SQLiteStorage) CompareAndSetStatus(ctx context.Context, id string, from, to models.DocumentStatus, f DocumentFields) (bool, error) {
	now := time.Now().UTC()
	errorCode, errorMessage := f.ErrorCode, f.ErrorMessage
	clearError := from == models.StatusFailed && to != models.StatusFailed

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET
			status = ?,
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			error_code = CASE WHEN ? THEN '' WHEN ? != '' THEN ? ELSE error_code END,
			error_message = CASE WHEN ? THEN '' WHEN ? != '' THEN ? ELSE error_message END,
			last_updated = ?
		 WHERE document_id = ? AND status = ?`,
		to,
		f.Title, f.Title,
		clearError, errorCode, errorCode,
		clearError, errorMessage, errorMessage,
		now,
		id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update document status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_transitions (document_id, status, at) VALUES (?, ?, ?)`,
		id, to, now,
	); err != nil {
		return false, fmt.Errorf("failed to record transition: %w", err)
	}
	return true, tx.Commit()
}

// SetOCRJobID records the extraction job on a document without changing its status.
func (s *SQLiteStorage) SetOCRJobID(ctx context.Context, id, jobID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET ocr_job_id = ?, last_updated = ? WHERE document_id = ?`,
		jobID, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "set job id", "document", id)
	}
	return nil
}

// ListDocuments returns records ordered by last update, newest first. An empty status lists all.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, status models.DocumentStatus, offset, limit int) ([]*models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE (? = '' OR status = ?)
		 ORDER BY last_updated DESC LIMIT ? OFFSET ?`,
		status, status, limitOrDefault(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DocumentHistory returns every status the document held, oldest first.
func (s *SQLiteStorage) DocumentHistory(ctx context.Context, id string) ([]models.DocumentStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status FROM document_transitions WHERE document_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentStatus
	for rows.Next() {
		var st models.DocumentStatus
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountDocuments returns the number of records per status.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.DocumentStatus]int64)
	for rows.Next() {
		var st models.DocumentStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
