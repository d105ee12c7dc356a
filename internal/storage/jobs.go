package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

// CreateOCRJob records the join from jobID to documentID. Re-recording the same job is a no-op.
func (s *SQLiteStorage) CreateOCRJob(ctx context.Context, jobID, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ocr_jobs (job_id, document_id, status, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(job_id) DO NOTHING`,
		jobID, documentID, JobPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ocr job: %w", err)
	}
	return nil
}

// GetOCRJob resolves a job id.
func (s *SQLiteStorage) GetOCRJob(ctx context.Context, jobID string) (*OCRJob, error) {
	var job OCRJob
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, document_id, status, created_at, completed_at FROM ocr_jobs WHERE job_id = ?`, jobID,
	).Scan(&job.JobID, &job.DocumentID, &job.Status, &job.CreatedAt, &completed)
	if err != nil {
		return nil, notFound(err, "get ocr job", "ocr job", jobID)
	}
	job.CompletedAt = nullTime(completed)
	return &job, nil
}

// FinishOCRJob claims a pending job. Only one caller can move it out of pending.
func (s *SQLiteStorage) FinishOCRJob(ctx context.Context, jobID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ocr_jobs SET status = ?, completed_at = ? WHERE job_id = ? AND status = ?`,
		status, time.Now().UTC(), jobID, JobPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish ocr job: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// SaveSegments writes each segment once; segments already stored are left untouched.
func (s *SQLiteStorage) SaveSegments(ctx context.Context, content *models.ExtractedContent) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO extracted_segments
		 (document_id, segment_index, text, page_number, line_count, job_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, seg := range content.Segments {
		result, err := stmt.ExecContext(ctx, content.DocumentID, seg.Index, seg.Text, seg.PageNum, seg.LineCount, content.JobID, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert segment %d: %w", seg.Index, err)
		}
		n, _ := result.RowsAffected()
		inserted += int(n)
	}
	return inserted, tx.Commit()
}

// GetSegments returns the stored segments of a document in order.
func (s *SQLiteStorage) GetSegments(ctx context.Context, documentID string) ([]models.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_index, text, page_number, line_count FROM extracted_segments
		 WHERE document_id = ? ORDER BY segment_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Segment
	for rows.Next() {
		var seg models.Segment
		if err := rows.Scan(&seg.Index, &seg.Text, &seg.PageNum, &seg.LineCount); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
