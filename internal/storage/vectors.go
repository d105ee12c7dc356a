package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hyperjump/compliagent/internal/models"
)

const vectorColumns = `document_id, chunk_index, text, embedding, regulation_id, title, source_url, document_type, updated_at`

// UpsertVectors writes every chunk of a document with last-write-wins semantics.
func (s *SQLiteStorage) UpsertVectors(ctx context.Context, documentID string, records []*models.VectorRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vector_records (`+vectorColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, chunk_index) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			regulation_id = excluded.regulation_id,
			title = excluded.title,
			source_url = excluded.source_url,
			document_type = excluded.document_type,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if r.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to %s, not %s", r.ChunkIndex, r.DocumentID, documentID)
		}
		r.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx, r.DocumentID, r.ChunkIndex, r.Text, encodeEmbedding(r.Embedding),
			r.RegulationID, r.Title, r.SourceURL, r.Type, r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", r.ChunkIndex, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vector_records WHERE document_id = ? AND chunk_index >= ?`, documentID, len(records),
	); err != nil {
		return fmt.Errorf("failed to drop stale chunks: %w", err)
	}
	return tx.Commit()
}

func scanVector(row interface{ Scan(...any) error }) (*models.VectorRecord, error) {
	var r models.VectorRecord
	var blob []byte
	if err := row.Scan(&r.DocumentID, &r.ChunkIndex, &r.Text, &blob, &r.RegulationID, &r.Title,
		&r.SourceURL, &r.Type, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Embedding = decodeEmbedding(blob)
	return &r, nil
}

// GetVector returns one chunk.
func (s *SQLiteStorage) GetVector(ctx context.Context, documentID string, chunkIndex int) (*models.VectorRecord, error) {
	r, err := scanVector(s.db.QueryRowContext(ctx,
		`SELECT `+vectorColumns+` FROM vector_records WHERE document_id = ? AND chunk_index = ?`,
		documentID, chunkIndex))
	if err != nil {
		return nil, notFound(err, "get vector", "chunk", models.ChunkKey(documentID, chunkIndex))
	}
	return r, nil
}

// ListVectors pages through all chunks in key order. Used to rebuild in-memory indices.
func (s *SQLiteStorage) ListVectors(ctx context.Context, offset, limit int) ([]*models.VectorRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vectorColumns+` FROM vector_records ORDER BY document_id, chunk_index LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.VectorRecord
	for rows.Next() {
		r, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountVectors returns the number of stored chunks.
func (s *SQLiteStorage) CountVectors(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_records`).Scan(&n)
	return n, err
}

func encodeEmbedding(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
