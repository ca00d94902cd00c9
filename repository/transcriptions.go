package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"llm-gateway/models"
)

const transcriptionColumns = `transcription_id, project_id, provider, file_hash, file_name,
	file_size_bytes, duration_seconds, model, language, text, cost_usd, response_time_ms,
	from_cache, created_at`

func scanTranscription(row pgx.Row) (*models.TranscriptionHistory, error) {
	var h models.TranscriptionHistory
	err := row.Scan(
		&h.TranscriptionID,
		&h.ProjectID,
		&h.Provider,
		&h.FileHash,
		&h.FileName,
		&h.FileSizeBytes,
		&h.DurationSeconds,
		&h.Model,
		&h.Language,
		&h.Text,
		&h.CostUSD,
		&h.ResponseTimeMS,
		&h.FromCache,
		&h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateTranscription appends a transcription history record
func (r *Repository) CreateTranscription(ctx context.Context, h *models.TranscriptionHistory) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("insert", "transcription_history")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `
		INSERT INTO transcription_history (`+transcriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (transcription_id) DO NOTHING
	`, h.TranscriptionID, h.ProjectID, h.Provider, h.FileHash, h.FileName,
		h.FileSizeBytes, h.DurationSeconds, h.Model, h.Language, h.Text, h.CostUSD, h.ResponseTimeMS,
		h.FromCache, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transcription: %w", err)
	}
	return nil
}

// GetTranscription retrieves a transcription by id, or nil
func (r *Repository) GetTranscription(ctx context.Context, transcriptionID string) (h *models.TranscriptionHistory, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "transcription_history")
	defer func() { done(err) }()

	h, err = scanTranscription(r.db.QueryRow(ctx,
		`SELECT `+transcriptionColumns+` FROM transcription_history WHERE transcription_id = $1`, transcriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription: %w", err)
	}
	return h, nil
}

// FindTranscriptionByHash returns the newest transcription of identical
// audio within a project, or nil
func (r *Repository) FindTranscriptionByHash(ctx context.Context, projectID, fileHash string) (h *models.TranscriptionHistory, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "transcription_history")
	defer func() { done(err) }()

	h, err = scanTranscription(r.db.QueryRow(ctx, `
		SELECT `+transcriptionColumns+`
		FROM transcription_history
		WHERE project_id = $1 AND file_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, fileHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transcription by hash: %w", err)
	}
	return h, nil
}

// ListTranscriptions returns a page of a project's transcriptions, newest first
func (r *Repository) ListTranscriptions(ctx context.Context, projectID string, limit, offset int) (history []*models.TranscriptionHistory, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "transcription_history")
	defer func() { done(err) }()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+transcriptionColumns+`
		FROM transcription_history
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		h, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcriptions: %w", err)
	}
	return history, nil
}

// CountTranscriptions returns how many transcriptions a project has
func (r *Repository) CountTranscriptions(ctx context.Context, projectID string) (n int64, err error) {
	if err := r.checkDB(); err != nil {
		return 0, err
	}
	done := track("select", "transcription_history")
	defer func() { done(err) }()

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transcription_history WHERE project_id = $1`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return n, nil
}
