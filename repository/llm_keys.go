package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"llm-gateway/models"
)

const llmKeyColumns = `key_id, project_id, provider, name, encrypted_key, key_prefix,
	is_active, is_default, last_used_at, created_at, updated_at`

func scanLLMKey(row pgx.Row) (*models.LLMAPIKey, error) {
	var k models.LLMAPIKey
	err := row.Scan(
		&k.KeyID,
		&k.ProjectID,
		&k.Provider,
		&k.Name,
		&k.EncryptedKey,
		&k.KeyPrefix,
		&k.IsActive,
		&k.IsDefault,
		&k.LastUsedAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetLLMAPIKey retrieves a provider key by id, or nil
func (r *Repository) GetLLMAPIKey(ctx context.Context, keyID string) (k *models.LLMAPIKey, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "llm_api_keys")
	defer func() { done(err) }()

	k, err = scanLLMKey(r.db.QueryRow(ctx,
		`SELECT `+llmKeyColumns+` FROM llm_api_keys WHERE key_id = $1`, keyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get llm api key: %w", err)
	}
	return k, nil
}

// FindDefaultLLMAPIKey returns the active default key of a project for a
// provider, or nil
func (r *Repository) FindDefaultLLMAPIKey(ctx context.Context, projectID string, provider models.LLMProvider) (k *models.LLMAPIKey, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "llm_api_keys")
	defer func() { done(err) }()

	k, err = scanLLMKey(r.db.QueryRow(ctx, `
		SELECT `+llmKeyColumns+`
		FROM llm_api_keys
		WHERE project_id = $1 AND provider = $2 AND is_default AND is_active
		LIMIT 1
	`, projectID, provider))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default llm api key: %w", err)
	}
	return k, nil
}

// ListLLMAPIKeys returns a project's keys for a provider, defaults first
func (r *Repository) ListLLMAPIKeys(ctx context.Context, projectID string, provider models.LLMProvider) (keys []*models.LLMAPIKey, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "llm_api_keys")
	defer func() { done(err) }()

	rows, err := r.db.Query(ctx, `
		SELECT `+llmKeyColumns+`
		FROM llm_api_keys
		WHERE project_id = $1 AND provider = $2
		ORDER BY is_default DESC, created_at
	`, projectID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		k, err := scanLLMKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan llm api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating llm api keys: %w", err)
	}
	return keys, nil
}

// CreateLLMAPIKey inserts a provider key. A new default key demotes the
// previous default for the same project and provider in one transaction.
func (r *Repository) CreateLLMAPIKey(ctx context.Context, k *models.LLMAPIKey) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("insert", "llm_api_keys")
	defer func() { done(err) }()

	if !k.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", k.Provider)
	}
	if k.KeyID == "" {
		k.KeyID = "llmkey_" + uuid.NewString()
	}

	db := r.db
	if k.IsDefault {
		tx, txRepo, err := r.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		db = txRepo.db

		_, err = db.Exec(ctx, `
			UPDATE llm_api_keys SET is_default = FALSE, updated_at = NOW()
			WHERE project_id = $1 AND provider = $2 AND is_default
		`, k.ProjectID, k.Provider)
		if err != nil {
			return fmt.Errorf("failed to clear previous default key: %w", err)
		}
		if err := insertLLMKey(ctx, db, k); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit llm api key: %w", err)
		}
		return nil
	}

	return insertLLMKey(ctx, db, k)
}

func insertLLMKey(ctx context.Context, db DBTX, k *models.LLMAPIKey) error {
	err := db.QueryRow(ctx, `
		INSERT INTO llm_api_keys (key_id, project_id, provider, name, encrypted_key,
		                          key_prefix, is_active, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, k.KeyID, k.ProjectID, k.Provider, k.Name, k.EncryptedKey, k.KeyPrefix, k.IsActive, k.IsDefault,
	).Scan(&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create llm api key: %w", err)
	}
	return nil
}

// MarkLLMAPIKeyUsed records when a provider key was last resolved
func (r *Repository) MarkLLMAPIKeyUsed(ctx context.Context, keyID string, usedAt time.Time) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("update", "llm_api_keys")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `UPDATE llm_api_keys SET last_used_at = $2 WHERE key_id = $1`, keyID, usedAt)
	if err != nil {
		return fmt.Errorf("failed to mark llm api key used: %w", err)
	}
	return nil
}

// DeactivateLLMAPIKey disables a provider key
func (r *Repository) DeactivateLLMAPIKey(ctx context.Context, keyID string) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("update", "llm_api_keys")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `
		UPDATE llm_api_keys SET is_active = FALSE, is_default = FALSE, updated_at = NOW()
		WHERE key_id = $1
	`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate llm api key: %w", err)
	}
	return nil
}
