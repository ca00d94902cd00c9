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

const projectKeyColumns = `key_id, project_id, name, encrypted_key, COALESCE(fingerprint, ''),
	key_prefix, key_suffix, is_active, expires_at, last_used_at, created_at, updated_at`

func scanProjectKey(row pgx.Row) (*models.ProjectAPIKey, error) {
	var k models.ProjectAPIKey
	err := row.Scan(
		&k.KeyID,
		&k.ProjectID,
		&k.Name,
		&k.EncryptedKey,
		&k.Fingerprint,
		&k.KeyPrefix,
		&k.KeySuffix,
		&k.IsActive,
		&k.ExpiresAt,
		&k.LastUsedAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// FindActiveProjectKeyByFingerprint returns the active key with the given
// HMAC fingerprint, or nil
func (r *Repository) FindActiveProjectKeyByFingerprint(ctx context.Context, fingerprint string) (k *models.ProjectAPIKey, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "project_api_keys")
	defer func() { done(err) }()

	k, err = scanProjectKey(r.db.QueryRow(ctx, `
		SELECT `+projectKeyColumns+`
		FROM project_api_keys
		WHERE fingerprint = $1 AND is_active
	`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project key by fingerprint: %w", err)
	}
	return k, nil
}

// FindActiveProjectKeysByPrefix returns every active key sharing prefix,
// oldest first
func (r *Repository) FindActiveProjectKeysByPrefix(ctx context.Context, prefix string) (keys []*models.ProjectAPIKey, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "project_api_keys")
	defer func() { done(err) }()

	rows, err := r.db.Query(ctx, `
		SELECT `+projectKeyColumns+`
		FROM project_api_keys
		WHERE key_prefix = $1 AND is_active
		ORDER BY created_at
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query project keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		k, err := scanProjectKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project keys: %w", err)
	}
	return keys, nil
}

// TouchProjectKey records when a key last authenticated
func (r *Repository) TouchProjectKey(ctx context.Context, keyID string, usedAt time.Time) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("update", "project_api_keys")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `
		UPDATE project_api_keys SET last_used_at = $2 WHERE key_id = $1
	`, keyID, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch project key: %w", err)
	}
	return nil
}

// CreateProjectKey inserts a project key record
func (r *Repository) CreateProjectKey(ctx context.Context, k *models.ProjectAPIKey) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("insert", "project_api_keys")
	defer func() { done(err) }()

	if k.KeyID == "" {
		k.KeyID = "pkey_" + uuid.NewString()
	}
	var fingerprint *string
	if k.Fingerprint != "" {
		fingerprint = &k.Fingerprint
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO project_api_keys (key_id, project_id, name, encrypted_key, fingerprint,
		                              key_prefix, key_suffix, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, k.KeyID, k.ProjectID, k.Name, k.EncryptedKey, fingerprint,
		k.KeyPrefix, k.KeySuffix, k.IsActive, k.ExpiresAt,
	).Scan(&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project key: %w", err)
	}
	return nil
}

// DeactivateProjectKey revokes a project key
func (r *Repository) DeactivateProjectKey(ctx context.Context, keyID string) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("update", "project_api_keys")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `
		UPDATE project_api_keys SET is_active = FALSE, updated_at = NOW() WHERE key_id = $1
	`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate project key: %w", err)
	}
	return nil
}
