package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"llm-gateway/models"
)

const projectColumns = `project_id, name, display_name, description, organization_id,
	status, rate_limits, created_at, updated_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	var limits []byte
	err := row.Scan(
		&p.ProjectID,
		&p.Name,
		&p.DisplayName,
		&p.Description,
		&p.OrganizationID,
		&p.Status,
		&limits,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RateLimits = models.DefaultRateLimits()
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &p.RateLimits); err != nil {
			return nil, fmt.Errorf("failed to decode rate limits: %w", err)
		}
	}
	return &p, nil
}

// GetProject retrieves a project by id, or nil when it does not exist
func (r *Repository) GetProject(ctx context.Context, projectID string) (p *models.Project, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "projects")
	defer func() { done(err) }()

	p, err = scanProject(r.db.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id = $1`, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// CreateProject inserts a project. Unset rate limits get the defaults.
func (r *Repository) CreateProject(ctx context.Context, p *models.Project) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("insert", "projects")
	defer func() { done(err) }()

	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}
	if p.RateLimits == (models.RateLimits{}) {
		p.RateLimits = models.DefaultRateLimits()
	}
	limits, err := json.Marshal(p.RateLimits)
	if err != nil {
		return fmt.Errorf("failed to encode rate limits: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO projects (project_id, name, display_name, description, organization_id, status, rate_limits)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, p.ProjectID, p.Name, p.DisplayName, p.Description, p.OrganizationID, p.Status, limits,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// UpdateProjectStatus moves a project to a new lifecycle state
func (r *Repository) UpdateProjectStatus(ctx context.Context, projectID string, status models.ProjectStatus) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("update", "projects")
	defer func() { done(err) }()

	tag, err := r.db.Exec(ctx, `
		UPDATE projects SET status = $2, updated_at = NOW() WHERE project_id = $1
	`, projectID, status)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s not found", projectID)
	}
	return nil
}

// DeleteProject soft-deletes a project; its keys stop authenticating
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	return r.UpdateProjectStatus(ctx, projectID, models.ProjectStatusDeleted)
}
