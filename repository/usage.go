package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"llm-gateway/models"
)

// CreateUsageLog appends a usage record. Records are never updated.
func (r *Repository) CreateUsageLog(ctx context.Context, u *models.UsageLog) (err error) {
	if err := r.checkDB(); err != nil {
		return err
	}
	done := track("insert", "usage_logs")
	defer func() { done(err) }()

	reqMeta, err := json.Marshal(u.RequestMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode request metadata: %w", err)
	}
	respMeta, err := json.Marshal(u.ResponseMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode response metadata: %w", err)
	}
	cost, err := json.Marshal(u.CostData)
	if err != nil {
		return fmt.Errorf("failed to encode cost data: %w", err)
	}
	var cache []byte
	if u.CacheInfo != nil {
		if cache, err = json.Marshal(u.CacheInfo); err != nil {
			return fmt.Errorf("failed to encode cache info: %w", err)
		}
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO usage_logs (usage_id, project_id, api_endpoint, provider, model,
		                        request_metadata, response_metadata, cost_data, total_cost_usd,
		                        cache_info, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (usage_id) DO NOTHING
	`, u.UsageID, u.ProjectID, u.Endpoint, u.Provider, u.Model,
		reqMeta, respMeta, cost, u.CostData.TotalCostUSD,
		cache, u.Error, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}

// ListUsageLogs returns a project's most recent usage records
func (r *Repository) ListUsageLogs(ctx context.Context, projectID string, limit int) (logs []*models.UsageLog, err error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	done := track("select", "usage_logs")
	defer func() { done(err) }()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT usage_id, project_id, api_endpoint, provider, model,
		       request_metadata, response_metadata, cost_data, cache_info, error, created_at
		FROM usage_logs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUsageLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}
	return logs, nil
}

func scanUsageLog(rows pgx.Rows) (*models.UsageLog, error) {
	var u models.UsageLog
	var reqMeta, respMeta, cost, cache []byte
	err := rows.Scan(
		&u.UsageID,
		&u.ProjectID,
		&u.Endpoint,
		&u.Provider,
		&u.Model,
		&reqMeta,
		&respMeta,
		&cost,
		&cache,
		&u.Error,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage log: %w", err)
	}

	if err := json.Unmarshal(reqMeta, &u.RequestMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode request metadata: %w", err)
	}
	if err := json.Unmarshal(respMeta, &u.ResponseMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode response metadata: %w", err)
	}
	if err := json.Unmarshal(cost, &u.CostData); err != nil {
		return nil, fmt.Errorf("failed to decode cost data: %w", err)
	}
	if len(cache) > 0 {
		u.CacheInfo = &models.CacheInfo{}
		if err := json.Unmarshal(cache, u.CacheInfo); err != nil {
			return nil, fmt.Errorf("failed to decode cache info: %w", err)
		}
	}
	return &u, nil
}

// TotalCost sums a project's usage cost since the given time
func (r *Repository) TotalCost(ctx context.Context, projectID string, since time.Time) (total decimal.Decimal, err error) {
	if err := r.checkDB(); err != nil {
		return decimal.Zero, err
	}
	done := track("select", "usage_logs")
	defer func() { done(err) }()

	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost_usd), 0)
		FROM usage_logs
		WHERE project_id = $1 AND created_at >= $2
	`, projectID, since).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum usage cost: %w", err)
	}
	return total, nil
}
