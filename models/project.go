package models

import "time"

// ProjectStatus is the lifecycle state of a customer project
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusInactive  ProjectStatus = "inactive"
	ProjectStatusSuspended ProjectStatus = "suspended"
	ProjectStatusArchived  ProjectStatus = "archived"
	ProjectStatusDeleted   ProjectStatus = "deleted"
)

// Default rate limit policy for new projects
const (
	DefaultRequestsPerMinute     = 60
	DefaultTokensPerMinute       = 90000
	DefaultMaxFileSizeMB         = 25
	DefaultMaxConcurrentRequests = 10
)

// RateLimits is per-project policy data. Only MaxFileSizeMB is enforced by
// the gateway; the rest is carried for the control plane.
type RateLimits struct {
	RequestsPerMinute     int  `json:"requests_per_minute"`
	TokensPerMinute       *int `json:"tokens_per_minute,omitempty"`
	MaxFileSizeMB         int  `json:"max_file_size_mb"`
	MaxConcurrentRequests int  `json:"max_concurrent_requests"`
}

// DefaultRateLimits returns the policy applied when a project has none
func DefaultRateLimits() RateLimits {
	tpm := DefaultTokensPerMinute
	return RateLimits{
		RequestsPerMinute:     DefaultRequestsPerMinute,
		TokensPerMinute:       &tpm,
		MaxFileSizeMB:         DefaultMaxFileSizeMB,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
	}
}

// Project is a customer tenant
type Project struct {
	ProjectID      string        `json:"project_id"`
	Name           string        `json:"name"`
	DisplayName    string        `json:"display_name,omitempty"`
	Description    string        `json:"description,omitempty"`
	OrganizationID string        `json:"organization_id,omitempty"`
	Status         ProjectStatus `json:"status"`
	RateLimits     RateLimits    `json:"rate_limits"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsActive reports whether the project may serve requests
func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}

// MaxFileSizeBytes returns the upload ceiling in bytes, falling back to the
// default when the stored limit is unset.
func (p *Project) MaxFileSizeBytes() int64 {
	mb := p.RateLimits.MaxFileSizeMB
	if mb <= 0 {
		mb = DefaultMaxFileSizeMB
	}
	return int64(mb) * 1024 * 1024
}
