package models

import "time"

// ProjectAPIKeyPrefix is the fixed leading marker of every project key
const ProjectAPIKeyPrefix = "pk_"

// ProjectKeyIndexLength is how many leading characters of a project key are
// stored in the clear for candidate lookup.
const ProjectKeyIndexLength = 9

// ProjectAPIKey is a customer-facing credential. The plaintext is never
// stored; EncryptedKey holds the vault blob.
type ProjectAPIKey struct {
	KeyID        string     `json:"key_id"`
	ProjectID    string     `json:"project_id"`
	Name         string     `json:"name"`
	EncryptedKey string     `json:"-"`
	Fingerprint  string     `json:"-"`
	KeyPrefix    string     `json:"key_prefix"`
	KeySuffix    string     `json:"key_suffix"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpired reports whether the key had an expiry and it has passed
func (k *ProjectAPIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// ProjectKeyPrefix returns the indexed prefix of a plaintext project key
func ProjectKeyPrefix(token string) string {
	if len(token) <= ProjectKeyIndexLength {
		return token
	}
	return token[:ProjectKeyIndexLength]
}

// LLMProvider identifies an upstream model vendor
type LLMProvider string

const (
	ProviderOpenAI     LLMProvider = "openai"
	ProviderAnthropic  LLMProvider = "anthropic"
	ProviderGoogle     LLMProvider = "google"
	ProviderAzure      LLMProvider = "azure"
	ProviderAWSBedrock LLMProvider = "aws_bedrock"
)

// Valid reports whether p is a known provider
func (p LLMProvider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderAzure, ProviderAWSBedrock:
		return true
	}
	return false
}

// LLMAPIKey is an encrypted upstream-provider credential owned by a project
type LLMAPIKey struct {
	KeyID        string      `json:"key_id"`
	ProjectID    string      `json:"project_id"`
	Provider     LLMProvider `json:"provider"`
	Name         string      `json:"name"`
	EncryptedKey string      `json:"-"`
	KeyPrefix    string      `json:"key_prefix"`
	IsActive     bool        `json:"is_active"`
	IsDefault    bool        `json:"is_default"`
	LastUsedAt   *time.Time  `json:"last_used_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ProviderKeyPrefix returns the display prefix stored for a provider secret
func ProviderKeyPrefix(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8]
}
