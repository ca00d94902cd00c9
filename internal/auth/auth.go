// Package auth resolves project bearer tokens to active projects.
package auth

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"llm-gateway/internal/apperr"
	"llm-gateway/internal/background"
	"llm-gateway/models"
	"llm-gateway/observability"
)

// KeyStore is the persistence port for project API keys. Lookups return
// nil (and no error) when nothing matches.
type KeyStore interface {
	FindActiveProjectKeyByFingerprint(ctx context.Context, fingerprint string) (*models.ProjectAPIKey, error)
	FindActiveProjectKeysByPrefix(ctx context.Context, prefix string) ([]*models.ProjectAPIKey, error)
	TouchProjectKey(ctx context.Context, keyID string, usedAt time.Time) error
}

// ProjectStore is the persistence port for projects
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
}

// Cipher is the slice of the credential vault the gate needs
type Cipher interface {
	DecryptString(blob string) (string, error)
	Fingerprints(token string) []string
	MatchFingerprint(token, fingerprint string) bool
}

// TaskSubmitter accepts deferred work without blocking
type TaskSubmitter interface {
	Submit(task background.Task) bool
}

// Principal is the outcome of a successful authentication
type Principal struct {
	Project *models.Project
	KeyID   string
}

// Authenticator implements the bearer-token gate
type Authenticator struct {
	keys     KeyStore
	projects ProjectStore
	cipher   Cipher
	tasks    TaskSubmitter
	now      func() time.Time
}

// NewAuthenticator wires the gate to its ports
func NewAuthenticator(keys KeyStore, projects ProjectStore, cipher Cipher, tasks TaskSubmitter) *Authenticator {
	return &Authenticator{
		keys:     keys,
		projects: projects,
		cipher:   cipher,
		tasks:    tasks,
		now:      time.Now,
	}
}

// invalidKey is the single rejection returned for every non-matching token
func invalidKey() error {
	return apperr.Authentication("invalid API key")
}

// ExtractBearerToken pulls a project key out of an Authorization header value
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.Authentication("Missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", apperr.Authentication("Invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.Authentication("Empty API key")
	}
	if !strings.HasPrefix(token, models.ProjectAPIKeyPrefix) {
		return "", apperr.Authentication("Invalid API key format")
	}
	return token, nil
}

// AuthenticateHeader extracts the token from header and authenticates it
func (a *Authenticator) AuthenticateHeader(ctx context.Context, header string) (*Principal, error) {
	token, err := ExtractBearerToken(header)
	if err != nil {
		observability.GetMetrics().RecordAuthAttempt("rejected", 0)
		return nil, err
	}
	return a.Authenticate(ctx, token)
}

// Authenticate resolves token to its owning project. The first non-expired
// candidate whose secret equals token wins; the project must be active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	metrics := observability.GetMetrics()
	log := observability.WithContext(ctx)

	candidates, err := a.candidates(ctx, token)
	if err != nil {
		metrics.RecordAuthAttempt("error", 0)
		log.Error("project key lookup failed", "error", err)
		return nil, apperr.Internal("failed to look up API key", err)
	}

	now := a.now()
	var match *models.ProjectAPIKey
	for _, key := range candidates {
		if key.IsExpired(now) {
			continue
		}
		if a.matches(ctx, key, token) {
			match = key
			break
		}
	}

	if match == nil {
		metrics.RecordAuthAttempt("rejected", len(candidates))
		return nil, invalidKey()
	}

	a.touch(match.KeyID, now)

	project, err := a.projects.GetProject(ctx, match.ProjectID)
	if err != nil {
		metrics.RecordAuthAttempt("error", len(candidates))
		log.Error("project lookup failed", "project_id", match.ProjectID, "error", err)
		return nil, apperr.Internal("failed to load project", err)
	}
	if project == nil {
		metrics.RecordAuthAttempt("rejected", len(candidates))
		log.Warn("API key references a missing project",
			"key_id", match.KeyID,
			"project_id", match.ProjectID)
		return nil, invalidKey()
	}
	if !project.IsActive() {
		metrics.RecordAuthAttempt("forbidden", len(candidates))
		return nil, apperr.Authorization("Project is not active")
	}

	metrics.RecordAuthAttempt("authenticated", len(candidates))
	return &Principal{Project: project, KeyID: match.KeyID}, nil
}

// candidates returns the fingerprint hit when there is one, otherwise every
// active key sharing the token's index prefix. Fingerprints under previous
// vault keys are tried after the primary one.
func (a *Authenticator) candidates(ctx context.Context, token string) ([]*models.ProjectAPIKey, error) {
	for _, fp := range a.cipher.Fingerprints(token) {
		hit, err := a.keys.FindActiveProjectKeyByFingerprint(ctx, fp)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			return []*models.ProjectAPIKey{hit}, nil
		}
	}
	return a.keys.FindActiveProjectKeysByPrefix(ctx, models.ProjectKeyPrefix(token))
}

// matches checks the stored fingerprint first and falls back to opening the
// encrypted key, so a row fingerprinted under a retired key still matches.
func (a *Authenticator) matches(ctx context.Context, key *models.ProjectAPIKey, token string) bool {
	if key.Fingerprint != "" && a.cipher.MatchFingerprint(token, key.Fingerprint) {
		return true
	}

	plaintext, err := a.cipher.DecryptString(key.EncryptedKey)
	if err != nil {
		// A corrupt record must not stop the scan.
		observability.GetMetrics().RecordAuthDecryptFailure()
		observability.WithContext(ctx).Warn("failed to decrypt project key",
			"key_id", key.KeyID,
			"error", err)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(plaintext), []byte(token)) == 1
}

func (a *Authenticator) touch(keyID string, at time.Time) {
	if a.tasks == nil {
		return
	}
	a.tasks.Submit(background.Task{
		Name: "project_key_touch",
		Run: func(ctx context.Context) error {
			return a.keys.TouchProjectKey(ctx, keyID, at)
		},
	})
}
