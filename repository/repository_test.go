package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"llm-gateway/models"
)

// getTestDB returns a migrated repository connected to the test database.
// If DATABASE_URL is not set, the test is skipped.
func getTestDB(t *testing.T) *Repository {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := Migrate(ctx, connString); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	repo, err := NewRepository(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	return repo
}

// createTestProject inserts a throwaway project and removes it, with
// everything it owns, when the test ends
func createTestProject(t *testing.T, repo *Repository) *models.Project {
	t.Helper()
	ctx := context.Background()

	p := &models.Project{
		ProjectID: "test_" + uuid.NewString(),
		Name:      "repository test",
	}
	if err := repo.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	t.Cleanup(func() {
		for _, table := range []string{"usage_logs", "transcription_history", "llm_api_keys", "project_api_keys", "projects"} {
			repo.pool.Exec(ctx, "DELETE FROM "+table+" WHERE project_id = $1", p.ProjectID)
		}
	})
	return p
}

func TestRepository_NoDatabase(t *testing.T) {
	repo := &Repository{}
	ctx := context.Background()

	if _, err := repo.GetProject(ctx, "p"); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("GetProject() error = %v, want ErrNoDatabase", err)
	}
	if err := repo.CreateUsageLog(ctx, &models.UsageLog{}); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("CreateUsageLog() error = %v, want ErrNoDatabase", err)
	}
	if err := repo.Health(ctx); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("Health() error = %v, want ErrNoDatabase", err)
	}
	repo.Close()
}

func TestRepository_Projects(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	p := createTestProject(t, repo)

	got, err := repo.GetProject(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetProject() returned nil")
	}
	if got.Status != models.ProjectStatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	if got.RateLimits.MaxFileSizeMB != models.DefaultMaxFileSizeMB {
		t.Errorf("MaxFileSizeMB = %d, want default", got.RateLimits.MaxFileSizeMB)
	}

	if err := repo.DeleteProject(ctx, p.ProjectID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	got, _ = repo.GetProject(ctx, p.ProjectID)
	if got.IsActive() {
		t.Error("deleted project should not be active")
	}

	missing, err := repo.GetProject(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Errorf("GetProject(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRepository_ProjectKeys(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	p := createTestProject(t, repo)
	prefix := "pk_" + uuid.NewString()[:6]

	legacy := &models.ProjectAPIKey{
		ProjectID:    p.ProjectID,
		EncryptedKey: "blob-a",
		KeyPrefix:    prefix,
		IsActive:     true,
	}
	fingerprinted := &models.ProjectAPIKey{
		ProjectID:    p.ProjectID,
		EncryptedKey: "blob-b",
		Fingerprint:  uuid.NewString(),
		KeyPrefix:    prefix,
		IsActive:     true,
	}
	for _, k := range []*models.ProjectAPIKey{legacy, fingerprinted} {
		if err := repo.CreateProjectKey(ctx, k); err != nil {
			t.Fatalf("CreateProjectKey() error = %v", err)
		}
	}

	keys, err := repo.FindActiveProjectKeysByPrefix(ctx, prefix)
	if err != nil {
		t.Fatalf("FindActiveProjectKeysByPrefix() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(keys))
	}
	if keys[0].Fingerprint != "" {
		t.Error("legacy key should scan with an empty fingerprint")
	}

	hit, err := repo.FindActiveProjectKeyByFingerprint(ctx, fingerprinted.Fingerprint)
	if err != nil || hit == nil || hit.KeyID != fingerprinted.KeyID {
		t.Fatalf("FindActiveProjectKeyByFingerprint() = %v, %v", hit, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := repo.TouchProjectKey(ctx, legacy.KeyID, now); err != nil {
		t.Fatalf("TouchProjectKey() error = %v", err)
	}

	if err := repo.DeactivateProjectKey(ctx, legacy.KeyID); err != nil {
		t.Fatalf("DeactivateProjectKey() error = %v", err)
	}
	keys, _ = repo.FindActiveProjectKeysByPrefix(ctx, prefix)
	if len(keys) != 1 {
		t.Errorf("expected 1 active candidate after deactivation, got %d", len(keys))
	}
}

func TestRepository_LLMKeys(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	p := createTestProject(t, repo)

	first := &models.LLMAPIKey{ProjectID: p.ProjectID, Provider: models.ProviderOpenAI, EncryptedKey: "a", IsActive: true, IsDefault: true}
	second := &models.LLMAPIKey{ProjectID: p.ProjectID, Provider: models.ProviderOpenAI, EncryptedKey: "b", IsActive: true, IsDefault: true}
	for _, k := range []*models.LLMAPIKey{first, second} {
		if err := repo.CreateLLMAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateLLMAPIKey() error = %v", err)
		}
	}

	def, err := repo.FindDefaultLLMAPIKey(ctx, p.ProjectID, models.ProviderOpenAI)
	if err != nil {
		t.Fatalf("FindDefaultLLMAPIKey() error = %v", err)
	}
	if def == nil || def.KeyID != second.KeyID {
		t.Errorf("default key = %v, want the newest default", def)
	}

	keys, err := repo.ListLLMAPIKeys(ctx, p.ProjectID, models.ProviderOpenAI)
	if err != nil || len(keys) != 2 {
		t.Fatalf("ListLLMAPIKeys() = %d keys, %v", len(keys), err)
	}

	if err := repo.MarkLLMAPIKeyUsed(ctx, second.KeyID, time.Now()); err != nil {
		t.Fatalf("MarkLLMAPIKeyUsed() error = %v", err)
	}
	got, _ := repo.GetLLMAPIKey(ctx, second.KeyID)
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt should be set")
	}

	if err := repo.DeactivateLLMAPIKey(ctx, second.KeyID); err != nil {
		t.Fatalf("DeactivateLLMAPIKey() error = %v", err)
	}
	def, _ = repo.FindDefaultLLMAPIKey(ctx, p.ProjectID, models.ProviderOpenAI)
	if def != nil {
		t.Error("a deactivated key must not be the default")
	}

	bad := &models.LLMAPIKey{ProjectID: p.ProjectID, Provider: "mistral", EncryptedKey: "c"}
	if err := repo.CreateLLMAPIKey(ctx, bad); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestRepository_UsageLogs(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	p := createTestProject(t, repo)
	start := time.Now().Add(-time.Minute)

	for _, cost := range []string{"0.01", "0.025"} {
		u := models.NewUsageLog(p.ProjectID, models.EndpointChatCompletions, models.ProviderOpenAI, "gpt-4",
			models.RequestMetadata{RequestID: uuid.NewString()},
			models.ResponseMetadata{StatusCode: 200, LatencyMS: 120},
			models.CostData{TotalCostUSD: decimal.RequireFromString(cost)})
		if err := repo.CreateUsageLog(ctx, u); err != nil {
			t.Fatalf("CreateUsageLog() error = %v", err)
		}
	}

	logs, err := repo.ListUsageLogs(ctx, p.ProjectID, 10)
	if err != nil {
		t.Fatalf("ListUsageLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 usage logs, got %d", len(logs))
	}
	if logs[0].ResponseMetadata.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", logs[0].ResponseMetadata.StatusCode)
	}

	total, err := repo.TotalCost(ctx, p.ProjectID, start)
	if err != nil {
		t.Fatalf("TotalCost() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.035")) {
		t.Errorf("TotalCost() = %s, want 0.035", total)
	}
}

func TestRepository_Transcriptions(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	p := createTestProject(t, repo)
	duration := 42.5
	result := &models.TranscriptionResult{Text: "hello", Language: "en", Duration: &duration}

	h := models.NewTranscriptionHistory(p.ProjectID, models.ProviderOpenAI, "abc123", "a.wav", 2048,
		result, "whisper-1", decimal.RequireFromString("0.00425"), 900*time.Millisecond)
	if err := repo.CreateTranscription(ctx, h); err != nil {
		t.Fatalf("CreateTranscription() error = %v", err)
	}

	got, err := repo.GetTranscription(ctx, h.TranscriptionID)
	if err != nil || got == nil {
		t.Fatalf("GetTranscription() = %v, %v", got, err)
	}
	if got.Text != "hello" || got.DurationSeconds == nil || *got.DurationSeconds != 42.5 {
		t.Errorf("unexpected transcription: %+v", got)
	}

	byHash, err := repo.FindTranscriptionByHash(ctx, p.ProjectID, "abc123")
	if err != nil || byHash == nil || byHash.TranscriptionID != h.TranscriptionID {
		t.Errorf("FindTranscriptionByHash() = %v, %v", byHash, err)
	}

	list, err := repo.ListTranscriptions(ctx, p.ProjectID, 10, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("ListTranscriptions() = %d, %v", len(list), err)
	}

	n, err := repo.CountTranscriptions(ctx, p.ProjectID)
	if err != nil || n != 1 {
		t.Errorf("CountTranscriptions() = %d, %v", n, err)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"foreign key violation wrapped", fmt.Errorf("failed to create usage log: %w", &pgconn.PgError{Code: "23503"}), true},
		{"invalid json", &pgconn.PgError{Code: "22P02"}, true},
		{"no database", ErrNoDatabase, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), false},
		{"timeout", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
