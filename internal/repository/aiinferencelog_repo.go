package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteAIInferenceLogRepository implements AIInferenceLogRepository, and in
// turn internal/llm's LogStore interface, for SQLite/libsql.
type SQLiteAIInferenceLogRepository struct {
	db *sql.DB
}

// NewSQLiteAIInferenceLogRepository creates a new AIInferenceLog repository.
func NewSQLiteAIInferenceLogRepository(db *sql.DB) *SQLiteAIInferenceLogRepository {
	return &SQLiteAIInferenceLogRepository{db: db}
}

func (r *SQLiteAIInferenceLogRepository) Append(ctx context.Context, entry models.AIInferenceLog) error {
	wasFallback := 0
	if entry.WasFallback {
		wasFallback = 1
	}
	query := `
		INSERT INTO ai_inference_log (id, provider, model, task_type, input_tokens, output_tokens,
			cost_usd, latency_ms, status, was_fallback, prompt_hash, response_hash, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Provider, entry.Model, entry.TaskType, entry.InputTokens, entry.OutputTokens,
		entry.CostUSD, entry.LatencyMS, entry.Status, wasFallback, entry.PromptHash,
		nullString(entry.ResponseHash), nullString(entry.ErrorMessage), entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ai inference log: %w", err)
	}
	return nil
}
