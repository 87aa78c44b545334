package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteChangeEventRepository implements ChangeEventRepository for SQLite/libsql.
type SQLiteChangeEventRepository struct {
	db *sql.DB
}

// NewSQLiteChangeEventRepository creates a new ChangeEvent repository.
func NewSQLiteChangeEventRepository(db *sql.DB) *SQLiteChangeEventRepository {
	return &SQLiteChangeEventRepository{db: db}
}

func (r *SQLiteChangeEventRepository) Create(ctx context.Context, e *models.ChangeEvent) error {
	var diffJSON sql.NullString
	if len(e.Diff) > 0 {
		b, err := json.Marshal(e.Diff)
		if err != nil {
			return fmt.Errorf("failed to marshal change event diff: %w", err)
		}
		diffJSON = sql.NullString{String: string(b), Valid: true}
	}
	query := `
		INSERT INTO change_events (id, oem_id, entity_type, entity_id, event_type, severity, summary, diff_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.OEMID, string(e.EntityType), nullString(e.EntityID), string(e.EventType),
		string(e.Severity), e.Summary, diffJSON, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create change event: %w", err)
	}
	return nil
}

func (r *SQLiteChangeEventRepository) ListByOEM(ctx context.Context, oemID string, since time.Time, limit int) ([]*models.ChangeEvent, error) {
	query := `
		SELECT id, oem_id, entity_type, entity_id, event_type, severity, summary, diff_json, created_at
		FROM change_events WHERE oem_id = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, oemID, since.Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.ChangeEvent
	for rows.Next() {
		var e models.ChangeEvent
		var entityType, eventType, severity string
		var entityID, diffJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.OEMID, &entityType, &entityID, &eventType, &severity,
			&e.Summary, &diffJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		e.EntityType = models.EntityType(entityType)
		e.EventType = models.ChangeEventType(eventType)
		e.Severity = models.Severity(severity)
		e.EntityID = entityID.String
		if diffJSON.Valid {
			if err := json.Unmarshal([]byte(diffJSON.String), &e.Diff); err != nil {
				return nil, fmt.Errorf("failed to unmarshal change event diff: %w", err)
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}
