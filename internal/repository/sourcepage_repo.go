package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteSourcePageRepository implements SourcePageRepository for SQLite/libsql.
type SQLiteSourcePageRepository struct {
	db *sql.DB
}

// NewSQLiteSourcePageRepository creates a new SourcePage repository.
func NewSQLiteSourcePageRepository(db *sql.DB) *SQLiteSourcePageRepository {
	return &SQLiteSourcePageRepository{db: db}
}

const sourcePageColumns = `id, oem_id, url, page_type, last_hash, last_rendered_hash,
	last_checked_at, last_changed_at, consecutive_no_change, status, error_message,
	consecutive_404s, consecutive_blocked, depth, discovered_from_id, created_at, updated_at`

func (r *SQLiteSourcePageRepository) Create(ctx context.Context, page *models.SourcePage) error {
	query := fmt.Sprintf(`INSERT INTO source_pages (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, sourcePageColumns)
	_, err := r.db.ExecContext(ctx, query,
		page.ID, page.OEMID, page.URL, string(page.PageType),
		nullString(page.LastHash), nullString(page.LastRenderedHash),
		nullTime(page.LastCheckedAt), nullTime(page.LastChangedAt),
		page.ConsecutiveNoChange, string(page.Status), nullString(page.ErrorMessage),
		page.Consecutive404s, page.ConsecutiveBlocked, page.Depth,
		nullString(page.DiscoveredFromID),
		page.CreatedAt.Format(time.RFC3339), page.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create source page: %w", err)
	}
	return nil
}

func (r *SQLiteSourcePageRepository) GetByID(ctx context.Context, id string) (*models.SourcePage, error) {
	query := fmt.Sprintf(`SELECT %s FROM source_pages WHERE id = ?`, sourcePageColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteSourcePageRepository) GetByOEMAndURL(ctx context.Context, oemID, url string) (*models.SourcePage, error) {
	query := fmt.Sprintf(`SELECT %s FROM source_pages WHERE oem_id = ? AND url = ?`, sourcePageColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, oemID, url))
}

func (r *SQLiteSourcePageRepository) Update(ctx context.Context, page *models.SourcePage) error {
	query := `
		UPDATE source_pages SET
			last_hash = ?, last_rendered_hash = ?, last_checked_at = ?, last_changed_at = ?,
			consecutive_no_change = ?, status = ?, error_message = ?,
			consecutive_404s = ?, consecutive_blocked = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		nullString(page.LastHash), nullString(page.LastRenderedHash),
		nullTime(page.LastCheckedAt), nullTime(page.LastChangedAt),
		page.ConsecutiveNoChange, string(page.Status), nullString(page.ErrorMessage),
		page.Consecutive404s, page.ConsecutiveBlocked,
		time.Now().Format(time.RFC3339), page.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source page: %w", err)
	}
	return nil
}

func (r *SQLiteSourcePageRepository) ListByOEM(ctx context.Context, oemID string) ([]*models.SourcePage, error) {
	query := fmt.Sprintf(`SELECT %s FROM source_pages WHERE oem_id = ? ORDER BY created_at ASC`, sourcePageColumns)
	rows, err := r.db.QueryContext(ctx, query, oemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []*models.SourcePage
	for rows.Next() {
		page, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (r *SQLiteSourcePageRepository) scan(row *sql.Row) (*models.SourcePage, error) {
	var p models.SourcePage
	var pageType, status string
	var lastHash, lastRenderedHash, errorMessage, discoveredFromID sql.NullString
	var lastCheckedAt, lastChangedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.OEMID, &p.URL, &pageType, &lastHash, &lastRenderedHash,
		&lastCheckedAt, &lastChangedAt, &p.ConsecutiveNoChange, &status, &errorMessage,
		&p.Consecutive404s, &p.ConsecutiveBlocked, &p.Depth, &discoveredFromID,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source page: %w", err)
	}
	populateSourcePage(&p, pageType, status, lastHash, lastRenderedHash, errorMessage,
		discoveredFromID, lastCheckedAt, lastChangedAt, createdAt, updatedAt)
	return &p, nil
}

func (r *SQLiteSourcePageRepository) scanRow(rows *sql.Rows) (*models.SourcePage, error) {
	var p models.SourcePage
	var pageType, status string
	var lastHash, lastRenderedHash, errorMessage, discoveredFromID sql.NullString
	var lastCheckedAt, lastChangedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&p.ID, &p.OEMID, &p.URL, &pageType, &lastHash, &lastRenderedHash,
		&lastCheckedAt, &lastChangedAt, &p.ConsecutiveNoChange, &status, &errorMessage,
		&p.Consecutive404s, &p.ConsecutiveBlocked, &p.Depth, &discoveredFromID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source page: %w", err)
	}
	populateSourcePage(&p, pageType, status, lastHash, lastRenderedHash, errorMessage,
		discoveredFromID, lastCheckedAt, lastChangedAt, createdAt, updatedAt)
	return &p, nil
}

func populateSourcePage(p *models.SourcePage, pageType, status string,
	lastHash, lastRenderedHash, errorMessage, discoveredFromID sql.NullString,
	lastCheckedAt, lastChangedAt sql.NullString, createdAt, updatedAt string) {
	p.PageType = models.PageType(pageType)
	p.Status = models.PageStatus(status)
	p.LastHash = lastHash.String
	p.LastRenderedHash = lastRenderedHash.String
	p.ErrorMessage = errorMessage.String
	p.DiscoveredFromID = discoveredFromID.String
	p.LastCheckedAt = parseNullTime(lastCheckedAt)
	p.LastChangedAt = parseNullTime(lastChangedAt)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}
