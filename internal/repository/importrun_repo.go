package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteImportRunRepository implements ImportRunRepository for SQLite/libsql.
type SQLiteImportRunRepository struct {
	db *sql.DB
}

// NewSQLiteImportRunRepository creates a new ImportRun repository.
func NewSQLiteImportRunRepository(db *sql.DB) *SQLiteImportRunRepository {
	return &SQLiteImportRunRepository{db: db}
}

const importRunColumns = `id, oem_id, started_at, finished_at, status, pages_checked,
	pages_changed, products_upserted, offers_upserted, error_count, error_json`

func (r *SQLiteImportRunRepository) Create(ctx context.Context, run *models.ImportRun) error {
	query := fmt.Sprintf(`INSERT INTO import_runs (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, importRunColumns)
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.OEMID, run.StartedAt.Format(time.RFC3339), nullTime(run.FinishedAt),
		string(run.Status), run.PagesChecked, run.PagesChanged,
		run.ProductsUpserted, run.OffersUpserted, run.ErrorCount, nullString(run.ErrorJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

func (r *SQLiteImportRunRepository) Update(ctx context.Context, run *models.ImportRun) error {
	query := `
		UPDATE import_runs SET
			finished_at = ?, status = ?, pages_checked = ?, pages_changed = ?,
			products_upserted = ?, offers_upserted = ?, error_count = ?, error_json = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		nullTime(run.FinishedAt), string(run.Status), run.PagesChecked, run.PagesChanged,
		run.ProductsUpserted, run.OffersUpserted, run.ErrorCount, nullString(run.ErrorJSON),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	return nil
}

func (r *SQLiteImportRunRepository) GetOpenForOEM(ctx context.Context, oemID string) (*models.ImportRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM import_runs WHERE oem_id = ? AND status = 'running' ORDER BY started_at DESC LIMIT 1`, importRunColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, oemID))
}

func (r *SQLiteImportRunRepository) ListByOEM(ctx context.Context, oemID string, limit, offset int) ([]*models.ImportRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM import_runs WHERE oem_id = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`, importRunColumns)
	rows, err := r.db.QueryContext(ctx, query, oemID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query import runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.ImportRun
	for rows.Next() {
		run, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteImportRunRepository) scan(row *sql.Row) (*models.ImportRun, error) {
	var run models.ImportRun
	var status string
	var startedAt string
	var finishedAt, errorJSON sql.NullString

	err := row.Scan(&run.ID, &run.OEMID, &startedAt, &finishedAt, &status, &run.PagesChecked,
		&run.PagesChanged, &run.ProductsUpserted, &run.OffersUpserted, &run.ErrorCount, &errorJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan import run: %w", err)
	}
	populateImportRun(&run, status, startedAt, finishedAt, errorJSON)
	return &run, nil
}

func (r *SQLiteImportRunRepository) scanRow(rows *sql.Rows) (*models.ImportRun, error) {
	var run models.ImportRun
	var status string
	var startedAt string
	var finishedAt, errorJSON sql.NullString

	err := rows.Scan(&run.ID, &run.OEMID, &startedAt, &finishedAt, &status, &run.PagesChecked,
		&run.PagesChanged, &run.ProductsUpserted, &run.OffersUpserted, &run.ErrorCount, &errorJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to scan import run: %w", err)
	}
	populateImportRun(&run, status, startedAt, finishedAt, errorJSON)
	return &run, nil
}

func populateImportRun(run *models.ImportRun, status, startedAt string, finishedAt, errorJSON sql.NullString) {
	run.Status = models.ImportRunStatus(status)
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	run.FinishedAt = parseNullTime(finishedAt)
	run.ErrorJSON = errorJSON.String
}
