package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/crypto"
	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteDiscoveredAPIRepository implements DiscoveredAPIRepository, and in
// turn internal/probe's Repository interface, for SQLite/libsql.
type SQLiteDiscoveredAPIRepository struct {
	db        *sql.DB
	encryptor *crypto.Encryptor // nil means required_headers is stored as plain JSON
}

// NewSQLiteDiscoveredAPIRepository creates a new DiscoveredAPI repository.
// encryptor may be nil, in which case required_headers is stored unencrypted.
func NewSQLiteDiscoveredAPIRepository(db *sql.DB, encryptor *crypto.Encryptor) *SQLiteDiscoveredAPIRepository {
	return &SQLiteDiscoveredAPIRepository{db: db, encryptor: encryptor}
}

const discoveredAPIColumns = `id, oem_id, url, method, required_headers, data_type,
	reliability_score, last_success_at, last_failure_at, consecutive_failures, status,
	created_at, updated_at`

func (r *SQLiteDiscoveredAPIRepository) GetByURLAndMethod(ctx context.Context, oemID, url, method string) (*models.DiscoveredAPI, error) {
	query := fmt.Sprintf(`SELECT %s FROM discovered_apis WHERE oem_id = ? AND url = ? AND method = ?`, discoveredAPIColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, oemID, url, method))
}

func (r *SQLiteDiscoveredAPIRepository) Upsert(ctx context.Context, api models.DiscoveredAPI) (*models.DiscoveredAPI, error) {
	headersJSON, err := json.Marshal(api.RequiredHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal required headers: %w", err)
	}
	storedHeaders, err := r.encryptHeaders(string(headersJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt required headers: %w", err)
	}

	now := time.Now()
	existing, err := r.GetByURLAndMethod(ctx, api.OEMID, api.URL, api.Method)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if api.ID == "" {
			return nil, fmt.Errorf("discovered api upsert: missing ID for new row")
		}
		api.CreatedAt = now
		api.UpdatedAt = now
		query := fmt.Sprintf(`INSERT INTO discovered_apis (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, discoveredAPIColumns)
		_, err := r.db.ExecContext(ctx, query,
			api.ID, api.OEMID, api.URL, api.Method, storedHeaders, string(api.DataType),
			api.ReliabilityScore, nullTime(api.LastSuccessAt), nullTime(api.LastFailureAt),
			api.ConsecutiveFailures, string(api.Status),
			api.CreatedAt.Format(time.RFC3339), api.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert discovered api: %w", err)
		}
		return &api, nil
	}

	api.ID = existing.ID
	api.CreatedAt = existing.CreatedAt
	api.UpdatedAt = now
	query := `
		UPDATE discovered_apis SET
			required_headers = ?, data_type = ?, reliability_score = ?,
			last_success_at = ?, last_failure_at = ?, consecutive_failures = ?,
			status = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		storedHeaders, string(api.DataType), api.ReliabilityScore,
		nullTime(api.LastSuccessAt), nullTime(api.LastFailureAt), api.ConsecutiveFailures,
		string(api.Status), api.UpdatedAt.Format(time.RFC3339), api.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update discovered api: %w", err)
	}
	return &api, nil
}

func (r *SQLiteDiscoveredAPIRepository) ListReplayable(ctx context.Context, oemID string) ([]models.DiscoveredAPI, error) {
	query := fmt.Sprintf(`SELECT %s FROM discovered_apis WHERE oem_id = ? AND status = 'active' ORDER BY reliability_score DESC`, discoveredAPIColumns)
	rows, err := r.db.QueryContext(ctx, query, oemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discovered apis: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var apis []models.DiscoveredAPI
	for rows.Next() {
		api, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		apis = append(apis, *api)
	}
	return apis, rows.Err()
}

func (r *SQLiteDiscoveredAPIRepository) scan(row *sql.Row) (*models.DiscoveredAPI, error) {
	var a models.DiscoveredAPI
	var headersJSON sql.NullString
	var dataType, status string
	var lastSuccessAt, lastFailureAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.OEMID, &a.URL, &a.Method, &headersJSON, &dataType,
		&a.ReliabilityScore, &lastSuccessAt, &lastFailureAt, &a.ConsecutiveFailures, &status,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan discovered api: %w", err)
	}
	r.populateDiscoveredAPI(&a, headersJSON, dataType, status, lastSuccessAt, lastFailureAt, createdAt, updatedAt)
	return &a, nil
}

func (r *SQLiteDiscoveredAPIRepository) scanRow(rows *sql.Rows) (*models.DiscoveredAPI, error) {
	var a models.DiscoveredAPI
	var headersJSON sql.NullString
	var dataType, status string
	var lastSuccessAt, lastFailureAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(&a.ID, &a.OEMID, &a.URL, &a.Method, &headersJSON, &dataType,
		&a.ReliabilityScore, &lastSuccessAt, &lastFailureAt, &a.ConsecutiveFailures, &status,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan discovered api: %w", err)
	}
	r.populateDiscoveredAPI(&a, headersJSON, dataType, status, lastSuccessAt, lastFailureAt, createdAt, updatedAt)
	return &a, nil
}

func (r *SQLiteDiscoveredAPIRepository) populateDiscoveredAPI(a *models.DiscoveredAPI, headersJSON sql.NullString, dataType, status string,
	lastSuccessAt, lastFailureAt sql.NullString, createdAt, updatedAt string) {
	a.DataType = models.APIDataType(dataType)
	a.Status = models.APIStatus(status)
	if headersJSON.Valid {
		raw, err := r.decryptHeaders(headersJSON.String)
		if err == nil {
			_ = json.Unmarshal([]byte(raw), &a.RequiredHeaders)
		}
	}
	a.LastSuccessAt = parseNullTime(lastSuccessAt)
	a.LastFailureAt = parseNullTime(lastFailureAt)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

// encryptHeaders encrypts the marshalled required_headers JSON before it is
// written to the database, or returns it unchanged if no encryptor was
// configured.
func (r *SQLiteDiscoveredAPIRepository) encryptHeaders(plainJSON string) (string, error) {
	if r.encryptor == nil {
		return plainJSON, nil
	}
	return r.encryptor.Encrypt(plainJSON)
}

// decryptHeaders reverses encryptHeaders. Stored rows are assumed plaintext
// when no encryptor is configured, matching encryptHeaders' no-op path.
func (r *SQLiteDiscoveredAPIRepository) decryptHeaders(stored string) (string, error) {
	if r.encryptor == nil {
		return stored, nil
	}
	return r.encryptor.Decrypt(stored)
}
