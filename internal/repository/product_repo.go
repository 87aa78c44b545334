package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteProductRepository implements ProductRepository for SQLite/libsql.
type SQLiteProductRepository struct {
	db *sql.DB
}

// NewSQLiteProductRepository creates a new Product repository.
func NewSQLiteProductRepository(db *sql.DB) *SQLiteProductRepository {
	return &SQLiteProductRepository{db: db}
}

const productColumns = `id, oem_id, external_key, canonical_json, content_hash,
	first_seen_at, last_seen_at, created_at, updated_at`

func (r *SQLiteProductRepository) GetByExternalKey(ctx context.Context, oemID, externalKey string) (*models.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE oem_id = ? AND external_key = ?`, productColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, oemID, externalKey))
}

func (r *SQLiteProductRepository) Create(ctx context.Context, p *models.Product) error {
	canonicalJSON, err := json.Marshal(p.Canonical)
	if err != nil {
		return fmt.Errorf("failed to marshal product canonical: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO products (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, productColumns)
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.OEMID, p.ExternalKey, string(canonicalJSON), p.ContentHash,
		p.FirstSeenAt.Format(time.RFC3339), p.LastSeenAt.Format(time.RFC3339),
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *SQLiteProductRepository) Update(ctx context.Context, p *models.Product) error {
	canonicalJSON, err := json.Marshal(p.Canonical)
	if err != nil {
		return fmt.Errorf("failed to marshal product canonical: %w", err)
	}
	query := `
		UPDATE products SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		string(canonicalJSON), p.ContentHash, p.LastSeenAt.Format(time.RFC3339),
		time.Now().Format(time.RFC3339), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (r *SQLiteProductRepository) ListByOEM(ctx context.Context, oemID string) ([]*models.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE oem_id = ? ORDER BY external_key ASC`, productColumns)
	return r.queryList(ctx, query, oemID)
}

func (r *SQLiteProductRepository) ListStale(ctx context.Context, oemID string, before time.Time) ([]*models.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE oem_id = ? AND last_seen_at < ? ORDER BY last_seen_at ASC`, productColumns)
	return r.queryList(ctx, query, oemID, before.Format(time.RFC3339))
}

func (r *SQLiteProductRepository) queryList(ctx context.Context, query string, args ...any) ([]*models.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*models.Product
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *SQLiteProductRepository) scan(row *sql.Row) (*models.Product, error) {
	var p models.Product
	var canonicalJSON string
	var firstSeenAt, lastSeenAt, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.OEMID, &p.ExternalKey, &canonicalJSON, &p.ContentHash,
		&firstSeenAt, &lastSeenAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	if err := populateProduct(&p, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteProductRepository) scanRow(rows *sql.Rows) (*models.Product, error) {
	var p models.Product
	var canonicalJSON string
	var firstSeenAt, lastSeenAt, createdAt, updatedAt string

	err := rows.Scan(&p.ID, &p.OEMID, &p.ExternalKey, &canonicalJSON, &p.ContentHash,
		&firstSeenAt, &lastSeenAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	if err := populateProduct(&p, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func populateProduct(p *models.Product, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt string) error {
	if err := json.Unmarshal([]byte(canonicalJSON), &p.Canonical); err != nil {
		return fmt.Errorf("failed to unmarshal product canonical: %w", err)
	}
	p.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeenAt)
	p.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeenAt)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return nil
}

// SQLiteProductVersionRepository implements ProductVersionRepository for SQLite/libsql.
type SQLiteProductVersionRepository struct {
	db *sql.DB
}

// NewSQLiteProductVersionRepository creates a new ProductVersion repository.
func NewSQLiteProductVersionRepository(db *sql.DB) *SQLiteProductVersionRepository {
	return &SQLiteProductVersionRepository{db: db}
}

func (r *SQLiteProductVersionRepository) Create(ctx context.Context, v *models.ProductVersion) error {
	snapshotJSON, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal product version snapshot: %w", err)
	}
	query := `INSERT INTO product_versions (id, product_id, content_hash, captured_at, snapshot_json) VALUES (?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, v.ID, v.ProductID, v.ContentHash, v.CapturedAt.Format(time.RFC3339), string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("failed to create product version: %w", err)
	}
	return nil
}

func (r *SQLiteProductVersionRepository) ListByProduct(ctx context.Context, productID string) ([]*models.ProductVersion, error) {
	query := `SELECT id, product_id, content_hash, captured_at, snapshot_json FROM product_versions WHERE product_id = ? ORDER BY captured_at ASC`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query product versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*models.ProductVersion
	for rows.Next() {
		var v models.ProductVersion
		var capturedAt, snapshotJSON string
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ContentHash, &capturedAt, &snapshotJSON); err != nil {
			return nil, fmt.Errorf("failed to scan product version: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &v.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal product version snapshot: %w", err)
		}
		v.CapturedAt, _ = time.Parse(time.RFC3339, capturedAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
