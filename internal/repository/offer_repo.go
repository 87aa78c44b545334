package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SQLiteOfferRepository implements OfferRepository for SQLite/libsql.
type SQLiteOfferRepository struct {
	db *sql.DB
}

// NewSQLiteOfferRepository creates a new Offer repository.
func NewSQLiteOfferRepository(db *sql.DB) *SQLiteOfferRepository {
	return &SQLiteOfferRepository{db: db}
}

const offerColumns = `id, oem_id, external_key, canonical_json, content_hash,
	first_seen_at, last_seen_at, created_at, updated_at`

func (r *SQLiteOfferRepository) GetByExternalKey(ctx context.Context, oemID, externalKey string) (*models.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE oem_id = ? AND external_key = ?`, offerColumns)
	return r.scan(r.db.QueryRowContext(ctx, query, oemID, externalKey))
}

func (r *SQLiteOfferRepository) Create(ctx context.Context, o *models.Offer) error {
	canonicalJSON, err := json.Marshal(o.Canonical)
	if err != nil {
		return fmt.Errorf("failed to marshal offer canonical: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO offers (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, offerColumns)
	_, err = r.db.ExecContext(ctx, query,
		o.ID, o.OEMID, o.ExternalKey, string(canonicalJSON), o.ContentHash,
		o.FirstSeenAt.Format(time.RFC3339), o.LastSeenAt.Format(time.RFC3339),
		o.CreatedAt.Format(time.RFC3339), o.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *SQLiteOfferRepository) Update(ctx context.Context, o *models.Offer) error {
	canonicalJSON, err := json.Marshal(o.Canonical)
	if err != nil {
		return fmt.Errorf("failed to marshal offer canonical: %w", err)
	}
	query := `
		UPDATE offers SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		string(canonicalJSON), o.ContentHash, o.LastSeenAt.Format(time.RFC3339),
		time.Now().Format(time.RFC3339), o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return nil
}

func (r *SQLiteOfferRepository) ListByOEM(ctx context.Context, oemID string) ([]*models.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE oem_id = ? ORDER BY external_key ASC`, offerColumns)
	return r.queryList(ctx, query, oemID)
}

func (r *SQLiteOfferRepository) ListStale(ctx context.Context, oemID string, before time.Time) ([]*models.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE oem_id = ? AND last_seen_at < ? ORDER BY last_seen_at ASC`, offerColumns)
	return r.queryList(ctx, query, oemID, before.Format(time.RFC3339))
}

func (r *SQLiteOfferRepository) queryList(ctx context.Context, query string, args ...any) ([]*models.Offer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var offers []*models.Offer
	for rows.Next() {
		o, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *SQLiteOfferRepository) scan(row *sql.Row) (*models.Offer, error) {
	var o models.Offer
	var canonicalJSON string
	var firstSeenAt, lastSeenAt, createdAt, updatedAt string

	err := row.Scan(&o.ID, &o.OEMID, &o.ExternalKey, &canonicalJSON, &o.ContentHash,
		&firstSeenAt, &lastSeenAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}
	if err := populateOffer(&o, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *SQLiteOfferRepository) scanRow(rows *sql.Rows) (*models.Offer, error) {
	var o models.Offer
	var canonicalJSON string
	var firstSeenAt, lastSeenAt, createdAt, updatedAt string

	err := rows.Scan(&o.ID, &o.OEMID, &o.ExternalKey, &canonicalJSON, &o.ContentHash,
		&firstSeenAt, &lastSeenAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}
	if err := populateOffer(&o, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func populateOffer(o *models.Offer, canonicalJSON, firstSeenAt, lastSeenAt, createdAt, updatedAt string) error {
	if err := json.Unmarshal([]byte(canonicalJSON), &o.Canonical); err != nil {
		return fmt.Errorf("failed to unmarshal offer canonical: %w", err)
	}
	o.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeenAt)
	o.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeenAt)
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return nil
}

// SQLiteOfferVersionRepository implements OfferVersionRepository for SQLite/libsql.
type SQLiteOfferVersionRepository struct {
	db *sql.DB
}

// NewSQLiteOfferVersionRepository creates a new OfferVersion repository.
func NewSQLiteOfferVersionRepository(db *sql.DB) *SQLiteOfferVersionRepository {
	return &SQLiteOfferVersionRepository{db: db}
}

func (r *SQLiteOfferVersionRepository) Create(ctx context.Context, v *models.OfferVersion) error {
	snapshotJSON, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal offer version snapshot: %w", err)
	}
	query := `INSERT INTO offer_versions (id, offer_id, content_hash, captured_at, snapshot_json) VALUES (?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, v.ID, v.OfferID, v.ContentHash, v.CapturedAt.Format(time.RFC3339), string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("failed to create offer version: %w", err)
	}
	return nil
}

func (r *SQLiteOfferVersionRepository) ListByOffer(ctx context.Context, offerID string) ([]*models.OfferVersion, error) {
	query := `SELECT id, offer_id, content_hash, captured_at, snapshot_json FROM offer_versions WHERE offer_id = ? ORDER BY captured_at ASC`
	rows, err := r.db.QueryContext(ctx, query, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offer versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*models.OfferVersion
	for rows.Next() {
		var v models.OfferVersion
		var capturedAt, snapshotJSON string
		if err := rows.Scan(&v.ID, &v.OfferID, &v.ContentHash, &capturedAt, &snapshotJSON); err != nil {
			return nil, fmt.Errorf("failed to scan offer version: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &v.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal offer version snapshot: %w", err)
		}
		v.CapturedAt, _ = time.Parse(time.RFC3339, capturedAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
