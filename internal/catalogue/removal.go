package catalogue

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/oem-crawler/internal/hashdiff"
	"github.com/jmylchreest/oem-crawler/internal/models"
)

// ReconcileRemovals implements spec §4.7's removal reconciliation: at the end
// of a fully-completed ImportRun, any product whose last_seen_at predates
// runStartedAt by more than graceWindow is marked discontinued and a
// "removed" change-event is emitted. Each row is reconciled in its own
// transaction; a run may touch thousands of rows and cross-row atomicity is
// not required (spec §4.7 "Atomicity").
func (s *Store) ReconcileRemovals(ctx context.Context, oemID string, runStartedAt time.Time, graceWindow time.Duration) (int, error) {
	cutoff := runStartedAt.Add(-graceWindow)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_json FROM products
		WHERE oem_id = ? AND last_seen_at < ?
	`, oemID, cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("catalogue: query stale products: %w", err)
	}

	type staleRow struct{ id, canonicalJSON string }
	var stale []staleRow
	for rows.Next() {
		var r staleRow
		if err := rows.Scan(&r.id, &r.canonicalJSON); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("catalogue: scan stale product: %w", err)
		}
		stale = append(stale, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	removed := 0
	for _, r := range stale {
		canonical, err := unmarshalProductCanonical(r.canonicalJSON)
		if err != nil {
			return removed, err
		}
		if canonical.Availability == models.AvailabilityDiscontinued {
			continue
		}
		if err := s.markProductDiscontinued(ctx, r.id, canonical, oemID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) markProductDiscontinued(ctx context.Context, productID string, canonical models.ProductCanonical, oemID string) error {
	prevAvailability := canonical.Availability
	canonical.Availability = models.AvailabilityDiscontinued

	canonicalBytes := hashdiff.CanonicaliseProduct(canonical)
	hash := hashdiff.HashCanonical(canonicalBytes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalogue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE products SET canonical_json = ?, content_hash = ?, updated_at = ? WHERE id = ?`,
		string(canonicalBytes), hash, now.Format(time.RFC3339), productID); err != nil {
		return fmt.Errorf("catalogue: mark discontinued: %w", err)
	}

	ce := &models.ChangeEvent{
		ID:         ulid.Make().String(),
		OEMID:      oemID,
		EntityType: models.EntityTypeProduct,
		EntityID:   productID,
		EventType:  models.EventTypeRemoved,
		Severity:   models.SeverityHigh,
		Summary:    fmt.Sprintf("product %q not seen within grace window, marked discontinued", canonical.ExternalKey),
		Diff: map[string]models.FieldDiff{
			"availability": {From: string(prevAvailability), To: string(models.AvailabilityDiscontinued)},
		},
		CreatedAt: now,
	}
	if err := insertChangeEvent(ctx, tx, ce); err != nil {
		return err
	}

	return tx.Commit()
}
