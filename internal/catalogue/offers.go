package catalogue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/oem-crawler/internal/hashdiff"
	"github.com/jmylchreest/oem-crawler/internal/models"
)

// UpsertOffer mirrors UpsertProduct for the Offer entity (spec §4.7).
func (s *Store) UpsertOffer(ctx context.Context, canonical models.OfferCanonical, criticalFields []string) (UpsertResult, error) {
	canonicalBytes := hashdiff.CanonicaliseOffer(canonical)
	hash := hashdiff.HashCanonical(canonicalBytes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	var existingID, existingJSON, existingHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, canonical_json, content_hash FROM offers WHERE oem_id = ? AND external_key = ?`,
		canonical.OEMID, canonical.ExternalKey,
	).Scan(&existingID, &existingJSON, &existingHash)

	switch {
	case err == sql.ErrNoRows:
		result, err := s.createOffer(ctx, tx, canonical, canonicalBytes, hash, now)
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return result, nil

	case err != nil:
		return UpsertResult{}, fmt.Errorf("catalogue: lookup offer: %w", err)

	case existingHash == hash:
		if _, err := tx.ExecContext(ctx, `UPDATE offers SET last_seen_at = ?, updated_at = ? WHERE id = ?`,
			now.Format(time.RFC3339), now.Format(time.RFC3339), existingID); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: touch last_seen_at: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return UpsertResult{ID: existingID, Event: EventNone}, nil

	default:
		result, err := s.updateOffer(ctx, tx, existingID, existingJSON, canonical, canonicalBytes, hash, now, criticalFields)
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return result, nil
	}
}

func (s *Store) createOffer(ctx context.Context, tx *sql.Tx, canonical models.OfferCanonical, canonicalBytes []byte, hash string, now time.Time) (UpsertResult, error) {
	id := ulid.Make().String()
	nowStr := now.Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO offers (id, oem_id, external_key, canonical_json, content_hash, first_seen_at, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, canonical.OEMID, canonical.ExternalKey, string(canonicalBytes), hash, nowStr, nowStr, nowStr, nowStr); err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: insert offer: %w", err)
	}

	if err := insertOfferVersion(ctx, tx, id, hash, now, canonicalBytes); err != nil {
		return UpsertResult{}, err
	}

	ce := &models.ChangeEvent{
		ID:         ulid.Make().String(),
		OEMID:      canonical.OEMID,
		EntityType: models.EntityTypeOffer,
		EntityID:   id,
		EventType:  models.EventTypeCreated,
		Severity:   models.SeverityMedium,
		Summary:    fmt.Sprintf("offer %q discovered", canonical.ExternalKey),
		CreatedAt:  now,
	}
	if err := insertChangeEvent(ctx, tx, ce); err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{ID: id, Event: EventCreated, ChangeEvent: ce}, nil
}

func (s *Store) updateOffer(ctx context.Context, tx *sql.Tx, id, existingJSON string, next models.OfferCanonical, canonicalBytes []byte, hash string, now time.Time, criticalFields []string) (UpsertResult, error) {
	prev, err := unmarshalOfferCanonical(existingJSON)
	if err != nil {
		return UpsertResult{}, err
	}

	diff := hashdiff.DiffOffers(prev, next)
	if len(diff) == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE offers SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
			string(canonicalBytes), hash, now.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: update offer: %w", err)
		}
		return UpsertResult{ID: id, Event: EventNone}, nil
	}

	wasLive := isLive(prev, now)
	isLiveNow := isLive(next, now)
	severity := hashdiff.ClassifyOfferSeverity(diff, wasLive, isLiveNow, criticalFields)

	if _, err := tx.ExecContext(ctx, `UPDATE offers SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
		string(canonicalBytes), hash, now.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: update offer: %w", err)
	}

	if err := insertOfferVersion(ctx, tx, id, hash, now, canonicalBytes); err != nil {
		return UpsertResult{}, err
	}

	eventType := models.EventTypeUpdated
	if _, ok := diff["validity_end"]; ok && wasLive != isLiveNow && !isLiveNow {
		eventType = models.EventTypeRemoved
	} else if _, ok := diff["saving_amount"]; ok {
		eventType = models.EventTypePriceChanged
	} else if _, ok := diff["validity_end"]; ok {
		eventType = models.EventTypeValidityChanged
	}

	ce := &models.ChangeEvent{
		ID:         ulid.Make().String(),
		OEMID:      next.OEMID,
		EntityType: models.EntityTypeOffer,
		EntityID:   id,
		EventType:  eventType,
		Severity:   severity,
		Summary:    fmt.Sprintf("offer %q changed (%d fields)", next.ExternalKey, len(diff)),
		Diff:       diff,
		CreatedAt:  now,
	}
	if err := insertChangeEvent(ctx, tx, ce); err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{ID: id, Event: EventUpdated, ChangeEvent: ce}, nil
}

// isLive reports whether an offer's validity window contains now.
func isLive(c models.OfferCanonical, now time.Time) bool {
	if c.ValidityStart != nil && now.Before(*c.ValidityStart) {
		return false
	}
	if c.ValidityEnd != nil && now.After(*c.ValidityEnd) {
		return false
	}
	return true
}

func insertOfferVersion(ctx context.Context, tx *sql.Tx, offerID, hash string, capturedAt time.Time, snapshotJSON []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_versions (id, offer_id, content_hash, captured_at, snapshot_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (offer_id, content_hash) DO NOTHING
	`, ulid.Make().String(), offerID, hash, capturedAt.Format(time.RFC3339), string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("catalogue: insert offer version: %w", err)
	}
	return nil
}
