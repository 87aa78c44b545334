// Package catalogue is the system of record for products and offers (spec
// §4.7, C7): it upserts canonical snapshots keyed by (oem_id, external_key),
// appends immutable version rows, and emits typed change-events, all inside
// one transaction per entity.
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

// Event classifies what an upsert did to an entity.
type Event string

const (
	EventNone    Event = "none"
	EventCreated Event = "created"
	EventUpdated Event = "updated"
)

// UpsertResult is the outcome of one UpsertProduct/UpsertOffer call.
type UpsertResult struct {
	ID          string
	Event       Event
	ChangeEvent *models.ChangeEvent // nil when Event == EventNone
}

// Store is the catalogue's transactional entry point. It talks to the
// database directly rather than through the repository layer because each
// upsert's product/version/event writes must commit as one unit (spec §4.7
// "Atomicity"), which the per-call repository methods don't model.
type Store struct {
	db *sql.DB
}

// New creates a catalogue Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertProduct implements the three-step algorithm of spec §4.7: insert on
// first sight, touch last_seen_at only when content is unchanged, or diff
// and append a version + change-event when it has.
func (s *Store) UpsertProduct(ctx context.Context, canonical models.ProductCanonical, criticalFields []string) (UpsertResult, error) {
	applyVariantPriceDefault(&canonical)
	canonicalBytes := hashdiff.CanonicaliseProduct(canonical)
	hash := hashdiff.HashCanonical(canonicalBytes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	var existingID, existingJSON, existingHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, canonical_json, content_hash FROM products WHERE oem_id = ? AND external_key = ?`,
		canonical.OEMID, canonical.ExternalKey,
	).Scan(&existingID, &existingJSON, &existingHash)

	switch {
	case err == sql.ErrNoRows:
		result, err := s.createProduct(ctx, tx, canonical, canonicalBytes, hash, now)
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return result, nil

	case err != nil:
		return UpsertResult{}, fmt.Errorf("catalogue: lookup product: %w", err)

	case existingHash == hash:
		if _, err := tx.ExecContext(ctx, `UPDATE products SET last_seen_at = ?, updated_at = ? WHERE id = ?`,
			now.Format(time.RFC3339), now.Format(time.RFC3339), existingID); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: touch last_seen_at: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return UpsertResult{ID: existingID, Event: EventNone}, nil

	default:
		result, err := s.updateProduct(ctx, tx, existingID, existingJSON, canonical, canonicalBytes, hash, now, criticalFields)
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: commit: %w", err)
		}
		return result, nil
	}
}

func (s *Store) createProduct(ctx context.Context, tx *sql.Tx, canonical models.ProductCanonical, canonicalBytes []byte, hash string, now time.Time) (UpsertResult, error) {
	id := ulid.Make().String()
	nowStr := now.Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products (id, oem_id, external_key, canonical_json, content_hash, first_seen_at, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, canonical.OEMID, canonical.ExternalKey, string(canonicalBytes), hash, nowStr, nowStr, nowStr, nowStr); err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: insert product: %w", err)
	}

	if err := insertProductVersion(ctx, tx, id, hash, now, canonicalBytes); err != nil {
		return UpsertResult{}, err
	}

	ce := &models.ChangeEvent{
		ID:         ulid.Make().String(),
		OEMID:      canonical.OEMID,
		EntityType: models.EntityTypeProduct,
		EntityID:   id,
		EventType:  models.EventTypeCreated,
		Severity:   models.SeverityMedium,
		Summary:    fmt.Sprintf("product %q discovered", canonical.ExternalKey),
		CreatedAt:  now,
	}
	if err := insertChangeEvent(ctx, tx, ce); err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{ID: id, Event: EventCreated, ChangeEvent: ce}, nil
}

func (s *Store) updateProduct(ctx context.Context, tx *sql.Tx, id, existingJSON string, next models.ProductCanonical, canonicalBytes []byte, hash string, now time.Time, criticalFields []string) (UpsertResult, error) {
	prev, err := unmarshalProductCanonical(existingJSON)
	if err != nil {
		return UpsertResult{}, err
	}

	diff := hashdiff.DiffProducts(prev, next)
	if len(diff) == 0 {
		// Hash differs but the tracked fields don't: bookkeeping-only drift
		// (e.g. whitespace the canonicaliser didn't fully absorb). Touch
		// last_seen_at and move on without a spurious version/event.
		if _, err := tx.ExecContext(ctx, `UPDATE products SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
			string(canonicalBytes), hash, now.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
			return UpsertResult{}, fmt.Errorf("catalogue: update product: %w", err)
		}
		return UpsertResult{ID: id, Event: EventNone}, nil
	}

	severity := hashdiff.ClassifySeverity(diff, prev.Availability, next.Availability, criticalFields)

	if _, err := tx.ExecContext(ctx, `UPDATE products SET canonical_json = ?, content_hash = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
		string(canonicalBytes), hash, now.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
		return UpsertResult{}, fmt.Errorf("catalogue: update product: %w", err)
	}

	if err := insertProductVersion(ctx, tx, id, hash, now, canonicalBytes); err != nil {
		return UpsertResult{}, err
	}

	eventType := models.EventTypeUpdated
	if av, ok := diff["availability"]; ok && av.To == string(models.AvailabilityDiscontinued) {
		eventType = models.EventTypeRemoved
	} else if _, ok := diff["price_amount"]; ok {
		eventType = models.EventTypePriceChanged
	} else if av, ok := diff["availability"]; ok && av.From != av.To {
		eventType = models.EventTypeAvailabilityChanged
	}

	ce := &models.ChangeEvent{
		ID:         ulid.Make().String(),
		OEMID:      next.OEMID,
		EntityType: models.EntityTypeProduct,
		EntityID:   id,
		EventType:  eventType,
		Severity:   severity,
		Summary:    fmt.Sprintf("product %q changed (%d fields)", next.ExternalKey, len(diff)),
		Diff:       diff,
		CreatedAt:  now,
	}
	if err := insertChangeEvent(ctx, tx, ce); err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{ID: id, Event: EventUpdated, ChangeEvent: ce}, nil
}

// applyVariantPriceDefault implements "Parent price is min(variant_price) if
// unset" (spec §4.7 Variants).
func applyVariantPriceDefault(c *models.ProductCanonical) {
	if c.Price.AmountMinorUnits != 0 || c.Price.Currency != "" {
		return
	}
	var min *models.Price
	for _, v := range c.Variants {
		if v.Price == nil {
			continue
		}
		if min == nil || v.Price.AmountMinorUnits < min.AmountMinorUnits {
			p := *v.Price
			min = &p
		}
	}
	if min != nil {
		c.Price = *min
	}
}

func insertProductVersion(ctx context.Context, tx *sql.Tx, productID, hash string, capturedAt time.Time, snapshotJSON []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO product_versions (id, product_id, content_hash, captured_at, snapshot_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (product_id, content_hash) DO NOTHING
	`, ulid.Make().String(), productID, hash, capturedAt.Format(time.RFC3339), string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("catalogue: insert product version: %w", err)
	}
	return nil
}

func insertChangeEvent(ctx context.Context, tx *sql.Tx, e *models.ChangeEvent) error {
	var diffJSON any
	if len(e.Diff) > 0 {
		b, err := marshalDiff(e.Diff)
		if err != nil {
			return err
		}
		diffJSON = string(b)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_events (id, oem_id, entity_type, entity_id, event_type, severity, summary, diff_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OEMID, string(e.EntityType), e.EntityID, string(e.EventType), string(e.Severity), e.Summary, diffJSON, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("catalogue: insert change event: %w", err)
	}
	return nil
}
