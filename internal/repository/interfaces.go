// Package repository defines repository interfaces and their SQLite/libsql
// implementations for the crawler's domain entities.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/crypto"
	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SourcePageRepository defines methods for SourcePage data access (spec §4.8
// Page Registry's backing store).
type SourcePageRepository interface {
	Create(ctx context.Context, page *models.SourcePage) error
	GetByID(ctx context.Context, id string) (*models.SourcePage, error)
	GetByOEMAndURL(ctx context.Context, oemID, url string) (*models.SourcePage, error)
	Update(ctx context.Context, page *models.SourcePage) error
	// ListByOEM returns all pages for an OEM regardless of status. The
	// scheduling and due-date computation (spec §4.8/§4.9) lives in
	// internal/pages, not here; this repository only stores and retrieves.
	ListByOEM(ctx context.Context, oemID string) ([]*models.SourcePage, error)
}

// DiscoveredAPIRepository defines methods for DiscoveredAPI data access. It
// satisfies internal/probe's Repository interface.
type DiscoveredAPIRepository interface {
	GetByURLAndMethod(ctx context.Context, oemID, url, method string) (*models.DiscoveredAPI, error)
	Upsert(ctx context.Context, api models.DiscoveredAPI) (*models.DiscoveredAPI, error)
	ListReplayable(ctx context.Context, oemID string) ([]models.DiscoveredAPI, error)
}

// ProductRepository defines methods for Product data access.
type ProductRepository interface {
	GetByExternalKey(ctx context.Context, oemID, externalKey string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	ListByOEM(ctx context.Context, oemID string) ([]*models.Product, error)
	// ListStale returns products not seen since before, for removal reconciliation.
	ListStale(ctx context.Context, oemID string, before time.Time) ([]*models.Product, error)
}

// ProductVersionRepository defines methods for ProductVersion data access.
type ProductVersionRepository interface {
	Create(ctx context.Context, version *models.ProductVersion) error
	ListByProduct(ctx context.Context, productID string) ([]*models.ProductVersion, error)
}

// OfferRepository defines methods for Offer data access.
type OfferRepository interface {
	GetByExternalKey(ctx context.Context, oemID, externalKey string) (*models.Offer, error)
	Create(ctx context.Context, offer *models.Offer) error
	Update(ctx context.Context, offer *models.Offer) error
	ListByOEM(ctx context.Context, oemID string) ([]*models.Offer, error)
	ListStale(ctx context.Context, oemID string, before time.Time) ([]*models.Offer, error)
}

// OfferVersionRepository defines methods for OfferVersion data access.
type OfferVersionRepository interface {
	Create(ctx context.Context, version *models.OfferVersion) error
	ListByOffer(ctx context.Context, offerID string) ([]*models.OfferVersion, error)
}

// ChangeEventRepository defines methods for ChangeEvent data access.
type ChangeEventRepository interface {
	Create(ctx context.Context, event *models.ChangeEvent) error
	ListByOEM(ctx context.Context, oemID string, since time.Time, limit int) ([]*models.ChangeEvent, error)
}

// ImportRunRepository defines methods for ImportRun data access.
type ImportRunRepository interface {
	Create(ctx context.Context, run *models.ImportRun) error
	Update(ctx context.Context, run *models.ImportRun) error
	GetOpenForOEM(ctx context.Context, oemID string) (*models.ImportRun, error)
	ListByOEM(ctx context.Context, oemID string, limit, offset int) ([]*models.ImportRun, error)
}

// AIInferenceLogRepository defines methods for AIInferenceLog data access. It
// satisfies internal/llm's LogStore interface.
type AIInferenceLogRepository interface {
	Append(ctx context.Context, entry models.AIInferenceLog) error
}

// Repositories holds all repository instances.
type Repositories struct {
	SourcePage     SourcePageRepository
	DiscoveredAPI  DiscoveredAPIRepository
	Product        ProductRepository
	ProductVersion ProductVersionRepository
	Offer          OfferRepository
	OfferVersion   OfferVersionRepository
	ChangeEvent    ChangeEventRepository
	ImportRun      ImportRunRepository
	AIInferenceLog AIInferenceLogRepository
}

// Option configures NewRepositories beyond its required *sql.DB.
type Option func(*repositoriesConfig)

type repositoriesConfig struct {
	headerEncryptor *crypto.Encryptor
}

// WithHeaderEncryption encrypts DiscoveredAPI.RequiredHeaders at rest with
// AES-256-GCM before it reaches the database: headers captured by probe
// replay often carry session cookies or bearer tokens for the page they
// were observed on, and those are worth protecting the same way the rest
// of the ecosystem protects stored credentials. key must be 32 bytes.
func WithHeaderEncryption(key []byte) Option {
	return func(c *repositoriesConfig) {
		enc, err := crypto.NewEncryptor(key)
		if err == nil {
			c.headerEncryptor = enc
		}
	}
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB, opts ...Option) *Repositories {
	cfg := repositoriesConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repositories{
		SourcePage:     NewSQLiteSourcePageRepository(db),
		DiscoveredAPI:  NewSQLiteDiscoveredAPIRepository(db, cfg.headerEncryptor),
		Product:        NewSQLiteProductRepository(db),
		ProductVersion: NewSQLiteProductVersionRepository(db),
		Offer:          NewSQLiteOfferRepository(db),
		OfferVersion:   NewSQLiteOfferVersionRepository(db),
		ChangeEvent:    NewSQLiteChangeEventRepository(db),
		ImportRun:      NewSQLiteImportRunRepository(db),
		AIInferenceLog: NewSQLiteAIInferenceLogRepository(db),
	}
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a nil *time.Time to a SQL NULL, else formats RFC3339.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// parseNullTime parses a NullString previously written by nullTime.
func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
