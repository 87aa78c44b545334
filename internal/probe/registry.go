package probe

import (
	"context"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

const (
	// coolDownAfterFailure is how long a DiscoveredAPI sits out of replay
	// consideration after a failed call, before it's tried again.
	coolDownAfterFailure = 15 * time.Minute

	replayMinReliability = 0.6
	retireMaxFailures    = 5
	retireMinScore       = 0.2

	newAPIScore = 0.5
)

// Repository is the narrow persistence contract the registry needs; the SQL
// implementation lives in internal/repository.
type Repository interface {
	GetByURLAndMethod(ctx context.Context, oemID, url, method string) (*models.DiscoveredAPI, error)
	Upsert(ctx context.Context, api models.DiscoveredAPI) (*models.DiscoveredAPI, error)
	ListReplayable(ctx context.Context, oemID string) ([]models.DiscoveredAPI, error)
}

// Registry upserts observed API candidates and decides which DiscoveredAPIs
// are worth replaying directly on the next crawl (spec §4.4).
type Registry struct {
	repo Repository
}

// NewRegistry builds a Registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Observe upserts a freshly-observed candidate into the registry. If the
// (oem_id, url, method) triple already exists it is left unmodified — a
// single observation never downgrades an established API (spec §4.4.4).
func (r *Registry) Observe(ctx context.Context, oemID string, c Candidate) (*models.DiscoveredAPI, error) {
	api, ok := ParseCandidate(oemID, c)
	if !ok {
		return nil, nil
	}

	existing, err := r.repo.GetByURLAndMethod(ctx, oemID, api.URL, api.Method)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	api.ReliabilityScore = newAPIScore
	api.CreatedAt = time.Now()
	api.UpdatedAt = api.CreatedAt
	return r.repo.Upsert(ctx, api)
}

// Replayable returns the DiscoveredAPIs eligible for direct replay this
// crawl: active, product/offer-typed, reliable enough, and not cooling down
// (spec §4.4's "Replay decision").
func (r *Registry) Replayable(ctx context.Context, oemID string) ([]models.DiscoveredAPI, error) {
	all, err := r.repo.ListReplayable(ctx, oemID)
	if err != nil {
		return nil, err
	}
	var out []models.DiscoveredAPI
	for _, api := range all {
		if !r.eligible(api) {
			continue
		}
		out = append(out, api)
	}
	return out, nil
}

func (r *Registry) eligible(api models.DiscoveredAPI) bool {
	if api.Status != models.APIStatusActive {
		return false
	}
	if api.DataType != models.APIDataTypeProducts && api.DataType != models.APIDataTypeOffers {
		return false
	}
	if api.ReliabilityScore < replayMinReliability {
		return false
	}
	if api.LastFailureAt != nil && time.Since(*api.LastFailureAt) < coolDownAfterFailure {
		return false
	}
	return true
}

// RecordSuccess applies the multiplicative success update: score moves
// toward 1.0 by a factor of 1.05, failures reset, status stays active
// (spec §4.4's replay decision and §3's DiscoveredAPI invariant).
func (r *Registry) RecordSuccess(ctx context.Context, api models.DiscoveredAPI) (*models.DiscoveredAPI, error) {
	now := time.Now()
	api.ReliabilityScore = minFloat(1.0, api.ReliabilityScore*1.05)
	api.LastSuccessAt = &now
	api.ConsecutiveFailures = 0
	api.UpdatedAt = now
	return r.repo.Upsert(ctx, api)
}

// RecordFailure applies the multiplicative failure update (×0.8) and retires
// the API once it crosses the failure-count or score floor (spec §3, §4.4).
func (r *Registry) RecordFailure(ctx context.Context, api models.DiscoveredAPI) (*models.DiscoveredAPI, error) {
	now := time.Now()
	api.ReliabilityScore = api.ReliabilityScore * 0.8
	api.LastFailureAt = &now
	api.ConsecutiveFailures++
	api.UpdatedAt = now

	if api.ConsecutiveFailures >= retireMaxFailures || api.ReliabilityScore < retireMinScore {
		api.Status = models.APIStatusRetired
	}
	return r.repo.Upsert(ctx, api)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
