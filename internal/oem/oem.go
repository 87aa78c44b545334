// Package oem loads the per-manufacturer configuration documents that tell
// the crawler where to look and how to read what it finds (spec §3, §6):
// base URL, seed pages, CSS/JSON-path selectors per page type, politeness
// overrides, and the critical-field list that bumps change severity.
package oem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/oem-crawler/internal/extract"
	"github.com/jmylchreest/oem-crawler/internal/models"
)

// SeedPage is one starting URL for a manufacturer, tagged with the page
// type the registry should record it as.
type SeedPage struct {
	URL      string          `yaml:"url"`
	PageType models.PageType `yaml:"page_type"`
}

// Flags are per-OEM crawl behaviour overrides.
type Flags struct {
	RequiresRender    bool `yaml:"requires_render"`
	PolitenessOverride *Politeness `yaml:"politeness_override,omitempty"`
}

// Politeness overrides the fetcher's default per-host rate limit for one OEM.
type Politeness struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
}

// PageConfig is the per-(OEM, page_type) extraction configuration: what
// entity it yields, which fields are required, and the selector/mapping
// tables each extraction strategy reads from.
type PageConfig struct {
	EntityKind     models.EntityType        `yaml:"entity_kind"`
	RequiredFields []string                 `yaml:"required_fields"`
	APIMapping     map[string]string        `yaml:"api_mapping,omitempty"`
	Selectors      map[string]string        `yaml:"selectors,omitempty"`
	LinkPatterns   []string                 `yaml:"link_patterns,omitempty"`
}

// ToExtractConfig converts the YAML shape into the extract package's
// runtime type, which uses the same field maps under different names.
func (p PageConfig) ToExtractConfig() extract.PageConfig {
	return extract.PageConfig{
		EntityKind:     p.EntityKind,
		RequiredFields: p.RequiredFields,
		APIMapping:     extract.FieldMapping(p.APIMapping),
		Selectors:      extract.FieldMapping(p.Selectors),
	}
}

// Config is one manufacturer's full crawl configuration, as loaded from a
// single YAML document.
type Config struct {
	ID             string                             `yaml:"id"`
	Name           string                             `yaml:"name"`
	BaseURL        string                              `yaml:"base_url"`
	Flags          Flags                               `yaml:"flags"`
	SeedPages      []SeedPage                          `yaml:"seed_pages"`
	Pages          map[models.PageType]PageConfig      `yaml:"pages"`
	CriticalFields []string                            `yaml:"critical_fields"`
	MaxDiscoveryDepth int                              `yaml:"max_discovery_depth"`
	RemovalGraceWindow time.Duration                   `yaml:"removal_grace_window"`
}

// applyDefaults fills in the zero-value fields the spec gives a default for.
func (c *Config) applyDefaults() {
	if c.MaxDiscoveryDepth <= 0 {
		c.MaxDiscoveryDepth = 2
	}
	if c.RemovalGraceWindow <= 0 {
		c.RemovalGraceWindow = 72 * time.Hour
	}
}

func (c Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("oem config: missing id")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("oem %s: missing base_url", c.ID)
	}
	if len(c.SeedPages) == 0 {
		return fmt.Errorf("oem %s: no seed_pages configured", c.ID)
	}
	return nil
}

// PageConfigFor looks up the extraction config for a page type, returning
// ok=false if the manufacturer's document does not configure that type.
func (c Config) PageConfigFor(pt models.PageType) (PageConfig, bool) {
	pc, ok := c.Pages[pt]
	return pc, ok
}

// Store holds every loaded manufacturer config, read-only for the lifetime
// of the process per spec §9's "forbid package-level singletons" note — it
// is constructed once at bootstrap and passed down explicitly, never
// accessed through a package-level variable.
type Store struct {
	byID map[string]Config
	ids  []string
}

// Load reads every `*.yaml`/`*.yml` file in dir and returns a Store keyed by
// OEM id. Each file holds exactly one Config document.
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("oem: reading config dir %s: %w", dir, err)
	}

	store := &Store{byID: make(map[string]Config)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("oem: reading %s: %w", path, err)
		}

		var cfg Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("oem: parsing %s: %w", path, err)
		}
		cfg.applyDefaults()
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("oem: %s: %w", path, err)
		}
		if _, dup := store.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("oem: duplicate id %q (file %s)", cfg.ID, path)
		}
		store.byID[cfg.ID] = cfg
		store.ids = append(store.ids, cfg.ID)
	}

	if len(store.byID) == 0 {
		return nil, fmt.Errorf("oem: no config documents found in %s", dir)
	}
	return store, nil
}

// Get returns the config for one OEM.
func (s *Store) Get(id string) (Config, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// All returns every loaded OEM id, in load order.
func (s *Store) All() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of loaded OEMs.
func (s *Store) Len() int {
	return len(s.byID)
}
