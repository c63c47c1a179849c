// Package catalog loads the declarative source catalog for sonde.
//
// The catalog is a YAML document listing intelligence sources grouped by
// query category (email, domain, ip, username), each with a confidence
// weight, a per-source rate-limit hint, and an enabled flag, plus a
// settings block for the aggregation engine. It is read-only after load.
//
// A missing or malformed document never leaves the system uninitialized:
// Load degrades to an empty catalog (all categories present, zero
// sources) and the caller keeps working with zero available sources.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Categories lists the supported query categories in a fixed order.
// AllSources iterates in this order so results are deterministic.
var Categories = []string{"email", "domain", "ip", "username"}

// Source is an immutable descriptor of one intelligence source.
type Source struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Category    string   `yaml:"-" json:"category"`
	Confidence  int      `yaml:"confidence" json:"confidence"` // 0-100 weight
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	RateLimitMs int64    `yaml:"rate_limit_ms" json:"rate_limit_ms"` // min spacing between requests
	DataTypes   []string `yaml:"data_types" json:"data_types,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// RateLimit returns the source's minimum request spacing as a Duration.
func (s Source) RateLimit() time.Duration {
	return time.Duration(s.RateLimitMs) * time.Millisecond
}

// Settings is the catalog-level configuration block.
type Settings struct {
	MaxConcurrentRequests int   `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	DefaultTimeoutMs      int64 `yaml:"default_timeout_ms" json:"default_timeout_ms"`
	RetryAttempts         int   `yaml:"retry_attempts" json:"retry_attempts"`
}

// DefaultTimeout returns the per-source-call timeout as a Duration.
func (s Settings) DefaultTimeout() time.Duration {
	return time.Duration(s.DefaultTimeoutMs) * time.Millisecond
}

// Catalog holds the loaded source definitions. Read-only after load.
type Catalog struct {
	byCategory map[string][]Source
	byID       map[string]Source
	settings   Settings
}

// document is the on-disk YAML shape.
type document struct {
	Categories map[string]struct {
		Sources []Source `yaml:"sources"`
	} `yaml:"categories"`
	Settings Settings `yaml:"settings"`
}

// Empty returns a valid catalog with all categories present and zero
// sources. This is the fallback for every load failure.
func Empty() *Catalog {
	c := &Catalog{
		byCategory: make(map[string][]Source, len(Categories)),
		byID:       make(map[string]Source),
	}
	for _, cat := range Categories {
		c.byCategory[cat] = nil
	}
	return c
}

// Load reads and parses the catalog document at path. On any failure it
// logs a warning and returns the empty fallback catalog — never nil,
// never an error the caller has to branch on.
func Load(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("catalog: read failed, using empty catalog", "path", path, "error", err)
		return Empty()
	}
	c, err := Parse(data)
	if err != nil {
		logger.Warn("catalog: parse failed, using empty catalog", "path", path, "error", err)
		return Empty()
	}
	logger.Info("catalog: loaded", "path", path, "sources", len(c.byID))
	return c
}

// Parse builds a Catalog from a YAML document. Unlike Load it surfaces
// the error, so callers embedding catalog data can fail fast in tests.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("catalog: document has no categories")
	}

	known := make(map[string]bool, len(Categories))
	for _, cat := range Categories {
		known[cat] = true
	}

	c := Empty()
	c.settings = doc.Settings

	for cat, group := range doc.Categories {
		// Unknown category keys fail the whole load: a typo in the
		// document must not silently drop a source group.
		if !known[cat] {
			return nil, fmt.Errorf("catalog: unknown category %q", cat)
		}
		for _, src := range group.Sources {
			src.Category = cat
			if err := validate(src); err != nil {
				return nil, err
			}
			if _, dup := c.byID[src.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate source id %q", src.ID)
			}
			c.byID[src.ID] = src
			if src.Enabled {
				c.byCategory[cat] = append(c.byCategory[cat], src)
			}
		}
	}
	return c, nil
}

func validate(s Source) error {
	if s.ID == "" {
		return fmt.Errorf("catalog: source with empty id (category %s)", s.Category)
	}
	if s.Name == "" {
		return fmt.Errorf("catalog: source %s has no name", s.ID)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("catalog: source %s confidence %d out of range [0,100]", s.ID, s.Confidence)
	}
	if s.RateLimitMs < 0 {
		return fmt.Errorf("catalog: source %s negative rate limit", s.ID)
	}
	return nil
}

// SourcesFor returns the enabled sources of one category in document
// order. Unknown categories return nil.
func (c *Catalog) SourcesFor(category string) []Source {
	return c.byCategory[category]
}

// AllSources returns the enabled sources of every category, iterating
// categories in the fixed Categories order.
func (c *Catalog) AllSources() []Source {
	var out []Source
	for _, cat := range Categories {
		out = append(out, c.byCategory[cat]...)
	}
	return out
}

// Find returns the source with the given id, enabled or not.
func (c *Catalog) Find(id string) (Source, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Settings returns the catalog settings block (zero values if the
// document had none; the engine applies its own defaults).
func (c *Catalog) Settings() Settings {
	return c.settings
}

// Len returns the number of loaded sources, enabled or not.
func (c *Catalog) Len() int {
	return len(c.byID)
}
