// Package recon is the source-query orchestration core of sonde.
//
// A query and its search type fan out concurrently to every eligible
// source from the catalog. Each dispatch consults the result cache,
// waits on the per-source rate limiter, joins any identical in-flight
// query (single-flight), and wraps the category handler in a bounded
// linear-backoff retry. Outcomes are collected without early abort —
// one failing source never voids the others — and merged into a single
// Report whose summary counters partition the envelopes exactly.
//
// Cache, limiter, and single-flight state are owned per Service, never
// package globals: independent Services never contaminate each other.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/sonde/catalog"
	"github.com/hazyhaar/sonde/idgen"
	"github.com/hazyhaar/sonde/kit"
	"github.com/hazyhaar/sonde/observability"
	"github.com/hazyhaar/sonde/recon/internal/cache"
	"github.com/hazyhaar/sonde/recon/internal/ratelimit"
)

// Handler performs the actual lookup for one category of sources. The
// source is passed so one handler can serve every source of its
// category, branching on the source id. Handlers may block on network
// I/O and must return a payload carrying at least a "found" boolean;
// other fields are opaque to the engine. Errors are normalized into
// failed envelopes by the executor, never propagated.
type Handler func(ctx context.Context, src catalog.Source, query string) (map[string]any, error)

// Registry maps catalog categories to their handlers. It is closed at
// Service construction: a category with enabled sources but no handler
// fails New instead of silently producing no-op results.
type Registry map[string]Handler

// Service is the aggregation engine.
type Service struct {
	catalog  *catalog.Catalog
	handlers Registry
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	flight   singleflight.Group
	config   *Config
	logger   *slog.Logger
	newID    func() string
	audit    *observability.AuditLogger // optional
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithAudit sets the audit logger for aggregation runs and exports.
func WithAudit(a *observability.AuditLogger) ServiceOption {
	return func(svc *Service) { svc.audit = a }
}

// WithIDGenerator overrides report ID generation (tests use fixed IDs).
func WithIDGenerator(gen func() string) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// New creates a Service over a loaded catalog and a handler registry.
// Every category that holds at least one enabled source must have a
// handler; a gap is a configuration error and fails fast.
func New(cat *catalog.Catalog, handlers Registry, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cat == nil {
		cat = catalog.Empty()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	// Default a copy so a Config literal reused across Services is not
	// mutated by the first New.
	cfgCopy := *cfg
	cfgCopy.defaults()
	cfg = &cfgCopy
	if logger == nil {
		logger = slog.Default()
	}

	for _, c := range catalog.Categories {
		if len(cat.SourcesFor(c)) > 0 {
			if _, ok := handlers[c]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoHandler, c)
			}
		}
	}

	svc := &Service{
		catalog:  cat,
		handlers: handlers,
		cache:    cache.New(cache.WithTTL(cfg.CacheTTL)),
		limiter:  ratelimit.New(),
		config:   cfg,
		logger:   logger,
		newID:    idgen.Prefixed("rpt_", idgen.Default),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Run fans query out to all enabled sources of searchType and returns
// the consolidated report. Individual source failures surface as failed
// envelopes; Run itself errors only on an unknown search type. An empty
// category yields an empty report with TotalSources 0, not an error.
func (svc *Service) Run(ctx context.Context, query, searchType string) (*Report, error) {
	start := time.Now()
	if !knownCategory(searchType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, searchType)
	}

	sources := svc.catalog.SourcesFor(searchType)
	report := &Report{
		ID:         svc.newID(),
		Query:      query,
		SearchType: searchType,
		Timestamp:  start,
	}

	if len(sources) == 0 {
		svc.logger.Info("recon: no sources available", "search_type", searchType)
		report.Summary = summarize(nil)
		svc.auditRun(ctx, report, time.Since(start))
		return report, nil
	}

	envelopes := make([]Envelope, len(sources))
	g := new(errgroup.Group)
	g.SetLimit(svc.config.MaxConcurrent)

	for i, src := range sources {
		delay := time.Duration(i) * svc.config.Stagger
		g.Go(func() error {
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
				case <-t.C:
				}
			}
			envelopes[i] = svc.querySource(ctx, src, query, searchType)
			return nil
		})
	}
	// querySource never fails; Wait only joins the goroutines.
	_ = g.Wait()

	report.Sources = envelopes
	report.Summary = summarize(envelopes)

	svc.logger.Info("recon: run complete",
		"report_id", report.ID,
		"search_type", searchType,
		"total", report.Summary.TotalSources,
		"successful", report.Summary.SuccessfulSources,
		"failed", report.Summary.FailedSources,
		"data_found", report.Summary.DataFound,
		"duration_ms", time.Since(start).Milliseconds())
	svc.auditRun(ctx, report, time.Since(start))
	return report, nil
}

// Sources returns the enabled sources for a category, or all enabled
// sources when category is empty.
func (svc *Service) Sources(category string) ([]catalog.Source, error) {
	if category == "" {
		return svc.catalog.AllSources(), nil
	}
	if !knownCategory(category) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return svc.catalog.SourcesFor(category), nil
}

// CacheSize reports the number of cached result entries.
func (svc *Service) CacheSize() int {
	return svc.cache.Len()
}

// ClearCache drops all cached results.
func (svc *Service) ClearCache() {
	svc.cache.Clear()
}

func knownCategory(c string) bool {
	for _, known := range catalog.Categories {
		if c == known {
			return true
		}
	}
	return false
}

// auditRun emits an async audit entry if an audit logger is configured.
// Only summary counters are recorded, never envelope payloads. Request,
// session, and transport identifiers come off the context when a
// transport layer stamped them.
func (svc *Service) auditRun(ctx context.Context, r *Report, d time.Duration) {
	if svc.audit == nil {
		return
	}
	params := map[string]any{"query": r.Query, "search_type": r.SearchType}
	if t := kit.GetTransport(ctx); t != "" {
		params["transport"] = t
	}
	e := svc.audit.NewAuditEntry("recon", "run", params, r.Summary, nil, d)
	e.RequestID = kit.GetRequestID(ctx)
	e.SessionID = kit.GetSessionID(ctx)
	svc.audit.LogAsync(e)
}
