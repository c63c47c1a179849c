package recon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sonde/catalog"
)

func singleSourceCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	doc := `
categories:
  domain:
    sources:
      - id: ct_logs
        name: Certificate Transparency
        confidence: 90
        enabled: true
`
	cat, err := catalog.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

func countingService(t *testing.T, cat *catalog.Catalog, cfg *Config, calls *atomic.Int64, delay time.Duration) *Service {
	t.Helper()
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			calls.Add(1)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
			return map[string]any{"found": true}, nil
		},
	}
	svc, err := New(cat, handlers, cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestQuerySource_CacheIdempotence(t *testing.T) {
	// WHAT: Two identical queries within the TTL invoke the handler once;
	// the second call is served from cache with the same timestamp.
	// WHY: The cache exists to spare rate-limited external endpoints;
	// a re-dispatch on every call would defeat it.
	var calls atomic.Int64
	svc := countingService(t, singleSourceCatalog(t), testConfig(), &calls, 0)

	first, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("second query: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("handler invoked %d times, want 1", calls.Load())
	}
	if !second.Timestamp.Equal(first.Timestamp) {
		t.Error("cached envelope should carry the original timestamp")
	}
}

func TestQuerySource_CacheExpiry(t *testing.T) {
	// WHAT: After the TTL elapses the next identical query re-invokes
	// the handler.
	// WHY: Stale intelligence must age out; expiry is checked lazily on
	// read rather than by a background sweeper.
	var calls atomic.Int64
	cfg := &Config{RetryAttempts: 1, RetryBackoff: 1, CacheTTL: 20 * time.Millisecond}
	svc := countingService(t, singleSourceCatalog(t), cfg, &calls, 0)

	if _, err := svc.QuerySource(context.Background(), "ct_logs", "example.com"); err != nil {
		t.Fatalf("first query: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := svc.QuerySource(context.Background(), "ct_logs", "example.com"); err != nil {
		t.Fatalf("second query: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("handler invoked %d times after expiry, want 2", calls.Load())
	}
}

func TestQuerySource_DistinctQueriesNotShared(t *testing.T) {
	// WHAT: Different queries against the same source each hit the
	// handler; the cache key is source id plus query.
	var calls atomic.Int64
	svc := countingService(t, singleSourceCatalog(t), testConfig(), &calls, 0)

	for _, q := range []string{"a.example.com", "b.example.com", "a.example.com"} {
		if _, err := svc.QuerySource(context.Background(), "ct_logs", q); err != nil {
			t.Fatalf("query %s: %v", q, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("handler invoked %d times, want 2", calls.Load())
	}
}

func TestQuerySource_SingleFlight(t *testing.T) {
	// WHAT: Concurrent identical queries collapse into one handler call;
	// every caller receives the leader's envelope.
	// WHY: Without in-flight dedup a burst of identical requests would
	// hammer the external endpoint before the first result lands in the
	// cache.
	var calls atomic.Int64
	svc := countingService(t, singleSourceCatalog(t), testConfig(), &calls, 50*time.Millisecond)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Envelope, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
			if err != nil {
				t.Errorf("query: %v", err)
				return
			}
			results[i] = env
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("handler invoked %d times under concurrency, want 1", got)
	}
	for i := 1; i < n; i++ {
		if !results[i].Timestamp.Equal(results[0].Timestamp) {
			t.Errorf("caller %d got a different envelope than the leader", i)
		}
	}
}

func TestQuerySource_UnknownID(t *testing.T) {
	// WHAT: Querying a source id absent from the catalog returns
	// ErrUnknownSource instead of a failure envelope.
	var calls atomic.Int64
	svc := countingService(t, singleSourceCatalog(t), testConfig(), &calls, 0)

	_, err := svc.QuerySource(context.Background(), "nope", "example.com")
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got: %v", err)
	}
	if calls.Load() != 0 {
		t.Error("handler must not run for an unknown source")
	}
}

func TestQuerySource_HandlerErrorBecomesFailureEnvelope(t *testing.T) {
	// WHAT: A handler error folds into a failed envelope whose Data
	// carries found=false and the error text; QuerySource itself does
	// not error.
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc, err := New(singleSourceCatalog(t), handlers, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("QuerySource: %v", err)
	}
	if env.Success {
		t.Error("envelope should be marked failed")
	}
	if env.Found() {
		t.Error("failed envelope must not report found")
	}
	if msg, _ := env.Data["error"].(string); msg != "connection refused" {
		t.Errorf("error message = %q", msg)
	}
}

func TestQuerySource_InvalidPayloadRejected(t *testing.T) {
	// WHAT: A handler payload without the found flag is rejected at the
	// boundary and recorded as a failure.
	// WHY: Downstream consumers trust the envelope contract; a handler
	// bug must not leak malformed data into reports and exports.
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			return map[string]any{"records": 3}, nil
		},
	}
	svc, err := New(singleSourceCatalog(t), handlers, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("QuerySource: %v", err)
	}
	if env.Success {
		t.Error("malformed payload should yield a failed envelope")
	}
}

func TestQuerySource_FailureIsCached(t *testing.T) {
	// WHAT: A failed envelope is cached like a success; the handler is
	// not re-invoked within the TTL.
	// WHY: A down endpoint answered; hammering it again immediately
	// helps nobody.
	var calls atomic.Int64
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			calls.Add(1)
			return nil, errors.New("boom")
		},
	}
	svc, err := New(singleSourceCatalog(t), handlers, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.QuerySource(context.Background(), "ct_logs", "example.com"); err != nil {
			t.Fatalf("QuerySource: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("handler invoked %d times, want 1 (failure cached)", calls.Load())
	}
}

func TestQuerySource_CallerCancelNotCached(t *testing.T) {
	// WHAT: A failure caused by the caller's own context cancellation is
	// returned but never cached; the next caller with a live context
	// re-invokes the handler and gets fresh data.
	// WHY: A client disconnect mid-handler says nothing about the
	// source. Caching that envelope would serve "context canceled" to
	// every healthy caller for the full TTL.
	var calls atomic.Int64
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return map[string]any{"found": true}, nil
		},
	}
	svc, err := New(singleSourceCatalog(t), handlers, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	abandoned, err := svc.QuerySource(ctx, "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("abandoned query: %v", err)
	}
	if abandoned.Success {
		t.Error("cancelled dispatch should yield a failure envelope")
	}

	healthy, err := svc.QuerySource(context.Background(), "ct_logs", "example.com")
	if err != nil {
		t.Fatalf("healthy query: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("handler invoked %d times, want 2 (cancellation not cached)", calls.Load())
	}
	if !healthy.Success {
		t.Errorf("healthy caller got %+v, want fresh success", healthy.Data)
	}
	if svc.CacheSize() != 1 {
		t.Errorf("cache holds %d entries, want 1 (only the healthy result)", svc.CacheSize())
	}
}

func TestRun_RateLimitSpacing(t *testing.T) {
	// WHAT: Two uncached dispatches to a source with rate_limit_ms=80
	// are spaced at least 80ms apart.
	// WHY: The limiter guards per-source etiquette promised in the
	// catalog; back-to-back dispatches would violate the source's terms.
	doc := `
categories:
  domain:
    sources:
      - id: slow_api
        name: Slow API
        confidence: 50
        enabled: true
        rate_limit_ms: 80
`
	cat, err := catalog.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var calls atomic.Int64
	svc := countingService(t, cat, testConfig(), &calls, 0)

	start := time.Now()
	if _, err := svc.QuerySource(context.Background(), "slow_api", "a.example.com"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.QuerySource(context.Background(), "slow_api", "b.example.com"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("dispatches spaced %v apart, want >= 80ms", elapsed)
	}
	if calls.Load() != 2 {
		t.Errorf("handler invoked %d times, want 2", calls.Load())
	}
}
