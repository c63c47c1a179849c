package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/sonde/catalog"
	"github.com/hazyhaar/sonde/recon/internal/cache"
)

// querySource executes one source query end to end. It never fails: every
// outcome, including handler panics-turned-errors and timeouts, becomes
// an Envelope. Sequence: cache → single-flight join → rate limit →
// retried handler call → cache store.
func (svc *Service) querySource(ctx context.Context, src catalog.Source, query, searchType string) Envelope {
	key := cache.Key(src.ID, query)

	// Cache hit bypasses the limiter and the handler entirely. The cached
	// envelope is returned as stored — same timestamp, same payload.
	if v, ok := svc.cache.Get(src.ID, query); ok {
		if env, ok := v.(Envelope); ok {
			svc.logger.Debug("recon: cache hit", "source_id", src.ID, "query", query)
			return env
		}
	}

	// Concurrent callers for the same source+query share one execution:
	// the duplicates block on the leader's result instead of re-querying
	// the external endpoint.
	v, _, shared := svc.flight.Do(key, func() (any, error) {
		return svc.dispatch(ctx, src, query, searchType), nil
	})
	if shared {
		svc.logger.Debug("recon: joined in-flight query", "source_id", src.ID, "query", query)
	}
	return v.(Envelope)
}

// dispatch performs the rate-limited, retried handler call and stores the
// resulting envelope (success or failure — a failed probe is still an
// answer for the TTL window). Failures from a cancelled caller are the
// one exception: they are returned but never cached.
func (svc *Service) dispatch(ctx context.Context, src catalog.Source, query, searchType string) Envelope {
	handler, ok := svc.handlers[src.Category]
	if !ok {
		// Guarded at construction; can only trip for a disabled-category
		// source queried directly by id.
		return svc.failure(src, query, searchType, fmt.Sprintf("no handler for category %s", src.Category))
	}

	if err := svc.limiter.Wait(ctx, src.ID, src.RateLimit()); err != nil {
		return svc.failure(src, query, searchType, fmt.Sprintf("rate limit wait aborted: %v", err))
	}

	var payload map[string]any
	err := retry(ctx, svc.config.RetryAttempts, svc.config.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, svc.config.DefaultTimeout)
		defer cancel()
		p, err := handler(callCtx, src, query)
		if err != nil {
			return err
		}
		payload = p
		return nil
	})

	var env Envelope
	switch {
	case err != nil:
		svc.logger.Warn("recon: source query failed",
			"source_id", src.ID, "query", query, "error", err)
		env = svc.failure(src, query, searchType, err.Error())
		// A failure caused by the caller going away says nothing about
		// the source. Caching it would serve the abandonment to every
		// later healthy caller for the full TTL, so return it uncached.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return env
		}
	default:
		if valid, reason := Validate(payload); !valid {
			env = svc.failure(src, query, searchType, "invalid handler payload: "+reason)
		} else {
			env = Envelope{
				SourceID:   src.ID,
				SourceName: src.Name,
				Query:      query,
				SearchType: searchType,
				Confidence: src.Confidence,
				Timestamp:  time.Now(),
				Success:    true,
				Data:       payload,
			}
		}
	}

	svc.cache.Put(src.ID, query, env)
	return env
}

func (svc *Service) failure(src catalog.Source, query, searchType, msg string) Envelope {
	return Envelope{
		SourceID:   src.ID,
		SourceName: src.Name,
		Query:      query,
		SearchType: searchType,
		Confidence: src.Confidence,
		Timestamp:  time.Now(),
		Success:    false,
		Data:       map[string]any{"found": false, "error": msg},
	}
}

// QuerySource runs one source by id, outside any aggregation. Unknown
// ids are a caller error and return ErrUnknownSource; everything else is
// folded into the envelope like any other dispatch.
func (svc *Service) QuerySource(ctx context.Context, sourceID, query string) (Envelope, error) {
	src, ok := svc.catalog.Find(sourceID)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	return svc.querySource(ctx, src, query, src.Category), nil
}
