package metadata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
)

// LookupResult is what an external tag provider returns for a resolved
// (artist, title). Sources maps provider name to its raw tag list.
type LookupResult struct {
	Sources     map[string][]string `json:"sources"`
	RecordingID string              `json:"recording_id,omitempty"`
}

// ErrMiss signals that the provider has no record for the query.
var ErrMiss = errors.New("metadata lookup miss")

// Sink is the contract for genre/tag enrichment. Implementations own
// their transport; the resolver and pipeline only see this interface.
type Sink interface {
	Lookup(ctx context.Context, artist, title string) (*LookupResult, error)
}

// CacheStore is the persistence the enricher needs: get/put of cached
// payloads keyed by normalized (artist, title).
type CacheStore interface {
	GetMetadataCache(key string) (payload []byte, negative bool, ok bool, err error)
	PutMetadataCache(key, source string, payload []byte, ttl time.Duration, negative bool) error
}

const (
	// DefaultTTL is how long positive cache entries live.
	DefaultTTL = 30 * 24 * time.Hour
	// NegativeTTL is how long a recorded miss or failure suppresses
	// re-querying.
	NegativeTTL = 24 * time.Hour
	// RequestTimeout bounds a single sink call.
	RequestTimeout = 10 * time.Second
	// MaxAttempts is the retry budget per lookup.
	MaxAttempts = 3
)

// Limits are the per-provider request rates.
var Limits = map[string]rate.Limit{
	"musicbrainz": rate.Limit(1), // 1/s
	"discogs":     rate.Limit(1), // 60/min
	"lastfm":      rate.Limit(5), // 5/s
}

// Enricher wraps a Sink with caching, rate limiting, and retry.
type Enricher struct {
	sink     Sink
	cache    CacheStore
	limiters map[string]*rate.Limiter
	source   string
	logger   *slog.Logger
	backoff  time.Duration
}

// NewEnricher builds an enricher for one provider. source selects the
// rate limit bucket ("musicbrainz", "discogs", "lastfm").
func NewEnricher(sink Sink, cache CacheStore, source string, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	limiters := make(map[string]*rate.Limiter, len(Limits))
	for name, limit := range Limits {
		limiters[name] = rate.NewLimiter(limit, 1)
	}
	return &Enricher{
		sink:     sink,
		cache:    cache,
		limiters: limiters,
		source:   source,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Lookup resolves tags for (artist, title), consulting the cache
// first. Failures after the retry budget are recorded as negative
// cache entries and reported as ExternalService errors; callers treat
// that as non-fatal.
func (e *Enricher) Lookup(ctx context.Context, artist, title string) (*LookupResult, error) {
	key := NormalizeKey(artist, title)

	if payload, negative, ok, err := e.cache.GetMetadataCache(key); err == nil && ok {
		if negative {
			return nil, ErrMiss
		}
		result, err := decodeLookup(payload)
		if err == nil {
			return result, nil
		}
		// Corrupt cache entry falls through to a live lookup.
	}

	limiter := e.limiters[e.source]

	var lastErr error
	backoff := e.backoff
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
		result, err := e.sink.Lookup(reqCtx, artist, title)
		cancel()

		if err == nil {
			payload, encErr := encodeLookup(result)
			if encErr == nil {
				if putErr := e.cache.PutMetadataCache(key, e.source, payload, DefaultTTL, false); putErr != nil {
					e.logger.Warn("metadata cache write failed", slog.Any("error", putErr))
				}
			}
			return result, nil
		}
		if errors.Is(err, ErrMiss) {
			_ = e.cache.PutMetadataCache(key, e.source, nil, NegativeTTL, true)
			return nil, ErrMiss
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		e.logger.Warn("metadata lookup failed",
			slog.String("source", e.source),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if attempt < MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	// Retry budget exhausted: record a short-lived negative entry so
	// the batch does not hammer a failing service.
	_ = e.cache.PutMetadataCache(key, e.source, nil, NegativeTTL, true)
	return nil, apperrors.New(apperrors.ErrExternalService, "metadata", "", lastErr)
}
