package core

import (
	"fmt"

	"SatLedger/internal/observability"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// DBIdempotencyChecker is the Postgres dedup lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// in front of the event log.
type IdempotencyChecker struct {
	cache     *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, log zerolog.Logger) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		log:       log,
	}, nil
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already processed. A failing
// database lookup counts as not seen.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)
	if ic.cache.Contains(key) {
		ic.record(eventType, "lru")
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		ic.log.Warn().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("tier-2 dedup lookup failed")
		ic.record(eventType, "postgres_error")
		return false
	}
	if isDup {
		ic.record(eventType, "postgres")
		ic.cache.Add(key, struct{}{})
	}
	return isDup
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.cache.Add(compositeKey(eventType, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.cache.Len()))
	}
}

// Len is the number of cached keys.
func (ic *IdempotencyChecker) Len() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) record(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}
