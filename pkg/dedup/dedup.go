package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/kvstore"
	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
)

const (
	// DefaultHotsetSize is the bound of the most-recently-forwarded id set
	DefaultHotsetSize = 10000
	// DefaultBloomCapacity sizes the bloom filter
	DefaultBloomCapacity = 1000000
	// DefaultLRUSize bounds the confirmed-id cache
	DefaultLRUSize = 100000

	bloomFalsePositiveRate = 0.01
)

// Engine answers "has this event id already been forwarded?" through four
// tiers queried cheapest-first: a FIFO hot set, a bloom filter (negative
// answers are authoritative, positive ones need confirmation), an LRU of
// confirmed ids, and the durable KV index.
type Engine struct {
	mu     sync.Mutex
	hotSet *hotSet
	bloom  *bloom.BloomFilter
	lru    *lru.Cache[string, struct{}]
	kv     *kvstore.Store
	logger zerolog.Logger
}

// Stats reports per-tier sizes for the admin surface
type Stats struct {
	HotSetSize   int    `json:"hot_set_size"`
	BloomSize    uint32 `json:"bloom_filter_size"`
	LRUSize      int    `json:"lru_cache_size"`
	KVEntryCount int    `json:"kv_entry_count"`
}

// NewEngine creates an engine with the default tier sizes
func NewEngine(kv *kvstore.Store) (*Engine, error) {
	return NewEngineWithParams(kv, DefaultHotsetSize, DefaultBloomCapacity, DefaultLRUSize)
}

// NewEngineWithParams creates an engine with explicit tier sizes
func NewEngineWithParams(kv *kvstore.Store, hotsetSize int, bloomCapacity uint, lruSize int) (*Engine, error) {
	if hotsetSize <= 0 {
		hotsetSize = DefaultHotsetSize
	}
	if bloomCapacity == 0 {
		bloomCapacity = DefaultBloomCapacity
	}
	if lruSize <= 0 {
		lruSize = DefaultLRUSize
	}

	cache, err := lru.New[string, struct{}](lruSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		hotSet: newHotSet(hotsetSize),
		bloom:  bloom.NewWithEstimates(bloomCapacity, bloomFalsePositiveRate),
		lru:    cache,
		kv:     kv,
		logger: log.WithComponent("dedup"),
	}, nil
}

// IsDuplicate reports whether the id has already been accepted for
// forwarding. Observed-but-not-forwarded ids return false and may be
// re-inspected later.
func (e *Engine) IsDuplicate(id string) bool {
	e.mu.Lock()
	if e.hotSet.contains(id) {
		e.mu.Unlock()
		metrics.DuplicatesFiltered.Inc()
		return true
	}

	// A bloom miss is definitive; a hit is only "maybe" and must be
	// confirmed against the lower tiers.
	if !e.bloom.TestString(id) {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	if e.lru.Contains(id) {
		metrics.DuplicatesFiltered.Inc()
		return true
	}

	found, err := e.kv.ContainsEvent(id)
	if err != nil {
		e.logger.Warn().Err(err).Str("event_id", id).Msg("KV lookup failed, treating as new")
		return false
	}
	if found {
		e.lru.Add(id, struct{}{})
		metrics.DuplicatesFiltered.Inc()
		return true
	}
	return false
}

// RecordForwarded inserts the id into every tier and appends it to the
// durable forward index. Called by the router after a successful downstream
// send; the gap between IsDuplicate and this call is deliberately unlocked.
func (e *Engine) RecordForwarded(id string) {
	e.mu.Lock()
	e.hotSet.add(id)
	e.bloom.AddString(id)
	e.mu.Unlock()
	e.lru.Add(id, struct{}{})

	if err := e.kv.PutEvent(id); err != nil {
		e.logger.Warn().Err(err).Str("event_id", id).Msg("failed to persist forwarded id")
	}
	if err := e.kv.AppendForward(id); err != nil {
		e.logger.Warn().Err(err).Str("event_id", id).Msg("failed to append forward index")
	}
}

// WarmFromStore preloads tiers 1-3 with the newest ids from the forward
// index so a restart does not re-forward recently handled events.
func (e *Engine) WarmFromStore(limit int) {
	if limit <= 0 {
		limit = DefaultHotsetSize
	}

	ids, err := e.kv.IterateForwardDesc(limit)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to warm dedup engine from KV")
		return
	}

	e.mu.Lock()
	for _, id := range ids {
		e.hotSet.add(id)
		e.bloom.AddString(id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.lru.Add(id, struct{}{})
	}

	e.logger.Info().Int("count", len(ids)).Msg("dedup engine warmed from forward index")
}

// GetStats returns current tier sizes
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	hotSize := e.hotSet.len()
	bloomSize := e.bloom.ApproximatedSize()
	e.mu.Unlock()

	kvCount, err := e.kv.ApproximateEventCount()
	if err != nil {
		e.logger.Debug().Err(err).Msg("failed to count KV entries")
	}

	return Stats{
		HotSetSize:   hotSize,
		BloomSize:    bloomSize,
		LRUSize:      e.lru.Len(),
		KVEntryCount: kvCount,
	}
}
