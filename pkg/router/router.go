package router

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/dedup"
	"github.com/moltrade/relayer/pkg/fanout"
	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
	"github.com/moltrade/relayer/pkg/nostr"
	"github.com/moltrade/relayer/pkg/store"
)

const (
	// maxEventAge is the staleness gate: older events are dropped unforwarded
	maxEventAge = 10 * time.Minute
	// heartbeatInterval throttles last_seen updates per bot
	heartbeatInterval = 15 * time.Minute
)

// SubscriptionStore is the slice of the relational store the router needs
type SubscriptionStore interface {
	RegisterBot(botPubkey, nostrPubkey, ethAddress, name string) error
	UpdateBotLastSeen(botPubkey string) error
	FindBotByEth(ethAddress string) (*store.Bot, error)
	ListSubscriptions(botPubkey string) ([]store.Subscription, error)
	RecordSignal(signal *store.SignalLog) error
	RecordTradeTx(t store.TradeInsert) error
	UpdateTradeSettlement(txHash, oid *string, status string, pnl, pnlUSD *float64) error
}

// PushSink receives per-follower plaintext deliveries for the local path
type PushSink interface {
	TrySend(msg fanout.Message)
}

// FollowerPublisher re-encrypts and publishes a signal for one follower
type FollowerPublisher interface {
	RepublishToFollower(originalKind int, followerPubkey, plaintext string) error
}

type pendingEvent struct {
	event     *nostr.Event
	timestamp int64
}

// Router is the central pipeline: it deduplicates inbound events, buffers
// and time-orders them, classifies by kind, persists, and fans out.
type Router struct {
	dedupe     *dedup.Engine
	batchSize  int
	maxLatency time.Duration
	downstream chan<- *nostr.Event

	allowedKinds map[int]bool

	// Optional collaborators: each nil disables its path
	subs      SubscriptionStore
	sink      PushSink
	publisher FollowerPublisher
	keys      *nostr.Keys

	platformPubkey string

	mu      sync.Mutex
	pending []pendingEvent

	hbMu          sync.Mutex
	heartbeatSeen map[string]time.Time

	logger zerolog.Logger
	// now is swappable for tests
	now func() time.Time
}

// Options carries the router's optional collaborators
type Options struct {
	AllowedKinds []int
	Store        SubscriptionStore
	Sink         PushSink
	Publisher    FollowerPublisher
	Keys         *nostr.Keys
}

// New creates a router delivering forwarded events to downstream
func New(engine *dedup.Engine, batchSize int, maxLatency time.Duration, downstream chan<- *nostr.Event, opts Options) *Router {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxLatency <= 0 {
		maxLatency = 100 * time.Millisecond
	}

	var allowed map[int]bool
	if len(opts.AllowedKinds) > 0 {
		allowed = make(map[int]bool, len(opts.AllowedKinds))
		for _, kind := range opts.AllowedKinds {
			allowed[kind] = true
		}
	}

	r := &Router{
		dedupe:        engine,
		batchSize:     batchSize,
		maxLatency:    maxLatency,
		downstream:    downstream,
		allowedKinds:  allowed,
		subs:          opts.Store,
		sink:          opts.Sink,
		publisher:     opts.Publisher,
		keys:          opts.Keys,
		heartbeatSeen: make(map[string]time.Time),
		logger:        log.WithComponent("router"),
		now:           time.Now,
	}
	if opts.Keys != nil {
		r.platformPubkey = opts.Keys.PublicKeyHex()
	}
	return r
}

// ProcessStream consumes the upstream channel until it closes, flushing
// batches on size or latency. The close path drains the remaining buffer to
// downstream in timestamp order without classifying.
func (r *Router) ProcessStream(input <-chan *nostr.Event) {
	ticker := time.NewTicker(r.maxLatency)
	defer ticker.Stop()

	lastFlush := r.now()

	for {
		select {
		case ev, ok := <-input:
			if !ok {
				r.logger.Info().Msg("event stream closed, flushing remaining events")
				r.flushAll()
				return
			}
			if r.ingest(ev) {
				r.flushBatch()
				lastFlush = r.now()
			}

		case <-ticker.C:
			r.mu.Lock()
			hasPending := len(r.pending) > 0
			r.mu.Unlock()
			if hasPending && r.now().Sub(lastFlush) >= r.maxLatency {
				timer := metrics.NewTimer()
				r.flushBatch()
				timer.ObserveDuration(metrics.ProcessingLatency)
				lastFlush = r.now()
			}
		}
	}
}

// ingest applies the allow-list and dedup gates and buffers the event.
// Returns true when the buffer reached the batch size.
func (r *Router) ingest(ev *nostr.Event) bool {
	if r.allowedKinds != nil && !r.allowedKinds[ev.Kind] {
		return false
	}
	if r.dedupe.IsDuplicate(ev.ID) {
		return false
	}

	r.mu.Lock()
	r.pending = append(r.pending, pendingEvent{event: ev, timestamp: ev.CreatedAt})
	size := len(r.pending)
	r.mu.Unlock()

	metrics.EventsInQueue.Set(float64(size))
	return size >= r.batchSize
}

// flushBatch drains up to batchSize of the oldest pending events in
// ascending created_at order and runs the full per-event pipeline
func (r *Router) flushBatch() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}

	sort.SliceStable(r.pending, func(i, j int) bool {
		return r.pending[i].timestamp < r.pending[j].timestamp
	})

	n := r.batchSize
	if n > len(r.pending) {
		n = len(r.pending)
	}
	batch := make([]*nostr.Event, 0, n)
	for _, pe := range r.pending[:n] {
		batch = append(batch, pe.event)
	}
	r.pending = r.pending[n:]
	remaining := len(r.pending)
	r.mu.Unlock()

	for _, ev := range batch {
		r.forward(ev)
	}

	metrics.EventsInQueue.Set(float64(remaining))
	r.logger.Debug().Int("count", len(batch)).Msg("flushed batch")
}

// forward runs one event through staleness, side effects, classification,
// downstream delivery, and dedup recording
func (r *Router) forward(ev *nostr.Event) {
	if age := r.now().Unix() - ev.CreatedAt; age > int64(maxEventAge.Seconds()) {
		metrics.StaleEventsDropped.Inc()
		r.logger.Debug().
			Str("event_id", ev.ID).
			Int64("age_secs", age).
			Msg("dropping stale event")
		return
	}

	r.maybeUpdateLastSeen(ev)

	if err := r.handleCopytradeFanout(ev); err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("fanout processing failed")
	}

	r.downstream <- ev
	metrics.EventsProcessed.Inc()

	r.dedupe.RecordForwarded(ev.ID)
}

// flushAll drains the buffer in timestamp order on shutdown. Events go to
// downstream only; classification and dedup recording are skipped.
func (r *Router) flushAll() {
	r.mu.Lock()
	sort.SliceStable(r.pending, func(i, j int) bool {
		return r.pending[i].timestamp < r.pending[j].timestamp
	})
	batch := make([]*nostr.Event, 0, len(r.pending))
	for _, pe := range r.pending {
		batch = append(batch, pe.event)
	}
	r.pending = nil
	r.mu.Unlock()

	for _, ev := range batch {
		r.downstream <- ev
		metrics.EventsProcessed.Inc()
	}

	metrics.EventsInQueue.Set(0)
	r.logger.Info().Int("count", len(batch)).Msg("flushed all remaining events")
}

// maybeUpdateLastSeen bumps the bot heartbeat, throttled per bot
func (r *Router) maybeUpdateLastSeen(ev *nostr.Event) {
	if ev.Kind != nostr.KindHeartbeat || r.subs == nil {
		return
	}

	now := r.now()
	r.hbMu.Lock()
	last, seen := r.heartbeatSeen[ev.PubKey]
	if seen && now.Sub(last) < heartbeatInterval {
		r.hbMu.Unlock()
		return
	}
	r.heartbeatSeen[ev.PubKey] = now
	r.hbMu.Unlock()

	if err := r.subs.UpdateBotLastSeen(ev.PubKey); err != nil {
		r.logger.Error().Err(err).Str("bot_pubkey", ev.PubKey).Msg("failed to update bot last_seen")
	}
}
