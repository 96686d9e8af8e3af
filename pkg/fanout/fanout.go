package fanout

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
)

// Message is one per-follower delivery on the local push path. Payload is
// the decrypted signal plaintext; re-encryption happens only on the bus path.
type Message struct {
	TargetPubkey    string `json:"target_pubkey"`
	BotPubkey       string `json:"bot_pubkey"`
	Kind            int    `json:"kind"`
	OriginalEventID string `json:"original_event_id"`
	Payload         string `json:"payload"`
}

// Subscriber is a channel receiving push messages for one follower
type Subscriber chan Message

// Sink buffers fanout messages between the router and the WebSocket hub.
// Sends never block the router: when the buffer is full or nobody consumes,
// messages are dropped and counted.
type Sink struct {
	ch     chan Message
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

// NewSink creates a sink with the given buffer size
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Sink{
		ch:          make(chan Message, buffer),
		logger:      log.WithComponent("fanout"),
		subscribers: make(map[string][]Subscriber),
	}
}

// TrySend enqueues a message without blocking; a full buffer drops it
func (s *Sink) TrySend(msg Message) {
	select {
	case s.ch <- msg:
		metrics.FanoutMessages.WithLabelValues("push", "queued").Inc()
	default:
		metrics.FanoutMessages.WithLabelValues("push", "dropped").Inc()
		s.logger.Warn().
			Str("target_pubkey", msg.TargetPubkey).
			Str("event_id", msg.OriginalEventID).
			Msg("fanout buffer full, dropping push message")
	}
}

// Messages exposes the queue to the dispatcher
func (s *Sink) Messages() <-chan Message {
	return s.ch
}

// Close closes the queue; the dispatcher drains and returns
func (s *Sink) Close() {
	close(s.ch)
}

// Subscribe registers a WebSocket consumer for a follower pubkey. An empty
// pubkey subscribes to all messages.
func (s *Sink) Subscribe(targetPubkey string) Subscriber {
	sub := make(Subscriber, 50)
	s.mu.Lock()
	s.subscribers[targetPubkey] = append(s.subscribers[targetPubkey], sub)
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a consumer
func (s *Sink) Unsubscribe(targetPubkey string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[targetPubkey]
	for i, candidate := range subs {
		if candidate == sub {
			s.subscribers[targetPubkey] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[targetPubkey]) == 0 {
		delete(s.subscribers, targetPubkey)
	}
}

// Run dispatches queued messages to matching subscribers until the sink is
// closed. Slow subscribers are skipped, not waited on.
func (s *Sink) Run() {
	for msg := range s.ch {
		s.dispatch(msg)
	}
	s.logger.Info().Msg("fanout dispatcher stopped")
}

func (s *Sink) dispatch(msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := append([]Subscriber{}, s.subscribers[msg.TargetPubkey]...)
	targets = append(targets, s.subscribers[""]...)

	for _, sub := range targets {
		select {
		case sub <- msg:
			metrics.FanoutMessages.WithLabelValues("push", "delivered").Inc()
		default:
			// Subscriber buffer full, skip
			metrics.FanoutMessages.WithLabelValues("push", "dropped").Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, subs := range s.subscribers {
		count += len(subs)
	}
	return count
}
