package relaypool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
	"github.com/moltrade/relayer/pkg/nostr"
)

var (
	errNotConnected = errors.New("relay not connected")

	// ErrUnknownRelay is returned when operating on a URL the pool does not hold
	ErrUnknownRelay = errors.New("unknown relay")
)

const (
	dialTimeout = 10 * time.Second
	// eventBuffer sizes the fan-in channel between readers and the router
	eventBuffer = 65536
)

// Pool owns the upstream relay connections, their subscriptions, health
// checks, and the fan-in event channel consumed by the router.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*connection

	events       chan *nostr.Event
	allowedKinds map[int]bool

	healthInterval time.Duration
	// connectSem caps concurrent connect attempts at max_connections
	connectSem chan struct{}

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a pool. The returned channel carries every event received on
// any subscribed relay, already filtered by the kind allow-list.
func New(healthInterval time.Duration, maxConnections int, allowedKinds []int) (*Pool, <-chan *nostr.Event) {
	if maxConnections <= 0 {
		maxConnections = 10000
	}

	var allowed map[int]bool
	if len(allowedKinds) > 0 {
		allowed = make(map[int]bool, len(allowedKinds))
		for _, kind := range allowedKinds {
			allowed[kind] = true
		}
	}

	p := &Pool{
		conns:          make(map[string]*connection),
		events:         make(chan *nostr.Event, eventBuffer),
		allowedKinds:   allowed,
		healthInterval: healthInterval,
		connectSem:     make(chan struct{}, maxConnections),
		logger:         log.WithComponent("relaypool"),
		stopCh:         make(chan struct{}),
	}
	return p, p.events
}

// ConnectAndSubscribe adds a relay (if new), dials it, and issues the kind
// filter subscription
func (p *Pool) ConnectAndSubscribe(url string) error {
	p.mu.Lock()
	conn, ok := p.conns[url]
	if !ok {
		conn = newConnection(url)
		p.conns[url] = conn
	}
	p.mu.Unlock()

	conn.setManual(false)
	return p.dial(conn)
}

// SubscribeAll connects to every URL; individual failures are logged and
// retried by the reconnect loop rather than failing the whole call.
func (p *Pool) SubscribeAll(urls []string) error {
	for _, url := range urls {
		if err := p.ConnectAndSubscribe(url); err != nil {
			p.logger.Warn().Err(err).Str("relay_url", url).Msg("initial connect failed, scheduling retry")
			p.scheduleReconnect(url)
		}
	}
	return nil
}

// DisconnectRelay gracefully closes a relay; no auto-retry until it is
// re-added
func (p *Pool) DisconnectRelay(url string) error {
	p.mu.Lock()
	conn, ok := p.conns[url]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRelay, url)
	}

	conn.setManual(true)
	conn.closeConn(StatusDisconnected)
	p.updateActiveGauge()
	p.logger.Info().Str("relay_url", url).Msg("relay disconnected")
	return nil
}

// ListRelays returns the pool's relay URLs
func (p *Pool) ListRelays() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	urls := make([]string, 0, len(p.conns))
	for url := range p.conns {
		urls = append(urls, url)
	}
	return urls
}

// GetConnectionStatuses returns the state of every connection
func (p *Pool) GetConnectionStatuses() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make(map[string]Status, len(p.conns))
	for url, conn := range p.conns {
		statuses[url] = conn.getStatus()
	}
	return statuses
}

// ActiveConnections counts subscribed connections
func (p *Pool) ActiveConnections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := 0
	for _, conn := range p.conns {
		if conn.getStatus() == StatusSubscribed {
			active++
		}
	}
	return active
}

// Publish sends a signed event to every subscribed relay. Per-relay write
// failures are logged and do not abort the remaining sends.
func (p *Pool) Publish(ev *nostr.Event) error {
	frame, err := nostr.EventFrame(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event frame: %w", err)
	}

	p.mu.RLock()
	conns := make([]*connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	p.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.getStatus() != StatusSubscribed {
			continue
		}
		if err := conn.writeMessage(frame); err != nil {
			p.logger.Warn().Err(err).Str("relay_url", conn.url).Msg("publish failed")
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("event %s published to no relays", ev.ID)
	}
	return nil
}

// StartHealthChecks launches the periodic staleness sweep
func (p *Pool) StartHealthChecks() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.healthInterval)
		defer ticker.Stop()

		p.logger.Info().Dur("interval", p.healthInterval).Msg("health checks started")
		for {
			select {
			case <-ticker.C:
				p.checkHealth()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop closes every connection and the fan-in channel
func (p *Pool) Stop() {
	close(p.stopCh)

	p.mu.Lock()
	for _, conn := range p.conns {
		conn.setManual(true)
		conn.closeConn(StatusDisconnected)
	}
	p.mu.Unlock()

	p.wg.Wait()
	close(p.events)
}

// dial performs the Disconnected -> Connecting -> Connected -> Subscribed
// transition for one connection
func (p *Pool) dial(conn *connection) error {
	select {
	case p.connectSem <- struct{}{}:
	default:
		return fmt.Errorf("connection attempt limit reached")
	}
	defer func() { <-p.connectSem }()

	conn.setStatus(StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.Dial(conn.url, nil)
	if err != nil {
		conn.setStatus(StatusFailed)
		return fmt.Errorf("failed to dial %s: %w", conn.url, err)
	}

	conn.setConn(ws, uuid.NewString())
	conn.setStatus(StatusConnected)

	if err := p.subscribe(conn); err != nil {
		conn.closeConn(StatusFailed)
		return err
	}
	conn.setStatus(StatusSubscribed)
	p.updateActiveGauge()
	p.logger.Info().Str("relay_url", conn.url).Msg("relay subscribed")

	p.wg.Add(1)
	go p.readLoop(conn)
	return nil
}

// subscribe sends the REQ frame carrying the kind allow-list
func (p *Pool) subscribe(conn *connection) error {
	filter := nostr.Filter{}
	for kind := range p.allowedKinds {
		filter.Kinds = append(filter.Kinds, kind)
	}

	conn.mu.Lock()
	subID := conn.subID
	conn.mu.Unlock()

	frame, err := nostr.ReqFrame(subID, filter)
	if err != nil {
		return fmt.Errorf("failed to encode REQ: %w", err)
	}
	if err := conn.writeMessage(frame); err != nil {
		return fmt.Errorf("failed to send REQ to %s: %w", conn.url, err)
	}
	return nil
}

// readLoop consumes frames until the socket errors, then hands off to the
// reconnect loop
func (p *Pool) readLoop(conn *connection) {
	defer p.wg.Done()

	for {
		ws := conn.getConn()
		if ws == nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if conn.isManual() {
				return
			}
			select {
			case <-p.stopCh:
				return
			default:
			}

			p.logger.Warn().Err(err).Str("relay_url", conn.url).Msg("relay read failed")
			conn.closeConn(StatusDisconnected)
			p.updateActiveGauge()
			p.scheduleReconnect(conn.url)
			return
		}

		conn.touch()
		p.handleFrame(conn, data)
	}
}

func (p *Pool) handleFrame(conn *connection, data []byte) {
	msg, err := nostr.ParseRelayMessage(data)
	if err != nil {
		p.logger.Debug().Err(err).Str("relay_url", conn.url).Msg("skipping unparseable frame")
		return
	}

	switch msg.Type {
	case nostr.MsgEvent:
		// Safety filter: relays are asked to filter by kind in the REQ, but
		// not all of them honor it.
		if p.allowedKinds != nil && !p.allowedKinds[msg.Event.Kind] {
			return
		}
		select {
		case p.events <- msg.Event:
		case <-p.stopCh:
		}
	case nostr.MsgEOSE:
		p.logger.Debug().Str("relay_url", conn.url).Msg("end of stored events")
	case nostr.MsgNotice:
		p.logger.Info().Str("relay_url", conn.url).Str("notice", msg.Notice).Msg("relay notice")
	case nostr.MsgOK:
		if !msg.Accepted {
			p.logger.Warn().
				Str("relay_url", conn.url).
				Str("event_id", msg.EventID).
				Str("reason", msg.Reason).
				Msg("relay rejected published event")
		}
	}
}

// scheduleReconnect retries the relay with exponential backoff until it
// succeeds, is manually disconnected, or the pool stops
func (p *Pool) scheduleReconnect(url string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = time.Second
		policy.MaxInterval = time.Minute
		policy.MaxElapsedTime = 0

		for {
			wait := policy.NextBackOff()
			select {
			case <-time.After(wait):
			case <-p.stopCh:
				return
			}

			p.mu.RLock()
			conn, ok := p.conns[url]
			p.mu.RUnlock()
			if !ok || conn.isManual() {
				return
			}

			metrics.RelayReconnects.WithLabelValues(url).Inc()
			if err := p.dial(conn); err != nil {
				p.logger.Warn().Err(err).Str("relay_url", url).Msg("reconnect failed")
				continue
			}
			return
		}
	}()
}

// checkHealth forces reconnection of subscribed relays that have gone quiet
// for more than twice the check interval
func (p *Pool) checkHealth() {
	p.mu.RLock()
	conns := make([]*connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	p.mu.RUnlock()

	stale := 2 * p.healthInterval
	for _, conn := range conns {
		if conn.getStatus() != StatusSubscribed {
			continue
		}
		if since := conn.sinceLastFrame(); since > stale {
			p.logger.Warn().
				Str("relay_url", conn.url).
				Dur("idle", since).
				Msg("relay stale, forcing reconnect")
			conn.closeConn(StatusDisconnected)
			p.scheduleReconnect(conn.url)
		}
	}
	p.updateActiveGauge()
}

func (p *Pool) updateActiveGauge() {
	metrics.ActiveConnections.Set(float64(p.ActiveConnections()))
}
