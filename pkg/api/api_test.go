package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltrade/relayer/pkg/dedup"
	"github.com/moltrade/relayer/pkg/relaypool"
	"github.com/moltrade/relayer/pkg/store"
)

type fakePool struct {
	relays       map[string]relaypool.Status
	added        []string
	removed      []string
	removeError  error
	connectError error
}

func newFakePool() *fakePool {
	return &fakePool{relays: map[string]relaypool.Status{}}
}

func (f *fakePool) ConnectAndSubscribe(url string) error {
	if f.connectError != nil {
		return f.connectError
	}
	f.added = append(f.added, url)
	f.relays[url] = relaypool.StatusSubscribed
	return nil
}

func (f *fakePool) DisconnectRelay(url string) error {
	if f.removeError != nil {
		return f.removeError
	}
	f.removed = append(f.removed, url)
	return nil
}

func (f *fakePool) ListRelays() []string {
	urls := make([]string, 0, len(f.relays))
	for url := range f.relays {
		urls = append(urls, url)
	}
	return urls
}

func (f *fakePool) GetConnectionStatuses() map[string]relaypool.Status {
	return f.relays
}

func (f *fakePool) ActiveConnections() int { return len(f.relays) }

type fakeDedup struct{}

func (fakeDedup) GetStats() dedup.Stats {
	return dedup.Stats{HotSetSize: 1, LRUSize: 2, KVEntryCount: 3}
}

type fakeAdminStore struct {
	bots          []string
	subscriptions []string
	trades        []store.TradeInsert
	settlements   []string
	credits       []store.CreditBalance
}

func (f *fakeAdminStore) RegisterBot(botPubkey, nostrPubkey, ethAddress, name string) error {
	f.bots = append(f.bots, botPubkey)
	return nil
}

func (f *fakeAdminStore) AddSubscription(botPubkey, followerPubkey, sharedSecret string) error {
	f.subscriptions = append(f.subscriptions, botPubkey+"/"+followerPubkey)
	return nil
}

func (f *fakeAdminStore) ListSubscriptions(botPubkey string) ([]store.Subscription, error) {
	return []store.Subscription{{BotPubkey: botPubkey, FollowerPubkey: "F"}}, nil
}

func (f *fakeAdminStore) RecordTradeTx(t store.TradeInsert) error {
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeAdminStore) UpdateTradeSettlement(txHash, oid *string, status string, pnl, pnlUSD *float64) error {
	f.settlements = append(f.settlements, status)
	return nil
}

func (f *fakeAdminStore) ListCredits(botPubkey, followerPubkey string) ([]store.CreditBalance, error) {
	return f.credits, nil
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}})
	rec := doRequest(t, s, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusIncludesDedupStats(t *testing.T) {
	pool := newFakePool()
	pool.relays["wss://r1"] = relaypool.StatusSubscribed
	s := NewServer(Config{Pool: pool, Dedup: fakeDedup{}})

	rec := doRequest(t, s, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["active_connections"])
	assert.Contains(t, body, "deduplication_engine")
}

func TestDataEndpointsWithoutStore(t *testing.T) {
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/bots/register"},
		{http.MethodPost, "/api/subscriptions"},
		{http.MethodGet, "/api/subscriptions/B"},
		{http.MethodPost, "/api/trades/record"},
		{http.MethodPost, "/api/trades/settlement"},
		{http.MethodGet, "/api/credits"},
	} {
		rec := doRequest(t, s, tc.method, tc.path, "{}", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRegisterBot(t *testing.T) {
	subs := &fakeAdminStore{}
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}, Store: subs, PlatformPubkey: "PK"})

	rec := doRequest(t, s, http.MethodPost, "/api/bots/register",
		`{"bot_pubkey":"B","nostr_pubkey":"N","eth_address":"0xA","name":"x"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"B"}, subs.bots)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PK", body["platform_pubkey"])
}

func TestSettlementTokenGuard(t *testing.T) {
	subs := &fakeAdminStore{}
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}, Store: subs, SettlementToken: "secret"})

	payload := `{"tx_hash":"0xdead","status":"confirmed"}`

	rec := doRequest(t, s, http.MethodPost, "/api/trades/settlement", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/trades/settlement", payload,
		map[string]string{"X-Settlement-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/trades/settlement", payload,
		map[string]string{"X-Settlement-Token": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"confirmed"}, subs.settlements)
}

func TestSettlementNoTokenConfigured(t *testing.T) {
	subs := &fakeAdminStore{}
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}, Store: subs})

	rec := doRequest(t, s, http.MethodPost, "/api/trades/settlement",
		`{"oid":"order-1","status":"failed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRelayManagement(t *testing.T) {
	pool := newFakePool()
	s := NewServer(Config{Pool: pool, Dedup: fakeDedup{}})

	rec := doRequest(t, s, http.MethodPost, "/api/relays/add", `{"url":"wss://new.relay"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"wss://new.relay"}, pool.added)

	rec = doRequest(t, s, http.MethodGet, "/api/relays", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["count"])

	rec = doRequest(t, s, http.MethodDelete, "/api/relays/remove", `{"url":"wss://new.relay"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"wss://new.relay"}, pool.removed)

	rec = doRequest(t, s, http.MethodPost, "/api/relays/add", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordTrade(t *testing.T) {
	subs := &fakeAdminStore{}
	s := NewServer(Config{Pool: newFakePool(), Dedup: fakeDedup{}, Store: subs})

	rec := doRequest(t, s, http.MethodPost, "/api/trades/record",
		`{"bot_pubkey":"B","role":"leader","symbol":"BTC","side":"buy","size":1,"price":100,"tx_hash":"0xdead"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.trades, 1)
	assert.Equal(t, "B", subs.trades[0].BotPubkey)
	require.NotNil(t, subs.trades[0].TxHash)
	assert.Equal(t, "0xdead", *subs.trades[0].TxHash)
}
