package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moltrade/relayer/pkg/fanout"
	"github.com/moltrade/relayer/pkg/nostr"
	"github.com/moltrade/relayer/pkg/store"
)

// registerPayload is the plaintext body of an AgentRegister event
type registerPayload struct {
	BotPubkey   string `json:"bot_pubkey"`
	NostrPubkey string `json:"nostr_pubkey"`
	EthAddress  string `json:"eth_address"`
	Account     string `json:"account"`
	Name        string `json:"name"`
}

// signalPayload is the decrypted body of a trade-bearing event. Several
// fields accept historical aliases.
type signalPayload struct {
	AgentEthAddress string `json:"agent_eth_address"`
	Agent           string `json:"agent"`
	Account         string `json:"account"`
	EthAddress      string `json:"eth_address"`

	FollowerPubkey string `json:"follower_pubkey"`
	Follower       string `json:"follower"`

	Role     string   `json:"role"`
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Size     *float64 `json:"size"`
	Price    *float64 `json:"price"`
	Status   string   `json:"status"`
	TxHash   string   `json:"tx_hash"`
	OID      string   `json:"oid"`
	OrderID  string   `json:"order_id"`
	PnL      *float64 `json:"pnl"`
	PnLUSD   *float64 `json:"pnl_usd"`
	TestMode bool     `json:"test_mode"`
}

func (p *signalPayload) agentEth() string {
	return firstNonEmpty(p.AgentEthAddress, p.Agent, p.Account, p.EthAddress)
}

func (p *signalPayload) follower() string {
	return firstNonEmpty(p.FollowerPubkey, p.Follower)
}

func (p *signalPayload) orderID() string {
	return firstNonEmpty(p.OID, p.OrderID)
}

// handleCopytradeFanout dispatches by kind. Errors returned here abort only
// the current event, never the stream.
func (r *Router) handleCopytradeFanout(ev *nostr.Event) error {
	switch ev.Kind {
	case nostr.KindHeartbeat:
		// already handled by maybeUpdateLastSeen
		return nil
	case nostr.KindAgentRegister:
		return r.handleAgentRegister(ev)
	case nostr.KindTradeSignal, nostr.KindCopyTradeIntent, nostr.KindExecutionReport:
		return r.handleEncryptedSignal(ev)
	default:
		return nil
	}
}

// handleAgentRegister upserts a bot from a plaintext registration
func (r *Router) handleAgentRegister(ev *nostr.Event) error {
	if r.subs == nil {
		return nil
	}

	var payload registerPayload
	if err := json.Unmarshal([]byte(ev.Content), &payload); err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("malformed agent registration")
		return nil
	}

	eth := firstNonEmpty(payload.EthAddress, payload.Account)
	if eth == "" {
		r.logger.Error().Str("event_id", ev.ID).Msg("agent registration missing eth address, dropping")
		return nil
	}

	botPubkey := firstNonEmpty(payload.BotPubkey, ev.PubKey)
	nostrPubkey := firstNonEmpty(payload.NostrPubkey, ev.PubKey)
	name := firstNonEmpty(payload.Name, "agent")

	if err := r.subs.RegisterBot(botPubkey, nostrPubkey, eth, name); err != nil {
		return fmt.Errorf("failed to register bot %s: %w", botPubkey, err)
	}

	r.logger.Info().Str("bot_pubkey", botPubkey).Str("eth_address", eth).Msg("bot registered from event")
	return nil
}

// handleEncryptedSignal decrypts, persists, and fans out a trade-bearing
// event
func (r *Router) handleEncryptedSignal(ev *nostr.Event) error {
	if r.subs == nil || r.keys == nil {
		return nil
	}

	// Our own re-publications come back from the relays; skip them
	if ev.PubKey == r.platformPubkey {
		r.logger.Debug().Str("event_id", ev.ID).Msg("skipping platform echo")
		return nil
	}

	plaintext, err := r.keys.DecryptNIP04(ev.PubKey, ev.Content)
	if err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to decrypt event")
		return nil
	}

	var payload signalPayload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("malformed signal payload")
		return nil
	}

	eth := payload.agentEth()
	if eth == "" {
		r.logger.Error().Str("event_id", ev.ID).Msg("signal missing agent eth address")
		return nil
	}

	bot, err := r.subs.FindBotByEth(eth)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Error().Str("eth_address", eth).Str("event_id", ev.ID).Msg("no bot registered for eth address")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve bot: %w", err)
	}

	if ev.Kind == nostr.KindTradeSignal {
		r.recordSignal(ev, bot, &payload, plaintext)
	}

	r.maybeRecordTrade(ev, bot.BotPubkey, &payload)

	followers, err := r.subs.ListSubscriptions(bot.BotPubkey)
	if err != nil {
		return fmt.Errorf("failed to list followers: %w", err)
	}
	if len(followers) == 0 {
		return nil
	}

	// Local push path (plaintext)
	if r.sink != nil {
		for _, follower := range followers {
			r.sink.TrySend(fanout.Message{
				TargetPubkey:    follower.FollowerPubkey,
				BotPubkey:       bot.BotPubkey,
				Kind:            ev.Kind,
				OriginalEventID: ev.ID,
				Payload:         plaintext,
			})
		}
	}

	// Bus path (re-encrypted per follower). The shared_secret column holds
	// the follower key the payload must be encrypted to.
	if r.publisher != nil {
		for _, follower := range followers {
			target := firstNonEmpty(follower.SharedSecret, follower.FollowerPubkey)
			if err := r.publisher.RepublishToFollower(ev.Kind, target, plaintext); err != nil {
				r.logger.Error().Err(err).
					Str("follower_pubkey", follower.FollowerPubkey).
					Str("event_id", ev.ID).
					Msg("republish to follower failed")
			}
		}
	}

	return nil
}

// recordSignal appends a TradeSignal to the audit log
func (r *Router) recordSignal(ev *nostr.Event, bot *store.Bot, payload *signalPayload, plaintext string) {
	signal := &store.SignalLog{
		EventID:         ev.ID,
		Kind:            ev.Kind,
		BotPubkey:       &bot.BotPubkey,
		LeaderPubkey:    ev.PubKey,
		FollowerPubkey:  optional(payload.follower()),
		AgentEthAddress: optional(payload.agentEth()),
		Role:            optional(payload.Role),
		Symbol:          optional(payload.Symbol),
		Side:            optional(payload.Side),
		Size:            payload.Size,
		Price:           payload.Price,
		Status:          optional(payload.Status),
		TxHash:          optional(payload.TxHash),
		PnL:             payload.PnL,
		PnLUSD:          payload.PnLUSD,
		RawContent:      plaintext,
		EventCreatedAt:  time.Unix(ev.CreatedAt, 0),
	}
	if err := r.subs.RecordSignal(signal); err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to record signal")
	}
}

// maybeRecordTrade persists trade metadata when the payload carries it
func (r *Router) maybeRecordTrade(ev *nostr.Event, botPubkey string, payload *signalPayload) {
	if payload.Symbol == "" || payload.Side == "" || payload.Size == nil || payload.Price == nil {
		return
	}

	oid := payload.orderID()
	txHash := optional(payload.TxHash)
	if oid == "" && txHash == nil {
		// Without an exchange order id or a chain hash the event id still
		// uniquely identifies the trade
		oid = ev.ID
	}

	role := payload.Role
	if role == "" {
		role = store.RoleLeader
	}

	insert := store.TradeInsert{
		BotPubkey:      botPubkey,
		FollowerPubkey: optional(payload.follower()),
		Role:           role,
		Symbol:         payload.Symbol,
		Side:           payload.Side,
		Size:           *payload.Size,
		Price:          *payload.Price,
		TxHash:         txHash,
		OID:            optional(oid),
		IsTest:         payload.TestMode,
	}
	if err := r.subs.RecordTradeTx(insert); err != nil {
		r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to record trade")
		return
	}

	if payload.Status != "" || payload.PnL != nil || payload.PnLUSD != nil {
		status := payload.Status
		if status == "" {
			status = store.TradeStatusPending
		}
		err := r.subs.UpdateTradeSettlement(txHash, optional(oid), status, payload.PnL, payload.PnLUSD)
		if err != nil {
			r.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to update trade settlement")
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
