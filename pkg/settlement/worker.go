package settlement

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/config"
	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
	"github.com/moltrade/relayer/pkg/store"
)

// TradeStore is the slice of the relational store the worker needs
type TradeStore interface {
	ListPendingTrades(limit int) ([]store.PendingTrade, error)
	UpdateTradeSettlement(txHash, oid *string, status string, pnl, pnlUSD *float64) error
	AwardCredits(botPubkey, followerPubkey string, delta float64) error
}

// verdict of one explorer probe
type verdict int

const (
	verdictUnknown verdict = iota
	verdictConfirmed
	verdictFailed
)

// Worker periodically reconciles pending trades against the chain explorer
// and awards credits on confirmation.
type Worker struct {
	trades     TradeStore
	client     *http.Client
	baseURL    string
	interval   time.Duration
	batchLimit int
	credit     *config.CreditConfig

	logger zerolog.Logger
}

// New creates a settlement worker
func New(trades TradeStore, baseURL string, interval time.Duration, batchLimit int, credit *config.CreditConfig) *Worker {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.Logger = nil
	// Hand back the last response once retries run out so a persistent 5xx
	// is seen as a status code, not a transport error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Worker{
		trades:     trades,
		client:     retryClient.StandardClient(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		interval:   interval,
		batchLimit: batchLimit,
		credit:     credit,
		logger:     log.WithComponent("settlement"),
	}
}

// Start launches the reconciliation loop. The worker has no shutdown
// hook: every effect is idempotent, so it simply dies with the process.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("interval", w.interval).
		Int("batch_limit", w.batchLimit).
		Bool("credits_enabled", w.credit != nil && w.credit.Enable).
		Msg("settlement worker started")

	for range ticker.C {
		if err := w.Tick(); err != nil {
			w.logger.Warn().Err(err).Msg("settlement tick failed")
		}
	}
}

// Tick runs one reconciliation cycle. Single-row failures are logged and do
// not stop the cycle.
func (w *Worker) Tick() error {
	defer metrics.SettlementTicks.Inc()

	trades, err := w.trades.ListPendingTrades(w.batchLimit)
	if err != nil {
		return fmt.Errorf("failed to list pending trades: %w", err)
	}
	if len(trades) == 0 {
		w.logger.Debug().Msg("no pending trades")
		return nil
	}

	for _, trade := range trades {
		if err := w.settle(trade); err != nil {
			w.logger.Error().Err(err).
				Str("bot_pubkey", trade.BotPubkey).
				Msg("failed to settle trade")
		}
	}
	return nil
}

func (w *Worker) settle(trade store.PendingTrade) error {
	// Trades without a chain hash are creditable immediately
	if trade.TxHash == nil {
		w.maybeAward(trade)
		return w.confirm(trade)
	}

	switch w.verifyTx(*trade.TxHash) {
	case verdictConfirmed:
		if err := w.confirm(trade); err != nil {
			return err
		}
		w.maybeAward(trade)
		w.logger.Info().Str("tx_hash", *trade.TxHash).Msg("trade confirmed")
	case verdictFailed:
		err := w.trades.UpdateTradeSettlement(trade.TxHash, trade.OID, store.TradeStatusFailed, nil, nil)
		if err != nil {
			return err
		}
		metrics.TradesSettled.WithLabelValues(store.TradeStatusFailed).Inc()
		w.logger.Warn().Str("tx_hash", *trade.TxHash).Msg("trade marked failed")
	case verdictUnknown:
		w.logger.Debug().Str("tx_hash", *trade.TxHash).Msg("tx not yet found")
	}
	return nil
}

func (w *Worker) confirm(trade store.PendingTrade) error {
	err := w.trades.UpdateTradeSettlement(trade.TxHash, trade.OID, store.TradeStatusConfirmed, nil, nil)
	if err != nil {
		return err
	}
	metrics.TradesSettled.WithLabelValues(store.TradeStatusConfirmed).Inc()
	return nil
}

// verifyTx probes the explorer: 200 means confirmed, 404 means not yet
// visible, anything else means the tx failed
func (w *Worker) verifyTx(txHash string) verdict {
	url := w.baseURL + "/" + txHash
	resp, err := w.client.Get(url)
	if err != nil {
		w.logger.Warn().Err(err).Str("tx_hash", txHash).Msg("explorer probe failed")
		return verdictUnknown
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return verdictConfirmed
	case resp.StatusCode == http.StatusNotFound:
		return verdictUnknown
	case resp.StatusCode >= 400:
		return verdictFailed
	default:
		return verdictUnknown
	}
}

// maybeAward applies the credit formula and records the award
func (w *Worker) maybeAward(trade store.PendingTrade) {
	credit, ok := w.computeCredit(trade)
	if !ok {
		return
	}

	recipient := trade.BotPubkey
	if trade.FollowerPubkey != nil && *trade.FollowerPubkey != "" {
		recipient = *trade.FollowerPubkey
	}

	if err := w.trades.AwardCredits(trade.BotPubkey, recipient, credit); err != nil {
		w.logger.Error().Err(err).
			Str("bot_pubkey", trade.BotPubkey).
			Str("recipient", recipient).
			Msg("failed to award credits")
		return
	}
	metrics.CreditsAwarded.Add(credit)
}

// computeCredit implements the award formula:
//
//	base   = size * price * rate(role)
//	credit = max(base, min_credit)
//	credit *= profit_multiplier when pnl_usd > 0
//	credit *= test_multiplier  when the trade is a test
//
// Awards only fire for finite positive results.
func (w *Worker) computeCredit(trade store.PendingTrade) (float64, bool) {
	if w.credit == nil || !w.credit.Enable {
		return 0, false
	}

	rate := w.credit.FollowerRate
	if trade.Role == store.RoleLeader {
		rate = w.credit.LeaderRate
	}

	credit := math.Max(trade.Size*trade.Price*rate, w.credit.MinCredit)
	if trade.PnLUSD != nil && *trade.PnLUSD > 0 {
		credit *= w.credit.ProfitMultiplier
	}
	if trade.IsTest {
		credit *= w.credit.TestMultiplier
	}

	if math.IsInf(credit, 0) || math.IsNaN(credit) || credit <= 0 {
		return 0, false
	}
	return credit, true
}
