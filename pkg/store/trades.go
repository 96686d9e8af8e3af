package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeInsert carries the fields of a new trade row. TxHash and OID are
// optional but at least one must be set.
type TradeInsert struct {
	BotPubkey      string
	FollowerPubkey *string
	Role           string
	Symbol         string
	Side           string
	Size           float64
	Price          float64
	TxHash         *string
	OID            *string
	IsTest         bool
}

// RecordTradeTx inserts a trade execution; a conflict on tx_hash or oid is
// silently ignored so replays are idempotent.
func (s *Service) RecordTradeTx(t TradeInsert) error {
	if t.TxHash == nil && t.OID == nil {
		return fmt.Errorf("trade requires tx_hash or oid")
	}
	if t.Role == "" {
		t.Role = RoleLeader
	}

	row := TradeExecution{
		BotPubkey:      t.BotPubkey,
		FollowerPubkey: t.FollowerPubkey,
		Role:           t.Role,
		Symbol:         t.Symbol,
		Side:           t.Side,
		Size:           t.Size,
		Price:          t.Price,
		TxHash:         t.TxHash,
		OID:            t.OID,
		Status:         TradeStatusPending,
		IsTest:         t.IsTest,
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// UpdateTradeSettlement transitions the trade matched by tx_hash or oid,
// preserving existing PnL values when the new ones are nil. A call with
// neither key is a no-op.
func (s *Service) UpdateTradeSettlement(txHash, oid *string, status string, pnl, pnlUSD *float64) error {
	if txHash == nil && oid == nil {
		return nil
	}

	q := s.db.Model(&TradeExecution{})
	switch {
	case txHash != nil && oid != nil:
		q = q.Where("tx_hash = ? OR oid = ?", *txHash, *oid)
	case txHash != nil:
		q = q.Where("tx_hash = ?", *txHash)
	default:
		q = q.Where("oid = ?", *oid)
	}

	err := q.Updates(map[string]interface{}{
		"status":     status,
		"pnl":        gorm.Expr("COALESCE(?, pnl)", pnl),
		"pnl_usd":    gorm.Expr("COALESCE(?, pnl_usd)", pnlUSD),
		"updated_at": time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update trade settlement: %w", err)
	}
	return nil
}

// ListPendingTrades returns up to limit pending trades, oldest first
func (s *Service) ListPendingTrades(limit int) ([]PendingTrade, error) {
	var rows []TradeExecution
	err := s.db.Where("status = ?", TradeStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending trades: %w", err)
	}

	pending := make([]PendingTrade, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, PendingTrade{
			TxHash:         row.TxHash,
			OID:            row.OID,
			BotPubkey:      row.BotPubkey,
			FollowerPubkey: row.FollowerPubkey,
			Role:           row.Role,
			Size:           row.Size,
			Price:          row.Price,
			PnLUSD:         row.PnLUSD,
			IsTest:         row.IsTest,
		})
	}
	return pending, nil
}

// AwardCredits adds delta to the (bot, follower) balance, creating the row
// when absent
func (s *Service) AwardCredits(botPubkey, followerPubkey string, delta float64) error {
	row := CreditBalance{
		BotPubkey:      botPubkey,
		FollowerPubkey: followerPubkey,
		Credits:        delta,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bot_pubkey"}, {Name: "follower_pubkey"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"credits":    gorm.Expr("credits.credits + excluded.credits"),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to award credits: %w", err)
	}
	return nil
}

// ListCredits returns balances, optionally filtered, highest first
func (s *Service) ListCredits(botPubkey, followerPubkey string) ([]CreditBalance, error) {
	q := s.db.Model(&CreditBalance{})
	if botPubkey != "" {
		q = q.Where("bot_pubkey = ?", botPubkey)
	}
	if followerPubkey != "" {
		q = q.Where("follower_pubkey = ?", followerPubkey)
	}

	var rows []CreditBalance
	if err := q.Order("credits DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	return rows, nil
}
