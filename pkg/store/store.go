package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/moltrade/relayer/pkg/log"
)

// ErrNotFound is returned by lookups that find no matching row
var ErrNotFound = errors.New("not found")

// RotationPublisher publishes a platform key rotation notice to the bus.
// Implemented by the republisher; nil disables broadcasting.
type RotationPublisher interface {
	PublishKeyRotation(newPubkey, previousPubkey string) error
}

// Service wraps the pooled relational database holding bots, subscriptions,
// trades, credits, and the signal audit log.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New connects to Postgres, configures the pool, and migrates the schema
func New(dsn string, maxConnections int) (*Service, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if maxConnections <= 0 {
		maxConnections = 5
	}
	sqlDB.SetMaxOpenConns(maxConnections)
	sqlDB.SetMaxIdleConns(maxConnections)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewWithDB(db)
}

// NewWithDB builds a Service on an existing gorm connection and migrates the
// schema. Tests use this with an in-memory SQLite database.
func NewWithDB(db *gorm.DB) (*Service, error) {
	svc := &Service{
		db:     db,
		logger: log.WithComponent("store"),
	}
	if err := svc.migrate(); err != nil {
		return nil, err
	}
	return svc, nil
}

// migrate idempotently creates and evolves the schema
func (s *Service) migrate() error {
	err := s.db.AutoMigrate(
		&Bot{},
		&Subscription{},
		&TradeExecution{},
		&CreditBalance{},
		&SignalLog{},
		&PlatformState{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Columns added after the initial release; AutoMigrate covers them for
	// fresh databases, these cover pre-existing ones.
	migrator := s.db.Migrator()
	for _, col := range []string{"oid", "is_test"} {
		if !migrator.HasColumn(&TradeExecution{}, col) {
			if err := migrator.AddColumn(&TradeExecution{}, col); err != nil {
				return fmt.Errorf("failed to add trade_executions.%s: %w", col, err)
			}
		}
	}
	if !migrator.HasColumn(&Bot{}, "last_seen_at") {
		if err := migrator.AddColumn(&Bot{}, "last_seen_at"); err != nil {
			return fmt.Errorf("failed to add bots.last_seen_at: %w", err)
		}
	}

	return nil
}

// RegisterBot upserts a bot keyed by its pubkey
func (s *Service) RegisterBot(botPubkey, nostrPubkey, ethAddress, name string) error {
	bot := Bot{
		BotPubkey:   botPubkey,
		NostrPubkey: nostrPubkey,
		EthAddress:  ethAddress,
		Name:        name,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_pubkey"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "nostr_pubkey", "eth_address"}),
	}).Create(&bot).Error
	if err != nil {
		return fmt.Errorf("failed to upsert bot: %w", err)
	}
	return nil
}

// AddSubscription upserts a follower subscription for a bot
func (s *Service) AddSubscription(botPubkey, followerPubkey, sharedSecret string) error {
	sub := Subscription{
		BotPubkey:      botPubkey,
		FollowerPubkey: followerPubkey,
		SharedSecret:   sharedSecret,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_pubkey"}, {Name: "follower_pubkey"}},
		DoUpdates: clause.AssignmentColumns([]string{"shared_secret"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all followers of a bot
func (s *Service) ListSubscriptions(botPubkey string) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.Where("bot_pubkey = ?", botPubkey).Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return subs, nil
}

// FindBotByEth resolves a bot by its agent eth address
func (s *Service) FindBotByEth(ethAddress string) (*Bot, error) {
	var bot Bot
	err := s.db.Where("eth_address = ?", ethAddress).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bot by eth address: %w", err)
	}
	return &bot, nil
}

// BotExists reports whether a bot row exists
func (s *Service) BotExists(botPubkey string) (bool, error) {
	var count int64
	err := s.db.Model(&Bot{}).Where("bot_pubkey = ?", botPubkey).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query bot existence: %w", err)
	}
	return count > 0, nil
}

// UpdateBotLastSeen bumps the bot's heartbeat timestamp to now
func (s *Service) UpdateBotLastSeen(botPubkey string) error {
	err := s.db.Model(&Bot{}).
		Where("bot_pubkey = ?", botPubkey).
		Update("last_seen_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to update bot last_seen_at: %w", err)
	}
	return nil
}

// RecordSignal appends the decrypted signal to the audit log; replaying the
// same event id is silently ignored.
func (s *Service) RecordSignal(signal *SignalLog) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(signal).Error
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}
	return nil
}

// EnsurePlatformPubkey compares the advertised platform pubkey with the
// stored one; on change it upserts the singleton row and, when a publisher
// is supplied, broadcasts a key rotation notice carrying old and new keys.
func (s *Service) EnsurePlatformPubkey(current string, publisher RotationPublisher) error {
	var state PlatformState
	var previous string
	err := s.db.Where("id = ?", "platform").First(&state).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first boot, no previous key
	case err != nil:
		return fmt.Errorf("failed to query platform state: %w", err)
	default:
		previous = state.Pubkey
	}

	if previous == current {
		return nil
	}

	row := PlatformState{ID: "platform", Pubkey: current, UpdatedAt: time.Now()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"pubkey", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert platform state: %w", err)
	}

	if publisher == nil {
		s.logger.Warn().Msg("platform key changed but no publisher configured, skipping broadcast")
		return nil
	}
	if err := publisher.PublishKeyRotation(current, previous); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish platform key rotation")
	} else {
		s.logger.Info().Str("pubkey", current).Msg("published platform key rotation")
	}
	return nil
}
