package store

import "time"

// Trade statuses
const (
	TradeStatusPending   = "pending"
	TradeStatusConfirmed = "confirmed"
	TradeStatusFailed    = "failed"
)

// Trade roles
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// Bot is a registered trading bot (leader). The eth address is the join key
// used to resolve decrypted signals back to a bot.
type Bot struct {
	BotPubkey   string    `gorm:"column:bot_pubkey;primaryKey" json:"bot_pubkey"`
	NostrPubkey string    `gorm:"column:nostr_pubkey;not null" json:"nostr_pubkey"`
	EthAddress  string    `gorm:"column:eth_address;not null;uniqueIndex" json:"eth_address"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoCreateTime" json:"last_seen_at"`
}

func (Bot) TableName() string { return "bots" }

// Subscription links a follower to a bot. SharedSecret keeps its historical
// column name but holds the follower public key used as the re-encryption
// target.
type Subscription struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BotPubkey      string    `gorm:"column:bot_pubkey;not null;uniqueIndex:idx_sub_pair" json:"bot_pubkey"`
	FollowerPubkey string    `gorm:"column:follower_pubkey;not null;uniqueIndex:idx_sub_pair" json:"follower_pubkey"`
	SharedSecret   string    `gorm:"column:shared_secret;not null" json:"shared_secret"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// TradeExecution is one recorded trade. At least one of TxHash and OID is
// present; both carry unique indexes so replays collapse into no-ops.
type TradeExecution struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BotPubkey      string    `gorm:"column:bot_pubkey;not null;index" json:"bot_pubkey"`
	FollowerPubkey *string   `gorm:"column:follower_pubkey" json:"follower_pubkey,omitempty"`
	Role           string    `gorm:"column:role;not null" json:"role"`
	Symbol         string    `gorm:"column:symbol;not null" json:"symbol"`
	Side           string    `gorm:"column:side;not null" json:"side"`
	Size           float64   `gorm:"column:size;not null" json:"size"`
	Price          float64   `gorm:"column:price;not null" json:"price"`
	TxHash         *string   `gorm:"column:tx_hash;uniqueIndex" json:"tx_hash,omitempty"`
	OID            *string   `gorm:"column:oid;uniqueIndex" json:"oid,omitempty"`
	Status         string    `gorm:"column:status;not null;default:pending" json:"status"`
	PnL            *float64  `gorm:"column:pnl" json:"pnl,omitempty"`
	PnLUSD         *float64  `gorm:"column:pnl_usd" json:"pnl_usd,omitempty"`
	IsTest         bool      `gorm:"column:is_test;not null;default:false" json:"is_test"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TradeExecution) TableName() string { return "trade_executions" }

// CreditBalance accumulates awarded credits per (bot, follower) pair
type CreditBalance struct {
	BotPubkey      string    `gorm:"column:bot_pubkey;primaryKey" json:"bot_pubkey"`
	FollowerPubkey string    `gorm:"column:follower_pubkey;primaryKey" json:"follower_pubkey"`
	Credits        float64   `gorm:"column:credits;not null;default:0" json:"credits"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credits" }

// SignalLog is the append-only audit record of every decrypted trade signal
type SignalLog struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	EventID         string    `gorm:"column:event_id;not null;uniqueIndex" json:"event_id"`
	Kind            int       `gorm:"column:kind;not null" json:"kind"`
	BotPubkey       *string   `gorm:"column:bot_pubkey" json:"bot_pubkey,omitempty"`
	LeaderPubkey    string    `gorm:"column:leader_pubkey;not null" json:"leader_pubkey"`
	FollowerPubkey  *string   `gorm:"column:follower_pubkey" json:"follower_pubkey,omitempty"`
	AgentEthAddress *string   `gorm:"column:agent_eth_address" json:"agent_eth_address,omitempty"`
	Role            *string   `gorm:"column:role" json:"role,omitempty"`
	Symbol          *string   `gorm:"column:symbol" json:"symbol,omitempty"`
	Side            *string   `gorm:"column:side" json:"side,omitempty"`
	Size            *float64  `gorm:"column:size" json:"size,omitempty"`
	Price           *float64  `gorm:"column:price" json:"price,omitempty"`
	Status          *string   `gorm:"column:status" json:"status,omitempty"`
	TxHash          *string   `gorm:"column:tx_hash" json:"tx_hash,omitempty"`
	PnL             *float64  `gorm:"column:pnl" json:"pnl,omitempty"`
	PnLUSD          *float64  `gorm:"column:pnl_usd" json:"pnl_usd,omitempty"`
	RawContent      string    `gorm:"column:raw_content;not null" json:"raw_content"`
	EventCreatedAt  time.Time `gorm:"column:event_created_at;not null" json:"event_created_at"`
	InsertedAt      time.Time `gorm:"column:inserted_at;autoCreateTime" json:"inserted_at"`
}

func (SignalLog) TableName() string { return "signals" }

// PlatformState is a singleton row tracking the advertised platform pubkey
type PlatformState struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Pubkey    string    `gorm:"column:pubkey;not null" json:"pubkey"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PlatformState) TableName() string { return "platform_state" }

// PendingTrade is the settlement worker's view of a pending row
type PendingTrade struct {
	TxHash         *string
	OID            *string
	BotPubkey      string
	FollowerPubkey *string
	Role           string
	Size           float64
	Price          float64
	PnLUSD         *float64
	IsTest         bool
}
