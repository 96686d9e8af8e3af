package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	svc, err := NewWithDB(db)
	require.NoError(t, err)
	return svc
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestRegisterBotUpsert(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.RegisterBot("B", "npub1", "0xA", "alpha"))
	require.NoError(t, svc.RegisterBot("B", "npub2", "0xB", "beta"))

	bot, err := svc.FindBotByEth("0xB")
	require.NoError(t, err)
	assert.Equal(t, "B", bot.BotPubkey)
	assert.Equal(t, "npub2", bot.NostrPubkey)
	assert.Equal(t, "beta", bot.Name)

	// The old eth address no longer resolves
	_, err = svc.FindBotByEth("0xA")
	assert.ErrorIs(t, err, ErrNotFound)

	var count int64
	svc.db.Model(&Bot{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSubscriptionUpsertReplacesSecret(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	require.NoError(t, svc.AddSubscription("B", "F", "key-one"))
	require.NoError(t, svc.AddSubscription("B", "F", "key-two"))
	require.NoError(t, svc.AddSubscription("B", "G", "key-g"))

	subs, err := svc.ListSubscriptions("B")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	byFollower := map[string]string{}
	for _, sub := range subs {
		byFollower[sub.FollowerPubkey] = sub.SharedSecret
	}
	assert.Equal(t, "key-two", byFollower["F"], "upsert must replace shared_secret")
	assert.Equal(t, "key-g", byFollower["G"])
}

func TestUpdateBotLastSeen(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	var before Bot
	require.NoError(t, svc.db.First(&before, "bot_pubkey = ?", "B").Error)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.UpdateBotLastSeen("B"))

	var after Bot
	require.NoError(t, svc.db.First(&after, "bot_pubkey = ?", "B").Error)
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt))
}

func TestRecordTradeConflictIgnored(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	insert := TradeInsert{
		BotPubkey: "B",
		Role:      RoleLeader,
		Symbol:    "BTC",
		Side:      "buy",
		Size:      1,
		Price:     100,
		TxHash:    strPtr("0xdead"),
	}
	require.NoError(t, svc.RecordTradeTx(insert))
	require.NoError(t, svc.RecordTradeTx(insert))

	var count int64
	svc.db.Model(&TradeExecution{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestRecordTradeRequiresKey(t *testing.T) {
	svc := newTestService(t)
	err := svc.RecordTradeTx(TradeInsert{BotPubkey: "B", Symbol: "BTC", Side: "buy"})
	assert.Error(t, err)
}

func TestUpdateTradeSettlementCoalesce(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	require.NoError(t, svc.RecordTradeTx(TradeInsert{
		BotPubkey: "B", Role: RoleLeader, Symbol: "BTC", Side: "buy",
		Size: 1, Price: 100, TxHash: strPtr("0xdead"),
	}))

	// First settlement carries PnL
	require.NoError(t, svc.UpdateTradeSettlement(strPtr("0xdead"), nil, TradeStatusConfirmed, f64Ptr(1.5), f64Ptr(150)))

	// Second update with nil PnL must preserve the stored values
	require.NoError(t, svc.UpdateTradeSettlement(strPtr("0xdead"), nil, TradeStatusConfirmed, nil, nil))

	var row TradeExecution
	require.NoError(t, svc.db.First(&row, "tx_hash = ?", "0xdead").Error)
	assert.Equal(t, TradeStatusConfirmed, row.Status)
	require.NotNil(t, row.PnL)
	assert.InDelta(t, 1.5, *row.PnL, 1e-9)
	require.NotNil(t, row.PnLUSD)
	assert.InDelta(t, 150, *row.PnLUSD, 1e-9)
}

func TestUpdateTradeSettlementByOID(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))
	require.NoError(t, svc.RecordTradeTx(TradeInsert{
		BotPubkey: "B", Role: RoleLeader, Symbol: "ETH", Side: "sell",
		Size: 2, Price: 50, OID: strPtr("order-7"),
	}))

	require.NoError(t, svc.UpdateTradeSettlement(nil, strPtr("order-7"), TradeStatusFailed, nil, nil))

	var row TradeExecution
	require.NoError(t, svc.db.First(&row, "oid = ?", "order-7").Error)
	assert.Equal(t, TradeStatusFailed, row.Status)

	// Neither key: a no-op, not an error
	require.NoError(t, svc.UpdateTradeSettlement(nil, nil, TradeStatusConfirmed, nil, nil))
}

func TestListPendingTradesOldestFirst(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	for i, tx := range []string{"0x1", "0x2", "0x3"} {
		tx := tx
		require.NoError(t, svc.RecordTradeTx(TradeInsert{
			BotPubkey: "B", Role: RoleLeader, Symbol: "BTC", Side: "buy",
			Size: float64(i + 1), Price: 100, TxHash: &tx,
		}))
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, svc.UpdateTradeSettlement(strPtr("0x2"), nil, TradeStatusConfirmed, nil, nil))

	pending, err := svc.ListPendingTrades(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "0x1", *pending[0].TxHash)
	assert.Equal(t, "0x3", *pending[1].TxHash)

	limited, err := svc.ListPendingTrades(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "0x1", *limited[0].TxHash)
}

func TestAwardCreditsAccumulates(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	require.NoError(t, svc.AwardCredits("B", "F", 0.5))
	require.NoError(t, svc.AwardCredits("B", "F", 0.6))
	require.NoError(t, svc.AwardCredits("B", "G", 5))

	rows, err := svc.ListCredits("B", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Highest balance first
	assert.Equal(t, "G", rows[0].FollowerPubkey)
	assert.InDelta(t, 5, rows[0].Credits, 1e-9)
	assert.Equal(t, "F", rows[1].FollowerPubkey)
	assert.InDelta(t, 1.1, rows[1].Credits, 1e-9)

	filtered, err := svc.ListCredits("B", "F")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestRecordSignalIdempotent(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterBot("B", "npub", "0xA", "bot"))

	signal := &SignalLog{
		EventID:        "evt-1",
		Kind:           30931,
		LeaderPubkey:   "npub",
		RawContent:     `{"symbol":"BTC"}`,
		EventCreatedAt: time.Now(),
	}
	require.NoError(t, svc.RecordSignal(signal))

	replay := *signal
	replay.ID = 0
	require.NoError(t, svc.RecordSignal(&replay))

	var count int64
	svc.db.Model(&SignalLog{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

type fakeRotationPublisher struct {
	calls [][2]string // new, previous
}

func (f *fakeRotationPublisher) PublishKeyRotation(newPubkey, previousPubkey string) error {
	f.calls = append(f.calls, [2]string{newPubkey, previousPubkey})
	return nil
}

func TestEnsurePlatformPubkeyRotation(t *testing.T) {
	svc := newTestService(t)
	pub := &fakeRotationPublisher{}

	// First boot: stores the key, publishes with empty previous
	require.NoError(t, svc.EnsurePlatformPubkey("OLD", pub))
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "OLD", pub.calls[0][0])
	assert.Equal(t, "", pub.calls[0][1])

	// Same key: nothing happens
	require.NoError(t, svc.EnsurePlatformPubkey("OLD", pub))
	assert.Len(t, pub.calls, 1)

	// Rotation: upsert and broadcast old -> new
	require.NoError(t, svc.EnsurePlatformPubkey("NEW", pub))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, "NEW", pub.calls[1][0])
	assert.Equal(t, "OLD", pub.calls[1][1])

	var state PlatformState
	require.NoError(t, svc.db.First(&state, "id = ?", "platform").Error)
	assert.Equal(t, "NEW", state.Pubkey)

	// No publisher configured: state still updates
	require.NoError(t, svc.EnsurePlatformPubkey("NEWER", nil))
	require.NoError(t, svc.db.First(&state, "id = ?", "platform").Error)
	assert.Equal(t, "NEWER", state.Pubkey)
}
