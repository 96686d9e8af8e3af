package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltrade/relayer/pkg/kvstore"
)

func testID(n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("dedup-%d", n)))
	return hex.EncodeToString(sum[:])
}

func newTestEngine(t *testing.T, dir string) (*Engine, *kvstore.Store) {
	t.Helper()
	kv, err := kvstore.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	engine, err := NewEngineWithParams(kv, 100, 10000, 1000)
	require.NoError(t, err)
	return engine, kv
}

func TestAtMostOnce(t *testing.T) {
	engine, _ := newTestEngine(t, t.TempDir())

	id := testID(1)
	assert.False(t, engine.IsDuplicate(id), "unseen id must not be a duplicate")

	// Observed but not forwarded: still eligible
	assert.False(t, engine.IsDuplicate(id))

	engine.RecordForwarded(id)
	assert.True(t, engine.IsDuplicate(id), "forwarded id must be a duplicate")
}

func TestWarmStartAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	kv, err := kvstore.Open(dir)
	require.NoError(t, err)
	engine, err := NewEngineWithParams(kv, 100, 10000, 1000)
	require.NoError(t, err)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = testID(i)
		engine.RecordForwarded(ids[i])
	}
	require.NoError(t, kv.Close())

	// Restart against the same directory
	kv, err = kvstore.Open(dir)
	require.NoError(t, err)
	defer kv.Close()
	engine, err = NewEngineWithParams(kv, 100, 10000, 1000)
	require.NoError(t, err)
	engine.WarmFromStore(100)

	for _, id := range ids {
		assert.True(t, engine.IsDuplicate(id), "id %s must survive restart", id)
	}
	assert.False(t, engine.IsDuplicate(testID(999)))
}

func TestColdLookupWithoutWarmStartSkipsKV(t *testing.T) {
	dir := t.TempDir()

	kv, err := kvstore.Open(dir)
	require.NoError(t, err)
	engine, err := NewEngineWithParams(kv, 100, 10000, 1000)
	require.NoError(t, err)
	id := testID(7)
	engine.RecordForwarded(id)
	require.NoError(t, kv.Close())

	// Fresh engine without warm start: only the KV tier knows the id, but
	// the bloom filter is empty so the lookup short-circuits to "new".
	// Warm start is what restores the bloom tier; this documents why it is
	// mandatory after a restart.
	kv, err = kvstore.Open(dir)
	require.NoError(t, err)
	defer kv.Close()
	engine, err = NewEngineWithParams(kv, 100, 10000, 1000)
	require.NoError(t, err)

	assert.False(t, engine.IsDuplicate(id))

	engine.WarmFromStore(10)
	assert.True(t, engine.IsDuplicate(id))
}

func TestHotSetFIFOEviction(t *testing.T) {
	hs := newHotSet(3)

	hs.add("a")
	hs.add("b")
	hs.add("c")
	assert.True(t, hs.contains("a"))

	hs.add("d")
	assert.False(t, hs.contains("a"), "oldest entry must be evicted first")
	assert.True(t, hs.contains("b"))
	assert.True(t, hs.contains("d"))
	assert.Equal(t, 3, hs.len())

	// Re-adding an existing id must not grow the set
	hs.add("d")
	assert.Equal(t, 3, hs.len())
}

func TestStats(t *testing.T) {
	engine, _ := newTestEngine(t, t.TempDir())

	for i := 0; i < 10; i++ {
		engine.RecordForwarded(testID(i))
	}

	stats := engine.GetStats()
	assert.Equal(t, 10, stats.HotSetSize)
	assert.Equal(t, 10, stats.LRUSize)
	assert.Equal(t, 10, stats.KVEntryCount)
	assert.Greater(t, stats.BloomSize, uint32(0))
}
