package kvstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testID(n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("event-%d", n)))
	return hex.EncodeToString(sum[:])
}

func TestPutAndContains(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	id := testID(1)

	found, err := store.ContainsEvent(id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.PutEvent(id))

	found, err = store.ContainsEvent(id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestForwardIndexNewestFirst(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendForward(testID(i)))
	}

	ids, err := store.IterateForwardDesc(3)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, testID(9), ids[0])
	assert.Equal(t, testID(8), ids[1])
	assert.Equal(t, testID(7), ids[2])
}

func TestForwardIndexLimitExceedsEntries(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendForward(testID(0)))

	ids, err := store.IterateForwardDesc(100)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestApproximateEventCount(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.PutEvent(testID(i)))
	}
	// Duplicate put must not inflate the count
	require.NoError(t, store.PutEvent(testID(0)))

	count, err := store.ApproximateEventCount()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutEvent(testID(42)))
	require.NoError(t, store.AppendForward(testID(42)))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	found, err := store.ContainsEvent(testID(42))
	require.NoError(t, err)
	assert.True(t, found)

	ids, err := store.IterateForwardDesc(10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, testID(42), ids[0])
}
