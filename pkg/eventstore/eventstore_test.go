package eventstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(hash string) *Event {
	return &Event{
		Hash:               hash,
		ContentHash:        "content-" + hash,
		Payload:            `{"type":"CREATE_RELEASE_BUNDLE"}`,
		BlockNum:           1234,
		BlockID:            "block-1",
		TrxID:              "trx-1",
		ActionOrdinal:      2,
		Timestamp:          1700000000,
		Source:             "chain",
		ContractAccount:    "discograph",
		ActionName:         "put",
		BlockchainVerified: true,
		ReceivedAt:         time.Unix(1700000001, 0).UTC(),
	}
}

func runStoreContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, err := st.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.Put(ctx, &Event{})
	assert.ErrorIs(t, err, ErrMissingHash)

	ev := sampleEvent("h1")
	require.NoError(t, st.Put(ctx, ev))

	got, err := st.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, ev.ContentHash, got.ContentHash)
	assert.Equal(t, ev.Payload, got.Payload)
	assert.Equal(t, ev.BlockNum, got.BlockNum)
	assert.True(t, got.BlockchainVerified)
	assert.False(t, got.Processed)

	// Put is idempotent: a second write does not clobber markers.
	require.NoError(t, st.MarkProcessed(ctx, "h1", true))
	require.NoError(t, st.Put(ctx, sampleEvent("h1")))
	got, err = st.Get(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.True(t, got.Projected)

	require.NoError(t, st.MarkFailed(ctx, "h1", "boom"))
	got, err = st.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Failure)

	// Reprocessing clears the failure marker.
	require.NoError(t, st.MarkProcessed(ctx, "h1", false))
	got, err = st.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, got.Failure)
	assert.False(t, got.Projected)

	assert.ErrorIs(t, st.MarkProcessed(ctx, "missing", true), ErrNotFound)
	assert.ErrorIs(t, st.MarkFailed(ctx, "missing", "x"), ErrNotFound)

	_, err = st.GetByContentHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	byContent, err := st.GetByContentHash(ctx, "content-h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", byContent.Hash)
	assert.True(t, byContent.Processed)

	// A resubmission with different block metadata stores under a new
	// event hash but shares the content hash; the earliest event wins.
	resub := sampleEvent("h1-resub")
	resub.ContentHash = "content-h1"
	resub.BlockNum = 5678
	resub.ReceivedAt = time.Unix(1700000005, 0).UTC()
	require.NoError(t, st.Put(ctx, resub))

	byContent, err = st.GetByContentHash(ctx, "content-h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", byContent.Hash)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	st, err := NewSQLite(db)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	runStoreContract(t, st)
}

func TestMemoryStore_CopiesOnReturn(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, sampleEvent("h2")))

	got, err := st.Get(ctx, "h2")
	require.NoError(t, err)
	got.Payload = "mutated"

	again, err := st.Get(ctx, "h2")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Payload)
}
