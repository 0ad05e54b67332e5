package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) Store {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeSuite(t, newMemoryStore)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardbook.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	card := testCard("Persisted", base, "Uber Cash")
	require.NoError(t, s.CreateCard(ctx, card))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persisted", got.Nickname)
	assert.Len(t, got.Credits, 1)
}

func TestEncodeTimeSortsChronologically(t *testing.T) {
	a := encodeTime(base)
	b := encodeTime(base.Add(500_000_000))
	c := encodeTime(base.Add(1_000_000_000))
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	decoded, err := decodeTime(b)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(base.Add(500_000_000)))
}
