package secretstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := s.Load(ctx, RootCAKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Store(ctx, RootCAKey, []byte("ca-keypair-bytes")))

	got, ok, err := s.Load(ctx, RootCAKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ca-keypair-bytes"), got)
}

func TestFileStoreDistinctKeysDoNotCollide(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "key-a", []byte("a")))
	require.NoError(t, s.Store(ctx, "key-b", []byte("b")))

	got, _, err := s.Load(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	got, _, err = s.Load(ctx, "key-b")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestFileStoreOverwritePersistsLatestValue(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k", []byte("first")))
	require.NoError(t, s.Store(ctx, "k", []byte("second")))

	got, _, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestNewFileStoreCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/secrets"
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir)
}
