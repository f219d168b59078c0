package services

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr())
	require.NoError(t, err)

	assert.NoError(t, store.Set("hearth/entries/1", "a"))
	value, err := store.Get("hearth/entries/1")
	assert.NoError(t, err)
	assert.Equal(t, "a", value)

	_, err = store.Get("hearth/entries/2")
	assert.Error(t, err)

	assert.NoError(t, store.Set("hearth/entries/2", "b"))
	assert.NoError(t, store.Set("hearth/other", "c"))
	nodes, err := store.GetRecursive("hearth/entries")
	assert.NoError(t, err)
	assert.Len(t, nodes, 2)

	assert.NoError(t, store.Delete("hearth/entries/1"))
	_, err = store.Get("hearth/entries/1")
	assert.Error(t, err)

	assert.NoError(t, store.SetWithTTL("hearth/flows/abc", "x", 60))
	mr.FastForward(61 * time.Second)
	_, err = store.Get("hearth/flows/abc")
	assert.Error(t, err)
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1")
	assert.Error(t, err)
}
