package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SetWithTTL(ctx, "room:A", time.Hour, []byte("one")))

	got, err := s.Get(ctx, "room:A")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, s.Delete(ctx, "room:A"))
	_, err = s.Get(ctx, "room:A")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	// deleting an absent key is fine
	assert.NoError(t, s.Delete(ctx, "room:A"))
}

func TestMemoryStore_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v := []byte("abc")
	require.NoError(t, s.SetWithTTL(ctx, "k", time.Hour, v))
	v[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStoreWithClock(clock.Now)

	require.NoError(t, s.SetWithTTL(ctx, "room:A", time.Minute, []byte("a")))
	require.NoError(t, s.SetWithTTL(ctx, "room:B", time.Hour, []byte("b")))

	clock.Advance(2 * time.Minute)

	_, err := s.Get(ctx, "room:A")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	keys, err := s.ListKeys(ctx, "room:")
	require.NoError(t, err)
	assert.Equal(t, []string{"room:B"}, keys)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestMemoryStore_RefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStoreWithClock(clock.Now)

	require.NoError(t, s.SetWithTTL(ctx, "room:A", time.Minute, []byte("a")))
	clock.Advance(50 * time.Second)
	require.NoError(t, s.SetWithTTL(ctx, "room:A", time.Minute, []byte("a2")))
	clock.Advance(50 * time.Second)

	got, err := s.Get(ctx, "room:A")
	require.NoError(t, err)
	assert.Equal(t, "a2", string(got))
}

func TestMemoryStore_ListKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"room:B", "room:A", "game:A", "player-index:p1"} {
		require.NoError(t, s.SetWithTTL(ctx, k, time.Hour, []byte("x")))
	}

	keys, err := s.ListKeys(ctx, "room:")
	require.NoError(t, err)
	assert.Equal(t, []string{"room:A", "room:B"}, keys)
}
