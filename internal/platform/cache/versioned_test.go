package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "refdata", ttl), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return []string{"USD", "EUR"}, nil
	}

	for i := 0; i < 3; i++ {
		key, err := c.BuildKey(ctx, "currencies")
		require.NoError(t, err)
		var got []string
		require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
		assert.Equal(t, []string{"USD", "EUR"}, got)
	}
	assert.Equal(t, 1, loads)

	before, err := c.BuildKey(ctx, "currencies")
	require.NoError(t, err)
	require.NoError(t, c.Bump(ctx))
	after, err := c.BuildKey(ctx, "currencies")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	var got []string
	require.NoError(t, c.FetchJSON(ctx, after, &got, loader))
	assert.Equal(t, 2, loads)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "units")
	require.NoError(t, err)

	var got []string
	err = c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) {
		return nil, errors.New("upstream down")
	})
	require.Error(t, err)
	assert.False(t, mr.Exists(key))
}

func TestBytesExpireWithTTL(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := c.Key("abc")
	assert.Equal(t, "refdata:abc", key)

	require.NoError(t, c.PutBytes(ctx, key, []byte("payload")))
	got, err := c.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	mr.FastForward(2 * time.Hour)
	_, err = c.GetBytes(ctx, key)
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestNilClientDisablesCaching(t *testing.T) {
	c := NewVersioned(nil, "refdata", time.Minute)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "zones")
	require.NoError(t, err)
	assert.Equal(t, "refdata:zones", key)

	loads := 0
	var got int
	for i := 0; i < 2; i++ {
		require.NoError(t, c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) {
			loads++
			return 7, nil
		}))
	}
	assert.Equal(t, 2, loads)
	assert.Equal(t, 7, got)
	assert.Error(t, c.PutBytes(ctx, key, nil))
}
