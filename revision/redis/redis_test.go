package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	revredis "github.com/xraph/entitle/revision/redis"
)

func newCounter(t *testing.T) (*revredis.Counter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return revredis.New(client), mr
}

func TestBumpAndGet(t *testing.T) {
	ctx := context.Background()
	c, mr := newCounter(t)

	rev, err := c.Get(ctx, "account:a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	require.NoError(t, c.Bump(ctx, "account:a", "license:l"))
	require.NoError(t, c.Bump(ctx, "account:a"))

	rev, err = c.Get(ctx, "account:a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	raw, err := mr.Get("entitle:rev:license:l")
	require.NoError(t, err)
	assert.Equal(t, "1", raw)
}

func TestSubscribeReceivesBumps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newCounter(t)

	bumps, err := c.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Bump(ctx, "account:a"))

	select {
	case b := <-bumps:
		assert.Equal(t, "account:a", b.Key)
		assert.Equal(t, int64(1), b.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("no bump received")
	}
}
