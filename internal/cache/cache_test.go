package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClient_FailsSafe(t *testing.T) {
	ctx := context.Background()
	var c *Client

	data, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, data)

	data, err = c.GetDel(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, data)

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	stored, err := c.SetNX(ctx, "k", []byte("v"), time.Minute)
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(ctx))
}

func TestUnreachableRedis_BehavesLikeMiss(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nothing listens on port 1.
	c := New("127.0.0.1:1", "", 0)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	data, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, data)

	assert.Error(t, c.Ping(ctx))
}

func TestClient_AgainstRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0)
	defer c.Close()

	require.NoError(t, c.Ping(ctx))

	stored, err := c.SetNX(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = c.SetNX(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	require.NoError(t, c.Put(ctx, "k", []byte("third"), time.Minute))
	data, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "third", string(data))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	data, err = c.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "third", string(data))
	assert.False(t, mr.Exists("k"))
}

func TestClient_ReportsWriteErrors(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	mr.SetError("ERR redis unavailable")

	data, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, data)
	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	assert.Error(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	assert.Error(t, c.Delete(ctx, "k"))
	_, err = c.SetNX(ctx, "other", []byte("v"), time.Minute)
	assert.Error(t, err)
}
