package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStreamRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishToStream_StringifiesValues(t *testing.T) {
	client := setupStreamRedis(t)
	ctx := context.Background()

	id, err := PublishToStream(ctx, client, "test:stream", map[string]interface{}{
		"name":   "road-1",
		"count":  3,
		"speed":  42.5,
		"active": true,
		"tags":   []string{"a", "b"},
	}, StreamOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "test:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "road-1", msgs[0].Values["name"])
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "42.5", msgs[0].Values["speed"])
	assert.Equal(t, "true", msgs[0].Values["active"])
	assert.Equal(t, `["a","b"]`, msgs[0].Values["tags"])
}

func TestPublishJSONToStream_WrapsData(t *testing.T) {
	client := setupStreamRedis(t)
	ctx := context.Background()

	_, err := PublishJSONToStream(ctx, client, "json:stream", map[string]string{"sensor_id": "road-7"}, StreamOptions{})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "json:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].Values["timestamp"])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "road-7", decoded["sensor_id"])
}

func TestPublishToStream_MaxLen(t *testing.T) {
	client := setupStreamRedis(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := PublishToStream(ctx, client, "capped:stream", map[string]interface{}{"i": i}, StreamOptions{MaxLen: 5})
		require.NoError(t, err)
	}

	n, err := client.XLen(ctx, "capped:stream").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(10))
	assert.GreaterOrEqual(t, n, int64(5))
}
