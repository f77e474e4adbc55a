//go:build integration

package errorlog

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err, "get Redis endpoint")

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})
	require.NoError(t, client.Ping(ctx).Err(), "connect to Redis")

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisSink_Integration_Append(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	sink := NewRedisSink(client, "")

	assert.Equal(t, DefaultRedisKey, sink.Key())

	_, err := sink.Entries(ctx)
	require.ErrorIs(t, err, ErrNoEntries)

	batch1 := []Entry{{RunID: "r1", Page: 1, RecordedAt: time.Now().UTC(), UserErrors: []any{"bad value"}}}
	batch2 := []Entry{
		{RunID: "r1", Page: 2, RecordedAt: time.Now().UTC(), UserErrors: []any{"too long"}},
		{RunID: "r1", Page: 3, RecordedAt: time.Now().UTC(), UserErrors: []any{"missing"}},
	}

	require.NoError(t, sink.Append(ctx, batch1))
	require.NoError(t, sink.Append(ctx, batch2))

	length, err := client.LLen(ctx, DefaultRedisKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, length)

	entries, err := sink.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, want, entries[i].Page)
	}
}

func TestRedisSink_Integration_MultiSink(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	redisSink := NewRedisSink(client, "harvest:test:errors")
	fileSink := NewFileSink(t.TempDir() + "/error.log")

	sink := MultiSink{fileSink, redisSink}
	require.NoError(t, sink.Append(ctx, []Entry{{RunID: "r2", Page: 1}}))

	fromRedis, err := redisSink.Entries(ctx)
	require.NoError(t, err)
	fromFile, err := ReadFile(fileSink.Path())
	require.NoError(t, err)
	assert.Len(t, fromRedis, 1)
	assert.Len(t, fromFile, 1)
}
