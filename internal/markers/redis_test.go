package markers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisDurableStorePrefix(t *testing.T) {
	s := NewRedisDurableStore(nil, " custom:prefix: ")
	assert.Equal(t, "custom:prefix:last-check-u", s.key(LastCheckKey("u")))

	s = NewRedisDurableStore(nil, "")
	assert.Equal(t, "plansync:marker:k", s.key("k"))
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

// Runs against a real server when PLANSYNC_TEST_REDIS_URL is set.
func TestRedisDurableStoreCRUD(t *testing.T) {
	redisURL := os.Getenv("PLANSYNC_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("PLANSYNC_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialRedis(ctx, redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisDurableStore(client, "plansync-test:"+uuid.NewString())
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v"))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
