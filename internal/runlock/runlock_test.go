package runlock

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	l, err := New(context.Background(), Options{
		URL:    "redis://" + mr.Addr(),
		TTL:    ttl,
		Logger: testLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() { l.Close() })

	return l, mr
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	l, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	assert.True(t, mr.Exists(DefaultKey))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKey))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(DefaultKey))

	// Free again.
	release, err = l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestAcquire_HeldElsewhere(t *testing.T) {
	t.Parallel()

	l, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	other := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Options{Logger: testLogger(t)})
	t.Cleanup(func() { other.Close() })

	release, err := other.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))

	_, err = l.Acquire(ctx)
	require.NoError(t, err)
}

func TestRelease_AfterExpiryDoesNotStealLease(t *testing.T) {
	t.Parallel()

	l, mr := newTestLocker(t, time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(DefaultKey))

	// Another host takes the lease in the meantime.
	releaseOther, err := l.Acquire(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, release(ctx), ErrLost)
	assert.True(t, mr.Exists(DefaultKey), "the new holder keeps its lease")

	require.NoError(t, releaseOther(ctx))
}

func TestNew_CustomKeyAndDefaults(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	l, err := New(context.Background(), Options{URL: "redis://" + mr.Addr(), Key: "custom"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	assert.Equal(t, "custom", l.key)
	assert.Equal(t, DefaultTTL, l.ttl)

	_, err = l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("custom"))
}

func TestNew_BadURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{URL: "not-a-url://x"})
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	release, err := Noop{}.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}
