package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

func TestLocal_SerializesSamePair(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "pair-1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.held(), "idle slots are dropped")
}

func TestLocal_DifferentPairsDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, l.held())
}

// TestRedis_Lock runs against a real server when MINTMAKER_TEST_REDIS is set.
func TestRedis_Lock(t *testing.T) {
	addr := os.Getenv("MINTMAKER_TEST_REDIS")
	if addr == "" {
		t.Skip("MINTMAKER_TEST_REDIS not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr, TTL: 5 * time.Second})
	require.NoError(t, err)
	defer r.Close()

	pairID := "test-" + time.Now().Format("150405.000000")
	unlock, err := r.TryLock(ctx, pairID)
	require.NoError(t, err)

	_, err = r.TryLock(ctx, pairID)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock2, err := r.Lock(ctx, pairID)
	require.NoError(t, err)
	unlock2()
}
