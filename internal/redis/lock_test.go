package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_RejectsConcurrentHolder(t *testing.T) {
	l := NewLocalLocker()
	key := ClinicianKey(uuid.New())

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	err := l.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("second holder must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	require.NoError(t, <-done)

	// released after the first holder returns
	ran := false
	require.NoError(t, l.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), AppointmentKey(uuid.New()), func(ctx context.Context) error {
				ran.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ran.Load())
}

func TestLocalLocker_PropagatesError(t *testing.T) {
	l := NewLocalLocker()
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// the key is free again after a failing holder
	assert.NoError(t, l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil }))
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	// nothing listens on port 1
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := NewRedisLocker(rdb, time.Second)
	err := l.WithLock(context.Background(), ClinicianKey(uuid.New()), func(ctx context.Context) error {
		t.Fatal("must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}
