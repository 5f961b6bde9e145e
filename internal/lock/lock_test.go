package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
)

type CycleLockSuite struct {
	suite.Suite
	newLock func() CycleLock
	lock    CycleLock
}

func (s *CycleLockSuite) SetupTest() {
	s.lock = s.newLock()
}

func (s *CycleLockSuite) TestLiveRunIsExclusive() {
	ctx := context.Background()

	release, err := s.lock.Acquire(ctx, false)
	s.Require().NoError(err)

	_, err = s.lock.Acquire(ctx, false)
	s.True(ierr.IsCycleAlreadyRunning(err))

	_, err = s.lock.Acquire(ctx, true)
	s.True(ierr.IsCycleAlreadyRunning(err))

	status, err := s.lock.Status(ctx)
	s.Require().NoError(err)
	s.Equal(Status{Live: true}, status)

	release()
	release()

	status, err = s.lock.Status(ctx)
	s.Require().NoError(err)
	s.Equal(Status{}, status)

	release, err = s.lock.Acquire(ctx, false)
	s.Require().NoError(err)
	release()
}

func (s *CycleLockSuite) TestDryRunsShareButBlockLive() {
	ctx := context.Background()

	releaseA, err := s.lock.Acquire(ctx, true)
	s.Require().NoError(err)
	releaseB, err := s.lock.Acquire(ctx, true)
	s.Require().NoError(err)

	_, err = s.lock.Acquire(ctx, false)
	s.True(ierr.IsCycleAlreadyRunning(err))

	status, err := s.lock.Status(ctx)
	s.Require().NoError(err)
	s.False(status.Live)
	s.Equal(2, status.DryRuns)

	releaseA()
	_, err = s.lock.Acquire(ctx, false)
	s.True(ierr.IsCycleAlreadyRunning(err))

	status, err = s.lock.Status(ctx)
	s.Require().NoError(err)
	s.Equal(Status{DryRuns: 1}, status)

	releaseB()
	release, err := s.lock.Acquire(ctx, false)
	s.Require().NoError(err)
	release()
}

func (s *CycleLockSuite) TestConcurrentLiveRunsOnlyOneWins() {
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		acquired atomic.Int32
		rejected atomic.Int32
		releases = make(chan func(), 10)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := s.lock.Acquire(ctx, false)
			if err != nil {
				if ierr.IsCycleAlreadyRunning(err) {
					rejected.Add(1)
				}
				return
			}
			acquired.Add(1)
			releases <- release
		}()
	}
	close(start)
	wg.Wait()
	close(releases)

	s.Equal(int32(1), acquired.Load())
	s.Equal(int32(9), rejected.Load())
	for release := range releases {
		release()
	}
}

func TestMemoryCycleLock(t *testing.T) {
	suite.Run(t, &CycleLockSuite{newLock: func() CycleLock { return NewMemoryCycleLock() }})
}

func TestRedisCycleLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &CycleLockSuite{newLock: func() CycleLock {
		mr.FlushAll()
		return NewRedisCycleLock(client, "voxbill:test", time.Minute, logger.NewNopLogger())
	}})
}

func TestRedisCycleLockExpiresAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisCycleLock(client, "voxbill:test", time.Minute, logger.NewNopLogger())
	ctx := context.Background()

	_, err := l.Acquire(ctx, false)
	require.NoError(t, err)

	// the holder died without releasing
	mr.FastForward(2 * time.Minute)

	release, err := l.Acquire(ctx, false)
	require.NoError(t, err)
	release()
}

func TestRedisCycleLockReleaseKeepsForeignOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisCycleLock(client, "voxbill:test", time.Minute, logger.NewNopLogger())
	ctx := context.Background()

	staleRelease, err := l.Acquire(ctx, false)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	release, err := l.Acquire(ctx, false)
	require.NoError(t, err)

	// releasing the expired holder must not free the new owner
	staleRelease()
	status, err := l.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Live)

	release()
	status, err = l.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Live)
}

func TestMemoryCycleLockRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryCycleLock().Acquire(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}
