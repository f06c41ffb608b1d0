package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type LockServiceTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	svc    *Service
	ctx    context.Context
}

func (s *LockServiceTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.svc = NewService(s.client)
	s.ctx = context.Background()
}

func (s *LockServiceTestSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func TestLockServiceTestSuite(t *testing.T) {
	suite.Run(t, new(LockServiceTestSuite))
}

func (s *LockServiceTestSuite) TestAcquireIsExclusive() {
	first, ok, err := s.svc.Acquire(s.ctx, "session:1", time.Minute)
	s.Require().NoError(err)
	s.True(ok)
	s.NotEmpty(first.Token)

	_, ok, err = s.svc.Acquire(s.ctx, "session:1", time.Minute)
	s.Require().NoError(err)
	s.False(ok)

	locked, err := s.svc.IsLocked(s.ctx, "session:1")
	s.Require().NoError(err)
	s.True(locked)
}

func (s *LockServiceTestSuite) TestReleaseRequiresOwnerToken() {
	lease, ok, err := s.svc.Acquire(s.ctx, "session:2", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	err = s.svc.Release(s.ctx, Lease{Key: "session:2", Token: "someone-else"})
	s.ErrorIs(err, ErrNotHeld)
	s.True(s.mr.Exists(keyPrefix + "session:2"))

	s.Require().NoError(s.svc.Release(s.ctx, lease))
	s.False(s.mr.Exists(keyPrefix + "session:2"))
}

func (s *LockServiceTestSuite) TestExpiredLeaseCanBeRetaken() {
	old, ok, err := s.svc.Acquire(s.ctx, "session:3", time.Second)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.mr.FastForward(2 * time.Second)

	_, ok, err = s.svc.Acquire(s.ctx, "session:3", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	// The stale holder cannot release or refresh the new owner's lock.
	s.ErrorIs(s.svc.Release(s.ctx, old), ErrNotHeld)
	s.ErrorIs(s.svc.Refresh(s.ctx, old), ErrNotHeld)
	s.True(s.mr.Exists(keyPrefix + "session:3"))
}

func (s *LockServiceTestSuite) TestRefreshExtendsTTL() {
	lease, ok, err := s.svc.Acquire(s.ctx, "session:4", 2*time.Second)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.mr.FastForward(1500 * time.Millisecond)
	s.Require().NoError(s.svc.Refresh(s.ctx, lease))
	s.mr.FastForward(1500 * time.Millisecond)

	s.True(s.mr.Exists(keyPrefix + "session:4"))
}

func (s *LockServiceTestSuite) TestWithLockReleasesAfterSuccess() {
	out, acquired, err := WithLock(s.ctx, s.svc, "session:5", time.Minute, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	s.Require().NoError(err)
	s.True(acquired)
	s.Equal("done", out)
	s.False(s.mr.Exists(keyPrefix + "session:5"))
}

func (s *LockServiceTestSuite) TestWithLockReleasesAfterError() {
	boom := errors.New("boom")
	_, acquired, err := WithLock(s.ctx, s.svc, "session:6", time.Minute, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	s.True(acquired)
	s.ErrorIs(err, boom)
	s.False(s.mr.Exists(keyPrefix + "session:6"))
}

func (s *LockServiceTestSuite) TestWithLockSkipsWhenHeld() {
	_, ok, err := s.svc.Acquire(s.ctx, "session:7", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	called := false
	_, acquired, err := WithLock(s.ctx, s.svc, "session:7", time.Minute, func(ctx context.Context) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	s.Require().NoError(err)
	s.False(acquired)
	s.False(called)
}

func (s *LockServiceTestSuite) TestConcurrentCallersRunOnce() {
	var runs int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = WithLock(s.ctx, s.svc, "session:8", time.Minute, func(ctx context.Context) (struct{}, error) {
			atomic.AddInt32(&runs, 1)
			started <- struct{}{}
			<-release
			return struct{}{}, nil
		})
	}()
	<-started

	_, acquired, err := WithLock(s.ctx, s.svc, "session:8", time.Minute, func(ctx context.Context) (struct{}, error) {
		atomic.AddInt32(&runs, 1)
		return struct{}{}, nil
	})
	close(release)
	wg.Wait()

	s.Require().NoError(err)
	s.False(acquired)
	s.Equal(int32(1), atomic.LoadInt32(&runs))
}

func (s *LockServiceTestSuite) TestAcquireValidatesInput() {
	_, _, err := s.svc.Acquire(s.ctx, "", time.Minute)
	s.Error(err)
	_, _, err = s.svc.Acquire(s.ctx, "k", 0)
	s.Error(err)
}
