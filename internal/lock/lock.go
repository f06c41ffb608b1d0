package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guest-messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when the caller's token no longer owns the key:
// the lease expired and was possibly taken by someone else.
var ErrNotHeld = errors.New("lock: not held")

const keyPrefix = "lock:"

var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- ARGV[2] = ttl_ms
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Lease is proof of ownership of one key.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Service is a single-key mutual exclusion primitive shared by every worker.
// Acquisition is SET NX PX with a random owner token; release and refresh
// only touch the key while it still holds that token.
type Service struct {
	rdb      *redis.Client
	newToken func() string
}

func NewService(rdb *redis.Client) *Service {
	return &Service{rdb: rdb, newToken: uuid.NewString}
}

// Acquire tries once and never blocks. ok is false when another holder owns key.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if key == "" {
		return Lease{}, false, errors.New("lock: key is required")
	}
	if ttl <= 0 {
		return Lease{}, false, errors.New("lock: ttl must be > 0")
	}
	l := Lease{Key: key, Token: s.newToken(), TTL: ttl}
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, l.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return l, true, nil
}

func (s *Service) Release(ctx context.Context, l Lease) error {
	n, err := releaseScript.Run(ctx, s.rdb, []string{keyPrefix + l.Key}, l.Token).Int()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the lease by its TTL.
func (s *Service) Refresh(ctx context.Context, l Lease) error {
	n, err := refreshScript.Run(ctx, s.rdb, []string{keyPrefix + l.Key}, l.Token, l.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: refresh %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *Service) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("lock: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// WithLock runs fn while holding key. If the key is held elsewhere it returns
// acquired=false immediately and fn is not called. While fn runs the lease is
// refreshed every ttl/3; the lock is released when fn returns, errors or panics.
func WithLock[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (result T, acquired bool, err error) {
	lease, ok, err := s.Acquire(ctx, key, ttl)
	if err != nil || !ok {
		return result, false, err
	}

	log := logger.From(ctx).With("lock_key", key)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.heartbeat(ctx, lease, stop, log)
	}()

	defer func() {
		close(stop)
		<-done
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if relErr := s.Release(relCtx, lease); relErr != nil {
			log.Warn("lock release failed", "err", relErr)
		}
	}()

	result, err = fn(ctx)
	return result, true, err
}

func (s *Service) heartbeat(ctx context.Context, l Lease, stop <-chan struct{}, log *slog.Logger) {
	interval := l.TTL / 3
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Refresh(ctx, l); err != nil {
				log.Warn("lock heartbeat failed", "err", err)
				if errors.Is(err, ErrNotHeld) {
					return
				}
			}
		}
	}
}
