// Package lock provides named lease locks with a time-to-live. A holder
// keeps a lock by refreshing it before the lease expires.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

var (
	ErrUnavailable = errors.New("lock is held by another process")
	ErrLockLost    = errors.New("lock lease lost")
)

type Token string

type Service interface {
	// Acquire takes key for ttl without blocking. ErrUnavailable is returned
	// when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error)
	// Refresh extends the lease. ErrLockLost is returned when token no
	// longer owns key.
	Refresh(ctx context.Context, token Token, key string, ttl time.Duration) error
	Release(ctx context.Context, token Token, key string) error
}

// Lease is a held lock that is refreshed in the background every ttl/2
// until Release is called or a refresh fails.
type Lease struct {
	svc    Service
	key    string
	token  Token
	logger *zap.Logger

	lost    atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	waiter  quartz.Waiter
}

// Hold acquires key and starts refreshing it on clock.
func Hold(ctx context.Context, svc Service, clock quartz.Clock, logger *zap.Logger, key string, ttl time.Duration) (*Lease, error) {
	token, err := svc.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}

	l := &Lease{
		svc:    svc,
		key:    key,
		token:  token,
		logger: logger.With(zap.String("lock", key)),
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.waiter = clock.TickerFunc(refreshCtx, ttl/2, func() error {
		if err := svc.Refresh(refreshCtx, token, key, ttl); err != nil {
			if refreshCtx.Err() != nil {
				return refreshCtx.Err()
			}
			l.lost.Store(true)
			l.logger.Warn("failed to refresh lock lease", zap.Error(err))
			return err
		}
		return nil
	}, "lock", "refresh")

	return l, nil
}

func (l *Lease) Key() string {
	return l.key
}

func (l *Lease) Token() Token {
	return l.token
}

// Lost reports whether a background refresh failed. Work guarded by the
// lease must not start new items once it returns true.
func (l *Lease) Lost() bool {
	return l.lost.Load()
}

// IsActive reports whether the lease is still held and refreshed.
func (l *Lease) IsActive() bool {
	return !l.stopped.Load() && !l.lost.Load()
}

// Release stops the refresher and releases the lock. It is safe to call
// more than once.
func (l *Lease) Release(ctx context.Context) error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()
	_ = l.waiter.Wait()

	if err := l.svc.Release(ctx, l.token, l.key); err != nil {
		if l.lost.Load() && errors.Is(err, ErrLockLost) {
			return nil
		}
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
