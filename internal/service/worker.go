package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/pkg/distlock"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

// Ticker is one periodic task: the drip scheduler or the reply reconciler.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (*BatchReport, error)
}

// Runner drives the drip and reply loops. Ticks of both kinds, periodic or
// manual, are serialized by an in-process mutex and the shared Lock, so at
// most one tick runs across all processes that share the lock backend.
type Runner struct {
	Drips         Ticker
	Replies       Ticker
	Lock          distlock.Locker
	DripInterval  time.Duration
	ReplyInterval time.Duration
	// LockTTL drives lock renewal for backends that expire.
	LockTTL time.Duration

	Now func() time.Time
	Log *zap.Logger

	mu      sync.Mutex
	startMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// RunDrips runs one drip tick now. It returns ErrTickInProgress if another tick holds the lock.
func (r *Runner) RunDrips(ctx context.Context) (*BatchReport, error) {
	return r.run(ctx, "drips", r.Drips)
}

// RunReplies runs one reply tick now. It returns ErrTickInProgress if another tick holds the lock.
func (r *Runner) RunReplies(ctx context.Context) (*BatchReport, error) {
	return r.run(ctx, "replies", r.Replies)
}

func (r *Runner) run(ctx context.Context, name string, t Ticker) (*BatchReport, error) {
	if t == nil {
		return nil, fmt.Errorf("%s tick is not configured", name)
	}
	var report *BatchReport
	err := r.Exclusive(ctx, name, func(ctx context.Context) error {
		start := time.Now()
		var err error
		report, err = t.Tick(ctx, r.now())
		logger.OrNop(r.Log).Debug("tick done", zap.String("tick", name), zap.Duration("took", time.Since(start)))
		return err
	})
	return report, err
}

// Exclusive runs fn while holding the tick lock, so fn never overlaps a
// tick in this or another process. It returns ErrTickInProgress without
// calling fn when the lock is taken.
func (r *Runner) Exclusive(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	log := logger.OrNop(r.Log).With(zap.String("tick", name))

	if !r.mu.TryLock() {
		return appErrors.ErrTickInProgress
	}
	defer r.mu.Unlock()

	if r.Lock != nil {
		ok, err := r.Lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			return appErrors.ErrTickInProgress
		}
		defer func() {
			if err := r.Lock.Release(context.Background()); err != nil {
				log.Warn("failed to release tick lock", zap.Error(err))
			}
		}()
		stop := r.keepAlive(ctx, log)
		defer stop()
	}
	return fn(ctx)
}

// keepAlive renews an expiring lock at a third of its TTL until stop is called.
func (r *Runner) keepAlive(ctx context.Context, log *zap.Logger) (stop func()) {
	ext, ok := r.Lock.(distlock.Extender)
	if !ok || r.LockTTL <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.LockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ext.Extend(ctx, r.LockTTL); err != nil {
					log.Warn("failed to extend tick lock", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Start launches both loops. Each runs once immediately, then on its interval.
func (r *Runner) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	if r.Drips != nil && r.DripInterval > 0 {
		r.wg.Add(1)
		go r.loop(ctx, "drips", r.DripInterval, r.RunDrips)
	}
	if r.Replies != nil && r.ReplyInterval > 0 {
		r.wg.Add(1)
		go r.loop(ctx, "replies", r.ReplyInterval, r.RunReplies)
	}
	logger.OrNop(r.Log).Info("🚀 tick runner started",
		zap.Duration("drip_interval", r.DripInterval), zap.Duration("reply_interval", r.ReplyInterval))
}

// Stop cancels both loops and waits for a running tick to return.
func (r *Runner) Stop() {
	r.startMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.startMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	logger.OrNop(r.Log).Info("tick runner stopped")
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.Start(ctx)
	<-ctx.Done()
	r.Stop()
	return nil
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) (*BatchReport, error)) {
	defer r.wg.Done()
	log := logger.OrNop(r.Log).With(zap.String("tick", name))

	tick := func() {
		_, err := run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, appErrors.ErrTickInProgress):
			log.Info("tick skipped: lock held elsewhere")
		case ctx.Err() != nil:
		default:
			log.Error("tick failed", zap.Error(err))
		}
	}

	tick()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick()
		}
	}
}
