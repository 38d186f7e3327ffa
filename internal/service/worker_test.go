package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/pkg/distlock"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

// The model SDKs pulled in by the generator package start an opencensus
// stats worker at init.
var ignoreBackground = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// blockingTicker counts ticks and can hold one open until released.
type blockingTicker struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingTicker() *blockingTicker {
	return &blockingTicker{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingTicker) Tick(ctx context.Context, now time.Time) (*service.BatchReport, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &service.BatchReport{Succeeded: []int64{1}}, nil
}

type countingTicker struct{ calls atomic.Int32 }

func (c *countingTicker) Tick(ctx context.Context, now time.Time) (*service.BatchReport, error) {
	c.calls.Add(1)
	return &service.BatchReport{}, nil
}

func TestRunnerStartRunsBothLoopsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBackground)

	drips, replies := &countingTicker{}, &countingTicker{}
	r := &service.Runner{
		Drips:         drips,
		Replies:       replies,
		Lock:          distlock.NewLocalLock(),
		DripInterval:  time.Hour,
		ReplyInterval: time.Hour,
	}
	r.Start(context.Background())

	assert.Eventually(t, func() bool {
		return drips.calls.Load() == 1 && replies.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestRunnerTicksOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBackground)

	drips := &countingTicker{}
	r := &service.Runner{Drips: drips, DripInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return drips.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestManualTriggerWhileTickRunning(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBackground)

	drips := newBlockingTicker()
	r := &service.Runner{Drips: drips, Replies: &countingTicker{}}

	errc := make(chan error, 1)
	go func() {
		_, err := r.RunDrips(context.Background())
		errc <- err
	}()
	<-drips.started

	_, err := r.RunReplies(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrTickInProgress)
	_, err = r.RunDrips(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrTickInProgress)

	close(drips.release)
	require.NoError(t, <-errc)

	report, err := r.RunReplies(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, report)
}

func TestLockHeldByAnotherProcess(t *testing.T) {
	lock := distlock.NewLocalLock()
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	drips := &countingTicker{}
	r := &service.Runner{Drips: drips, Lock: lock}

	_, err = r.RunDrips(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrTickInProgress)
	assert.Zero(t, drips.calls.Load())

	require.NoError(t, lock.Release(context.Background()))
	_, err = r.RunDrips(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), drips.calls.Load())

	// released after the tick
	ok, err = lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunnerStopCancelsRunningTick(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreBackground)

	drips := newBlockingTicker()
	r := &service.Runner{Drips: drips, DripInterval: time.Hour}
	r.Start(context.Background())
	<-drips.started

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestUnconfiguredTick(t *testing.T) {
	r := &service.Runner{}
	_, err := r.RunDrips(context.Background())
	assert.Error(t, err)
}
