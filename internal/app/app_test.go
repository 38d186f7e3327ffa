package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/dripmail-backend/internal/app"
	"github.com/unclebandit/dripmail-backend/internal/config"
	"github.com/unclebandit/dripmail-backend/internal/pkg/distlock"
	"github.com/unclebandit/dripmail-backend/internal/queue"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

func localConfig() *config.Config {
	cfg := config.Default()
	cfg.Mail.SMTPHost = "localhost"
	cfg.Mail.FromAddress = "dana@pulp.example"
	return cfg
}

func TestNewInMemory(t *testing.T) {
	a, err := app.New(context.Background(), localConfig(), app.Options{}, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Queue)
	assert.NotNil(t, a.Runner.Drips)
	assert.Nil(t, a.Runner.Replies, "no IMAP host configured")
	assert.IsType(t, &distlock.LocalLock{}, a.Runner.Lock)
	assert.True(t, a.Service.SendOnCreate)
	assert.NoError(t, a.Ping(context.Background()))

	_, err = a.Service.CheckReplies(context.Background())
	assert.Error(t, err)
}

func TestNewWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := localConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Mail.IMAPHost = "imap.example"

	a, err := app.New(context.Background(), cfg, app.Options{}, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &distlock.RedisLock{}, a.Runner.Lock)
	assert.NotNil(t, a.Runner.Replies)
}

func TestNewRequiresSender(t *testing.T) {
	cfg := config.Default()
	_, err := app.New(context.Background(), cfg, app.Options{}, nil)
	assert.Error(t, err)

	a, err := app.New(context.Background(), cfg, app.Options{SkipMail: true}, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.Service.SendOnCreate)
}

// A queued trigger for a tick that is already running is acknowledged.
func TestHandleTrigger(t *testing.T) {
	a, err := app.New(context.Background(), localConfig(), app.Options{}, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.HandleTrigger(ctx, queue.TriggerCommand{Kind: queue.TriggerDrips, RequestedAt: time.Now()}))
	require.NoError(t, a.HandleTrigger(ctx, queue.TriggerCommand{Kind: "bogus"}))

	ok, err := a.Runner.Lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, a.HandleTrigger(ctx, queue.TriggerCommand{Kind: queue.TriggerDrips}))
	require.NoError(t, a.Runner.Lock.Release(ctx))

	// reply checking is not configured here, so the trigger fails
	assert.Error(t, a.HandleTrigger(ctx, queue.TriggerCommand{Kind: queue.TriggerReplies}))
}

var _ service.TickTrigger = (*service.Runner)(nil)
