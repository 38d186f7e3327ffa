package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/app"
	"github.com/unclebandit/dripmail-backend/internal/config"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/queue"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{}, zl)
	if err != nil {
		zl.Fatal("failed to start worker", zap.Error(err))
	}
	defer a.Close()

	if err := run(ctx, a.Queue, a.Runner, a.HandleTrigger, zl.Named("worker")); err != nil {
		zl.Fatal("worker stopped", zap.Error(err))
	}
	zl.Info("👋 Worker stopped")
}

// run consumes trigger commands until ctx is done. Without a queue the
// worker runs the periodic loops itself.
func run(ctx context.Context, q queue.Queue, runner *service.Runner, handle queue.TriggerHandler, log *zap.Logger) error {
	if q == nil {
		log.Warn("⚠️ AMQP_URL not set, running periodic ticks instead of consuming triggers")
		return runner.Run(ctx)
	}
	if err := queue.StartTriggerSubscriber(ctx, q, handle, log); err != nil {
		return err
	}
	log.Info("Worker running, waiting for triggers...")
	<-ctx.Done()
	return nil
}
