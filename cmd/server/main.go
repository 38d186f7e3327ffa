// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/dripmail-backend/internal/app"
	"github.com/unclebandit/dripmail-backend/internal/config"
	"github.com/unclebandit/dripmail-backend/internal/controller"
	"github.com/unclebandit/dripmail-backend/internal/handler"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
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
		zl.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	campaignController := &controller.CampaignController{
		CampaignService: a.Service,
		Log:             zl.Named("http"),
	}
	campaignHandler := &handler.CampaignHandler{
		Service: a.Service,
		Queue:   a.Queue,
		Ping:    a.Ping,
		Log:     zl.Named("http"),
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(campaignController, campaignHandler, cfg.Server.AllowedOrigins, zl.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("🚀 Server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Runner.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		zl.Error("❌ server stopped with error", zap.Error(err))
	}
	zl.Info("👋 Server stopped")
}
