// Package app assembles the campaign service from configuration. The
// server, worker and CLI binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/config"
	"github.com/unclebandit/dripmail-backend/internal/db"
	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/generator"
	"github.com/unclebandit/dripmail-backend/internal/mailer"
	"github.com/unclebandit/dripmail-backend/internal/pkg/distlock"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/queue"
	"github.com/unclebandit/dripmail-backend/internal/repository"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger

	// DB is nil when running on the in-memory store.
	DB    *sql.DB
	Redis *redis.Client
	// Queue carries trigger commands to workers; nil without AMQP_URL.
	Queue queue.Queue

	Contacts    repository.ContactRepositoryInterface
	Content     repository.ContentRepositoryInterface
	Checkpoints repository.CheckpointRepositoryInterface

	Coordinator *service.Coordinator
	Runner      *service.Runner
	Service     *service.CampaignService

	closers []func() error
}

// Options turn optional infrastructure off for binaries that do not need it.
type Options struct {
	// SkipMail builds no mailer; ticks are then unavailable.
	SkipMail bool
	// SkipQueue does not connect to AMQP even when configured.
	SkipQueue bool
}

// New connects every configured backend and wires the service graph.
func New(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Log: log}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	if err := a.initStore(ctx); err != nil {
		return err
	}
	if cfg.Redis.URL != "" {
		ropts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(ropts)
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Log.Info("✅ Connected to redis")
	}
	if cfg.AMQP.URL != "" && !opts.SkipQueue {
		q, err := queue.NewAMQPQueue(cfg.AMQP.URL, cfg.AMQP.Queue+".", a.Log)
		if err != nil {
			return err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	}

	gen, classifier, err := generator.New(ctx, cfg, a.Log)
	if err != nil {
		return err
	}

	camp := cfg.Campaign
	a.Coordinator = &service.Coordinator{
		Contacts:        a.Contacts,
		Content:         a.Content,
		Generator:       gen,
		Sender:          generator.Sender{Name: camp.Sender.Name, Company: camp.Sender.Company, Role: camp.Sender.Role},
		Offsets:         camp.DripOffsets,
		GenerateTimeout: camp.GenerateTimeout,
		SendTimeout:     camp.SendTimeout,
		Log:             a.Log.Named("coordinator"),
	}
	a.Runner = &service.Runner{
		Lock:          distlock.NewLock(a.Redis, a.DB, camp.LockKey, camp.LockTTL),
		DripInterval:  camp.DripInterval,
		ReplyInterval: camp.ReplyInterval,
		LockTTL:       camp.LockTTL,
		Log:           a.Log.Named("runner"),
	}

	if !opts.SkipMail {
		client, err := newMailer(ctx, cfg, a.Log)
		if err != nil {
			return err
		}
		a.Coordinator.Mailer = client
		a.Runner.Drips = &service.DripScheduler{
			Contacts:    a.Contacts,
			Coordinator: a.Coordinator,
			Log:         a.Log.Named("drips"),
		}
		if client.Fetcher != nil {
			a.Runner.Replies = &service.ReplyReconciler{
				Contacts:        a.Contacts,
				Content:         a.Content,
				Checkpoints:     a.Checkpoints,
				Fetcher:         client.Fetcher,
				Classifier:      classifier,
				Coordinator:     a.Coordinator,
				StopPhrases:     generator.NewStopPhraseDetector(camp.StopPhrases),
				AcknowledgeStop: camp.AcknowledgeStop,
				ClassifyTimeout: camp.ClassifyTimeout,
				Log:             a.Log.Named("replies"),
			}
		} else {
			a.Log.Warn("⚠️ IMAP_HOST not set, reply checking disabled")
		}
	}

	a.Service = &service.CampaignService{
		ContactRepo:     a.Contacts,
		ContentRepo:     a.Content,
		Generator:       gen,
		Coordinator:     a.Coordinator,
		Ticks:           a.Runner,
		SendOnCreate:    camp.SendOnCreate && !opts.SkipMail,
		GenerateTimeout: camp.GenerateTimeout,
		Log:             a.Log.Named("service"),
	}
	return nil
}

// initStore uses Postgres when a database is configured and the in-memory
// store otherwise.
func (a *App) initStore(ctx context.Context) error {
	dbCfg := a.Config.Database
	if dbCfg.URL == "" && dbCfg.Host == "" {
		a.Log.Warn("⚠️ No database configured, using the in-memory store")
		contacts := repository.NewMemoryContactRepository()
		content := repository.NewMemoryContentRepository()
		contacts.OnDelete = content.DeleteContact
		a.Contacts, a.Content = contacts, content
		a.Checkpoints = repository.NewMemoryCheckpointRepository()
		return nil
	}

	conn, err := db.Open(ctx, dbCfg.DSN())
	if err != nil {
		return err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	a.Log.Info("✅ Connected to database")

	a.Contacts = &repository.ContactRepository{DB: conn}
	a.Content = &repository.ContentRepository{DB: conn}
	a.Checkpoints = &repository.CheckpointRepository{DB: conn}
	return nil
}

func newMailer(ctx context.Context, cfg *config.Config, log *zap.Logger) (mailer.Client, error) {
	m := cfg.Mail
	from := mailer.From{Name: cfg.Campaign.Sender.Name, Address: m.FromAddress}
	if from.Address == "" {
		return mailer.Client{}, fmt.Errorf("mail: EMAIL_ADDRESS is required")
	}

	var client mailer.Client
	switch m.Provider {
	case "ses":
		s, err := mailer.NewSESSender(ctx, m.AWSRegion, m.AWSAccessKey, m.AWSSecretKey, from, log.Named("ses"))
		if err != nil {
			return mailer.Client{}, err
		}
		client.Sender = s
	default:
		if m.SMTPHost == "" {
			return mailer.Client{}, fmt.Errorf("mail: SMTP_HOST is required for the smtp provider")
		}
		client.Sender = mailer.NewSMTPSender(m.SMTPHost, m.SMTPPort, m.Username, m.Password, from, log.Named("smtp"))
	}

	if m.IMAPHost != "" {
		client.Fetcher = mailer.NewIMAPFetcher(mailer.IMAPConfig{
			Host:        m.IMAPHost,
			Port:        m.IMAPPort,
			Username:    m.Username,
			Password:    m.Password,
			Mailbox:     m.Mailbox,
			MaxPerFetch: m.MaxFetchPerTick,
		}, log.Named("imap"))
	}
	return client, nil
}

// Ping reports whether the store is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

// HandleTrigger runs a queued trigger. A tick that is already running
// elsewhere makes the trigger redundant, so it is acknowledged.
func (a *App) HandleTrigger(ctx context.Context, cmd queue.TriggerCommand) error {
	var (
		report *service.BatchReport
		err    error
	)
	switch cmd.Kind {
	case queue.TriggerDrips:
		report, err = a.Runner.RunDrips(ctx)
	case queue.TriggerReplies:
		report, err = a.Runner.RunReplies(ctx)
	default:
		a.Log.Warn("⚠️ unknown trigger kind", zap.String("kind", string(cmd.Kind)))
		return nil
	}
	if errors.Is(err, appErrors.ErrTickInProgress) {
		a.Log.Info("trigger skipped: tick already running", zap.String("kind", string(cmd.Kind)))
		return nil
	}
	if err != nil {
		return err
	}
	a.Log.Info("✅ trigger handled", zap.String("kind", string(cmd.Kind)), zap.Stringer("report", report))
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
