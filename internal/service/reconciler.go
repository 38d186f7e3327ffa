package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/generator"
	"github.com/unclebandit/dripmail-backend/internal/mailer"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/repository"
)

// ReplyReconciler turns new mailbox messages into contact transitions.
type ReplyReconciler struct {
	Contacts    repository.ContactRepositoryInterface
	Content     repository.ContentRepositoryInterface
	Checkpoints repository.CheckpointRepositoryInterface
	Fetcher     mailer.Fetcher
	Classifier  generator.Classifier
	Coordinator *Coordinator
	// StopPhrases backs up the classifier's stop flag.
	StopPhrases     *generator.StopPhraseDetector
	AcknowledgeStop bool
	ClassifyTimeout time.Duration
	Log             *zap.Logger
}

// Tick processes messages after the checkpoint in UID order. The checkpoint
// only moves once the whole batch went through without store errors, so a
// failed tick is replayed; processed message ids make the replay a no-op
// for messages already handled.
func (r *ReplyReconciler) Tick(ctx context.Context, now time.Time) (*BatchReport, error) {
	log := logger.OrNop(r.Log)
	report := newBatchReport()

	mailbox := r.Fetcher.Mailbox()
	cp, err := r.Checkpoints.Load(ctx, mailbox)
	if err != nil {
		log.Error("reply tick aborted: cannot load checkpoint", zap.Error(err))
		return report, err
	}

	res, err := r.Fetcher.FetchNewMessages(ctx, *cp)
	if err != nil {
		log.Error("reply tick aborted: mailbox unavailable", zap.Error(err))
		return report, fmt.Errorf("fetch replies: %w", err)
	}

	clean := true
	var lastReceived *time.Time
	for _, msg := range res.Messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := r.reconcile(ctx, msg, now, report)
		if err != nil {
			if appErrors.IsFatalForTick(err) {
				report.fail(0, msg.MessageID, err)
				log.Error("reply tick aborted: store unavailable", zap.String("message_id", msg.MessageID), zap.Error(err))
				return report, err
			}
			clean = false
			report.fail(0, msg.MessageID, err)
			log.Warn("reply not reconciled, will retry", zap.String("message_id", msg.MessageID), zap.Error(err))
			continue
		}
		if !msg.ReceivedAt.IsZero() && (lastReceived == nil || msg.ReceivedAt.After(*lastReceived)) {
			t := msg.ReceivedAt
			lastReceived = &t
		}
	}

	if !clean {
		log.Warn("checkpoint held back after failures", zap.Stringer("report", report))
		return report, nil
	}
	if res.LastUID > 0 || res.UIDValidity != cp.UIDValidity {
		next := model.Checkpoint{
			Mailbox:        mailbox,
			UIDValidity:    res.UIDValidity,
			LastUID:        res.LastUID,
			LastReceivedAt: lastReceived,
		}
		if res.UIDValidity == cp.UIDValidity && next.LastUID < cp.LastUID {
			next.LastUID = cp.LastUID
		}
		if err := r.Checkpoints.Advance(ctx, next); err != nil {
			log.Error("failed to advance reply checkpoint", zap.Error(err))
			return report, err
		}
	}

	log.Info("reply tick finished", zap.Int("messages", len(res.Messages)), zap.Stringer("report", report))
	return report, nil
}

// reconcile handles one message. Only store errors are returned; a failed
// meeting or acknowledgment send is recorded in the report because the
// transition it follows has already been committed.
func (r *ReplyReconciler) reconcile(ctx context.Context, msg model.InboundMessage, now time.Time, report *BatchReport) error {
	log := logger.OrNop(r.Log).With(zap.String("message_id", msg.MessageID))

	done, err := r.Checkpoints.IsProcessed(ctx, msg.MessageID)
	if err != nil {
		return err
	}
	if done {
		report.Skipped++
		return nil
	}

	c, err := r.Contacts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(msg.From)))
	if err != nil {
		return err
	}
	if c == nil {
		log.Info("reply from unknown sender", logger.Email("from", msg.From))
		report.Skipped++
		return r.markProcessed(ctx, msg, nil, model.OutcomeUnmatched, now)
	}
	if c.Status.Terminal() {
		log.Debug("reply from finished contact", zap.Int64("contact_id", c.ID), zap.String("status", string(c.Status)))
		report.Skipped++
		return r.markProcessed(ctx, msg, &c.ID, model.OutcomeIgnored, now)
	}

	if c.LastEmailSent != nil && !msg.ReceivedAt.IsZero() && !msg.ReceivedAt.After(*c.LastEmailSent) {
		// Only mail received after our latest email counts as a reply.
		log.Debug("message predates our last email", zap.Int64("contact_id", c.ID), zap.Time("received_at", msg.ReceivedAt))
		report.Skipped++
		return r.markProcessed(ctx, msg, &c.ID, model.OutcomeIgnored, now)
	}

	text := ExtractReply(msg.Body)
	cls := r.classify(ctx, text, log)
	stop := cls.StopRequested
	if !stop && r.StopPhrases != nil {
		if phrase, ok := r.StopPhrases.Match(text); ok {
			if cls.Sentiment == model.SentimentPositive {
				log.Info("stop phrase in a positive reply, not stopping", zap.String("phrase", phrase))
			} else {
				log.Info("stop phrase found in reply", zap.String("phrase", phrase))
				stop = true
			}
		}
	}
	if stop {
		cls.Sentiment = model.SentimentNegative
	}

	replyAt := msg.ReceivedAt
	if replyAt.IsZero() {
		replyAt = now
	}

	var (
		applied bool
		updated *model.Contact
		outcome = model.OutcomeReplied
	)
	if stop {
		outcome = model.OutcomeStopped
		applied, updated, err = r.Coordinator.StopFromReply(ctx, c, cls.Sentiment, replyAt)
	} else {
		applied, updated, err = r.Coordinator.MarkReplied(ctx, c, cls.Sentiment, replyAt)
	}
	if err != nil {
		// a conflict that survived the retry is replayed next tick
		return err
	}
	if !applied {
		// Someone else finished this contact first; their side effects stand.
		report.Skipped++
		return r.markProcessed(ctx, msg, &c.ID, model.OutcomeIgnored, now)
	}

	entry := model.ContentEntry{Subject: msg.Subject, Body: text, MessageID: msg.MessageID, SentAt: &replyAt}
	if _, err := r.Content.Append(ctx, c.ID, model.SlotReply, entry); err != nil {
		if appErrors.IsFatalForTick(err) {
			return err
		}
		log.Warn("failed to record reply content", zap.Int64("contact_id", c.ID), zap.Error(err))
	}

	var sendErr error
	switch {
	case stop && r.AcknowledgeStop:
		sendErr = r.Coordinator.SendStopAcknowledgment(ctx, updated, msg)
	case !stop && cls.Sentiment != model.SentimentNegative:
		sendErr = r.Coordinator.SendMeeting(ctx, updated, msg, cls.Queries)
	}
	if sendErr != nil {
		if appErrors.IsFatalForTick(sendErr) {
			return sendErr
		}
		report.fail(c.ID, msg.MessageID, sendErr)
		log.Warn("follow-up email failed", zap.Int64("contact_id", c.ID), zap.Error(sendErr))
	} else {
		report.succeed(c.ID)
	}

	log.Info("reply reconciled", zap.Int64("contact_id", c.ID), zap.String("outcome", outcome), zap.String("sentiment", string(cls.Sentiment)))
	return r.markProcessed(ctx, msg, &c.ID, outcome, now)
}

// classify never fails: an unavailable classifier reads as neutral.
func (r *ReplyReconciler) classify(ctx context.Context, text string, log *zap.Logger) generator.Classification {
	if r.Classifier == nil {
		return generator.Classification{Sentiment: model.SentimentNeutral}
	}
	cctx, cancel := withTimeout(ctx, r.ClassifyTimeout)
	defer cancel()
	cls, err := r.Classifier.Classify(cctx, text)
	if err != nil {
		var ce *appErrors.ClassificationError
		if !errors.As(err, &ce) {
			err = &appErrors.ClassificationError{Err: err}
		}
		log.Warn("classification failed, treating reply as neutral", zap.Error(err))
		return generator.Classification{Sentiment: model.SentimentNeutral}
	}
	switch cls.Sentiment {
	case model.SentimentPositive, model.SentimentNegative, model.SentimentNeutral:
	default:
		cls.Sentiment = model.SentimentNeutral
	}
	return cls
}

func (r *ReplyReconciler) markProcessed(ctx context.Context, msg model.InboundMessage, contactID *int64, outcome string, now time.Time) error {
	_, err := r.Checkpoints.MarkProcessed(ctx, model.ProcessedMessage{
		MessageID:   msg.MessageID,
		ContactID:   contactID,
		Outcome:     outcome,
		ProcessedAt: now,
	})
	return err
}
