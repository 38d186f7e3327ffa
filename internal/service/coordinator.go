package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/generator"
	"github.com/unclebandit/dripmail-backend/internal/mailer"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/repository"
)

// Coordinator owns every contact state transition. Each transition is one
// compare-and-set on the contact's status; the loser of a race gets
// ErrStoreConflict and its local decision is discarded.
type Coordinator struct {
	Contacts  repository.ContactRepositoryInterface
	Content   repository.ContentRepositoryInterface
	Generator generator.Generator
	Mailer    mailer.Sender
	Sender    generator.Sender

	// Offsets[i] gates stage i+1.
	Offsets         []time.Duration
	GenerateTimeout time.Duration
	SendTimeout     time.Duration

	Now func() time.Time
	Log *zap.Logger
}

func (co *Coordinator) log() *zap.Logger { return logger.OrNop(co.Log) }

func (co *Coordinator) now() time.Time {
	if co.Now != nil {
		return co.Now()
	}
	return time.Now()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// NextDue returns the stage c is waiting for and when it becomes due.
// ok is false for contacts with nothing left to send.
func (co *Coordinator) NextDue(c *model.Contact) (stage model.Stage, due time.Time, ok bool) {
	stage, ok = c.Status.NextStage()
	if !ok {
		return "", time.Time{}, false
	}
	anchor, ok := c.Anchor()
	if !ok {
		return "", time.Time{}, false
	}
	var offset time.Duration
	if i := stage.Index() - 1; i >= 0 && i < len(co.Offsets) {
		offset = co.Offsets[i]
	}
	return stage, anchor.Add(offset), true
}

// Advance sends the next drip stage to c and commits the new status.
// Nothing is committed unless the send succeeded. The returned contact
// reflects the commit.
func (co *Coordinator) Advance(ctx context.Context, c *model.Contact, now time.Time) (*model.Contact, error) {
	stage, due, ok := co.NextDue(c)
	if !ok {
		return nil, fmt.Errorf("%w: cannot advance contact in status %s", appErrors.ErrInvalidTransition, c.Status)
	}
	if now.Before(due) {
		return nil, appErrors.ErrNotDue
	}
	log := co.log().With(zap.Int64("contact_id", c.ID), zap.String("stage", string(stage)))

	genCtx, cancel := withTimeout(ctx, co.GenerateTimeout)
	email, err := co.Generator.Generate(genCtx, generator.Request{Contact: *c, Stage: stage})
	cancel()
	if err != nil {
		return nil, err
	}

	// Generation can take a while; a reply may have landed in the meantime.
	fresh, err := co.Contacts.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status != c.Status {
		log.Debug("contact moved during generation", zap.String("status", string(fresh.Status)))
		return nil, appErrors.ErrStoreConflict
	}

	sendCtx, cancel := withTimeout(ctx, co.SendTimeout)
	messageID, err := co.Mailer.Send(sendCtx, model.OutboundEmail{
		ToName:  c.Name,
		To:      c.Email,
		Subject: email.Subject,
		Body:    email.Body,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	sentAt := now
	update := model.ContactUpdate{Status: stage.SentStatus(), LastEmailSent: &sentAt}
	switch stage {
	case model.StageDrip1:
		update.Drip1Date = &sentAt
	case model.StageDrip2:
		update.Drip2Date = &sentAt
	case model.StageDrip3:
		update.Drip3Date = &sentAt
	}

	applied, err := co.Contacts.CompareAndSet(ctx, c.ID, c.Status, update)
	if err != nil {
		log.Error("email sent but status commit failed", zap.String("message_id", messageID), zap.Error(err))
		return nil, err
	}
	if !applied {
		log.Warn("email sent but contact changed before commit", zap.String("message_id", messageID))
		return nil, appErrors.ErrStoreConflict
	}

	updated := *fresh
	update.Apply(&updated)

	entry := model.ContentEntry{Subject: email.Subject, Body: email.Body, MessageID: messageID, SentAt: &sentAt}
	if _, err := co.Content.Append(ctx, c.ID, model.SlotFor(stage), entry); err != nil {
		log.Warn("failed to record sent content", zap.Error(err))
	}

	log.Info("drip sent", logger.Email("to", c.Email), zap.String("message_id", messageID))
	return &updated, nil
}

// commitTerminal applies a terminal update to c. A conflicting
// commit is retried once against the freshly read contact. applied is false
// when the contact was already terminal.
func (co *Coordinator) commitTerminal(ctx context.Context, c *model.Contact, update model.ContactUpdate) (bool, *model.Contact, error) {
	current := c
	for attempt := 0; attempt < 2; attempt++ {
		if current.Status.Terminal() {
			return false, current, nil
		}
		u := update
		if floor := current.LatestStageDate(); floor != nil {
			u.ReplyDate = notBefore(u.ReplyDate, *floor)
			u.StoppedAt = notBefore(u.StoppedAt, *floor)
		}
		applied, err := co.Contacts.CompareAndSet(ctx, current.ID, current.Status, u)
		if err != nil {
			return false, current, err
		}
		if applied {
			updated := *current
			u.Apply(&updated)
			return true, &updated, nil
		}

		fresh, err := co.Contacts.GetByID(ctx, current.ID)
		if err != nil {
			return false, current, err
		}
		co.log().Debug("transition conflict, retrying against fresh state",
			zap.Int64("contact_id", current.ID), zap.String("status", string(fresh.Status)))
		current = fresh
	}
	if current.Status.Terminal() {
		return false, current, nil
	}
	return false, current, appErrors.ErrStoreConflict
}

// notBefore keeps reply and stop dates from landing before a stage date.
func notBefore(t *time.Time, floor time.Time) *time.Time {
	if t == nil || !t.Before(floor) {
		return t
	}
	f := floor
	return &f
}

// MarkReplied records a reply. Only the caller that gets applied=true may
// send the meeting email.
func (co *Coordinator) MarkReplied(ctx context.Context, c *model.Contact, sentiment model.Sentiment, at time.Time) (bool, *model.Contact, error) {
	s := sentiment
	replyAt := at
	return co.commitTerminal(ctx, c, model.ContactUpdate{
		Status:    model.StatusReplied,
		Sentiment: &s,
		ReplyDate: &replyAt,
	})
}

// Stop takes c out of the campaign. Later Advance and MarkReplied calls are no-ops.
func (co *Coordinator) Stop(ctx context.Context, c *model.Contact, at time.Time) (bool, *model.Contact, error) {
	stoppedAt := at
	return co.commitTerminal(ctx, c, model.ContactUpdate{Status: model.StatusStopped, StoppedAt: &stoppedAt})
}

// StopFromReply stops c because their reply asked us to, keeping the reply
// date and sentiment.
func (co *Coordinator) StopFromReply(ctx context.Context, c *model.Contact, sentiment model.Sentiment, at time.Time) (bool, *model.Contact, error) {
	s := sentiment
	t := at
	return co.commitTerminal(ctx, c, model.ContactUpdate{
		Status:    model.StatusStopped,
		Sentiment: &s,
		ReplyDate: &t,
		StoppedAt: &t,
	})
}

// SendMeeting answers a positive or neutral reply with the meeting-booking
// email, threaded under the reply. queries are questions the reply asked,
// answered ahead of the booking link.
func (co *Coordinator) SendMeeting(ctx context.Context, c *model.Contact, in model.InboundMessage, queries string) error {
	genCtx, cancel := withTimeout(ctx, co.GenerateTimeout)
	email, err := co.Generator.Generate(genCtx, generator.Request{
		Contact:      *c,
		Stage:        model.StageReply,
		ReplySubject: in.Subject,
		ReplyText:    ExtractReply(in.Body),
		Queries:      queries,
	})
	cancel()
	if err != nil {
		return err
	}

	out := ThreadedReply(c, in, email.Body)
	sendCtx, cancel := withTimeout(ctx, co.SendTimeout)
	messageID, err := co.Mailer.Send(sendCtx, out)
	cancel()
	if err != nil {
		return err
	}

	sentAt := co.now()
	if _, err := co.Contacts.CompareAndSet(ctx, c.ID, model.StatusReplied, model.ContactUpdate{
		Status:        model.StatusReplied,
		LastEmailSent: &sentAt,
	}); err != nil {
		co.log().Warn("failed to record last email sent", zap.Int64("contact_id", c.ID), zap.Error(err))
	}

	entry := model.ContentEntry{Subject: out.Subject, Body: email.Body, MessageID: messageID, SentAt: &sentAt}
	if _, err := co.Content.Append(ctx, c.ID, model.SlotMeeting, entry); err != nil {
		co.log().Warn("failed to record meeting content", zap.Int64("contact_id", c.ID), zap.Error(err))
	}
	co.log().Info("meeting email sent", zap.Int64("contact_id", c.ID), logger.Email("to", c.Email), zap.String("message_id", messageID))
	return nil
}

// SendStopAcknowledgment confirms an unsubscribe request.
func (co *Coordinator) SendStopAcknowledgment(ctx context.Context, c *model.Contact, in model.InboundMessage) error {
	out := ThreadedReply(c, in, RenderStopAcknowledgment(c, co.Sender))
	sendCtx, cancel := withTimeout(ctx, co.SendTimeout)
	defer cancel()
	messageID, err := co.Mailer.Send(sendCtx, out)
	if err != nil {
		return err
	}
	co.log().Info("stop acknowledgment sent", zap.Int64("contact_id", c.ID), zap.String("message_id", messageID))
	return nil
}

// IsConflict reports whether err is a lost optimistic commit.
func IsConflict(err error) bool {
	return errors.Is(err, appErrors.ErrStoreConflict)
}
