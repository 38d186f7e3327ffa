package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/generator"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/repository"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

func TestPositiveReplySendsThreadedMeetingEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	_, err := h.co.Advance(ctx, c, t0)
	require.NoError(t, err)

	in := reply("ANA@acme.example", "drip1 for Acme", "Interested, let's talk.\n\nOn Mon, Mar 3, 2025, Dana wrote:\n> Hi Ana", t0.Add(time.Hour))
	h.mail.Deliver(in)

	report, err := h.replies.Tick(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, report.Succeeded)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusReplied, stored.Status)
	assert.Equal(t, model.SentimentPositive, *stored.Sentiment)

	sent := h.mail.SentTo("ana@acme.example")
	require.Len(t, sent, 2)
	meeting := sent[1]
	assert.Equal(t, "Re: drip1 for Acme", meeting.Subject)
	assert.Equal(t, in.MessageID, meeting.InReplyTo)
	assert.Equal(t, []string{"out-1@pulp.example", in.MessageID}, meeting.References)
	assert.Contains(t, meeting.Body, "> Interested, let's talk.")

	rec, _ := h.content.GetByContactID(ctx, c.ID)
	require.NotNil(t, rec.Reply)
	assert.Equal(t, "Interested, let's talk.", rec.Reply.Body)
	require.NotNil(t, rec.Meeting)
	assert.Equal(t, "out-2@pulp.example", rec.Meeting.MessageID)
}

func TestNegativeReplyWithoutStopPhraseSendsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Thanks, but we are not interested right now.", t0))
	_, err := h.replies.Tick(ctx, t0)
	require.NoError(t, err)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusReplied, stored.Status)
	assert.Equal(t, model.SentimentNegative, *stored.Sentiment)
	assert.Empty(t, h.mail.Sent)
}

func TestStopRequestStopsAndAcknowledges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Please remove me from this list.", t0))
	report, err := h.replies.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, report.Succeeded)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusStopped, stored.Status)
	require.NotNil(t, stored.StoppedAt)
	assert.Equal(t, model.SentimentNegative, *stored.Sentiment)

	sent := h.mail.SentTo("ana@acme.example")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "removed from our mailing list")
	assert.Contains(t, sent[0].Body, "Dana Reyes")
	assert.Equal(t, "Re: Hello", sent[0].Subject)

	_, err = h.drips.Tick(ctx, t0.Add(30*day))
	require.NoError(t, err)
	assert.Len(t, h.mail.Sent, 1)
}

func TestStopPhraseOverridesFailedClassifier(t *testing.T) {
	h := newHarness(t)
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	h.classifier.Err = errors.New("model overloaded")
	h.replies.AcknowledgeStop = false

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Do not contact me again.", t0))
	_, err := h.replies.Tick(context.Background(), t0)
	require.NoError(t, err)

	assert.Equal(t, model.StatusStopped, h.get(t, c.ID).Status)
	assert.Empty(t, h.mail.Sent)
}

func TestClassifierFailureTreatedAsNeutral(t *testing.T) {
	h := newHarness(t)
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	h.classifier.Err = errors.New("timeout")

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Who is this?", t0))
	report, err := h.replies.Tick(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, report.Succeeded)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusReplied, stored.Status)
	assert.Equal(t, model.SentimentNeutral, *stored.Sentiment)
	assert.Len(t, h.mail.Sent, 1, "neutral replies get the meeting email")
}

func TestUnmatchedAndTerminalSenders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	_, _, err := h.co.Stop(ctx, c, t0)
	require.NoError(t, err)

	stranger := reply("nobody@else.example", "Hi", "Who are you?", t0)
	late := reply("ana@acme.example", "Hi", "Actually, interested!", t0.Add(time.Minute))
	h.mail.Deliver(stranger)
	h.mail.Deliver(late)

	report, err := h.replies.Tick(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, model.StatusStopped, h.get(t, c.ID).Status)
	assert.Empty(t, h.mail.Sent)

	done, _ := h.checkpoints.IsProcessed(ctx, stranger.MessageID)
	assert.True(t, done)
	done, _ = h.checkpoints.IsProcessed(ctx, late.MessageID)
	assert.True(t, done)

	cp, _ := h.checkpoints.Load(ctx, "INBOX")
	assert.Equal(t, uint32(2), cp.LastUID)
}

func TestProcessedMessagesSurviveRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addContact(t, "Ana Lima", "ana@acme.example")
	bo := h.addContact(t, "Bo Chen", "bo@beta.example")

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Interested!", t0))
	h.mail.Deliver(reply("bo@beta.example", "Hello", "Sounds interesting, let's talk", t0.Add(time.Minute)))

	// The first tick dies on the second message before the checkpoint moves.
	failing := &failOnEmail{MemoryContactRepository: h.contacts, email: "bo@beta.example"}
	crashed := *h.replies
	crashed.Contacts = failing
	_, err := crashed.Tick(ctx, t0.Add(time.Hour))
	require.ErrorIs(t, err, appErrors.ErrStoreUnavailable)

	cp, _ := h.checkpoints.Load(ctx, "INBOX")
	assert.Equal(t, uint32(0), cp.LastUID)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 1)

	// After a restart the whole batch is fetched again.
	report, err := h.replies.Tick(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []int64{bo.ID}, report.Succeeded)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 1, "no second meeting email")
	assert.Len(t, h.mail.SentTo("bo@beta.example"), 1)

	cp, _ = h.checkpoints.Load(ctx, "INBOX")
	assert.Equal(t, uint32(2), cp.LastUID)
}

type failOnEmail struct {
	*repository.MemoryContactRepository
	email string
}

func (f *failOnEmail) GetByEmail(ctx context.Context, email string) (*model.Contact, error) {
	if strings.EqualFold(email, f.email) {
		return nil, appErrors.ErrStoreUnavailable
	}
	return f.MemoryContactRepository.GetByEmail(ctx, email)
}

func TestSimultaneousCheckRepliesSendOneMeetingEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	h.mail.Deliver(reply("ana@acme.example", "Hello", "Interested, let's talk", t0))

	// Two reconcilers without a shared lock, as two processes would be.
	other := *h.replies
	var wg sync.WaitGroup
	for _, r := range []*service.ReplyReconciler{h.replies, &other} {
		wg.Add(1)
		go func(r *service.ReplyReconciler) {
			defer wg.Done()
			if _, err := r.Tick(ctx, t0); err != nil {
				t.Errorf("tick: %v", err)
			}
		}(r)
	}
	wg.Wait()

	assert.Equal(t, model.StatusReplied, h.get(t, c.ID).Status)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 1)
}

func TestSimultaneousManualTriggersShareTheLock(t *testing.T) {
	h := newHarness(t)
	h.addContact(t, "Ana Lima", "ana@acme.example")
	h.mail.Deliver(reply("ana@acme.example", "Hello", "Interested, let's talk", t0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var busy, ran int
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.svc.CheckReplies(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				t.Errorf("check replies: %v", err)
			case report.AlreadyRunning:
				busy++
			default:
				ran++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, ran+busy)
	assert.GreaterOrEqual(t, ran, 1)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 1)
}

// A manual trigger that finds a tick running is a no-op, not an error.
func TestManualTriggerWhileTickRunsIsNoop(t *testing.T) {
	h := newHarness(t)
	h.addContact(t, "Ana Lima", "ana@acme.example")

	var report *service.BatchReport
	var triggerErr error
	err := h.runner.Exclusive(context.Background(), "drips", func(ctx context.Context) error {
		report, triggerErr = h.svc.TriggerDrips(ctx)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, triggerErr)
	assert.True(t, report.AlreadyRunning)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, h.mail.Sent)
}

// Mail the contact sent before our latest email is not a reply to it.
func TestMessageBeforeLastSendIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	_, err := h.drips.Tick(ctx, t0)
	require.NoError(t, err)
	_, err = h.drips.Tick(ctx, t0.Add(3*day+12*time.Hour))
	require.NoError(t, err)

	old := reply("ana@acme.example", "Hello", "Interested, let's talk", t0.Add(-7*day))
	h.mail.Deliver(old)
	report, err := h.replies.Tick(ctx, t0.Add(4*day))
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusDrip2Sent, stored.Status)
	assert.Nil(t, stored.ReplyDate)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 2, "no meeting email")
	done, _ := h.checkpoints.IsProcessed(ctx, old.MessageID)
	assert.True(t, done)
}

// A reply dated before a stage the contact was sent in the meantime still
// lands after it.
func TestReplyDateNeverPrecedesStageDates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	stale := h.get(t, c.ID)

	_, err := h.drips.Tick(ctx, t0.Add(time.Hour))
	require.NoError(t, err)

	applied, updated, err := h.co.MarkReplied(ctx, stale, model.SentimentPositive, t0)
	require.NoError(t, err)
	require.True(t, applied)

	stored := h.get(t, c.ID)
	require.NotNil(t, stored.ReplyDate)
	assert.False(t, stored.ReplyDate.Before(*stored.Drip1Date))
	assert.True(t, updated.ReplyDate.Equal(*stored.ReplyDate))
}

func TestStopPhraseInPositiveReplyDoesNotStop(t *testing.T) {
	h := newHarness(t)
	c := h.addContact(t, "Ana Lima", "ana@acme.example")

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Interested! Please don't remove me from this list, let's talk.", t0))
	_, err := h.replies.Tick(context.Background(), t0)
	require.NoError(t, err)

	stored := h.get(t, c.ID)
	assert.Equal(t, model.StatusReplied, stored.Status)
	assert.Equal(t, model.SentimentPositive, *stored.Sentiment)
	assert.Len(t, h.mail.SentTo("ana@acme.example"), 1, "meeting email, not a stop acknowledgment")
}

func TestQuestionsReachTheMeetingEmail(t *testing.T) {
	h := newHarness(t)
	c := h.addContact(t, "Ana Lima", "ana@acme.example")
	var got generator.Request
	h.gen.OnGenerate = func(req generator.Request) { got = req }

	h.mail.Deliver(reply("ana@acme.example", "Hello", "Interested. What does onboarding look like?", t0))
	_, err := h.replies.Tick(context.Background(), t0)
	require.NoError(t, err)

	assert.Equal(t, model.StatusReplied, h.get(t, c.ID).Status)
	assert.Equal(t, model.StageReply, got.Stage)
	assert.Equal(t, "What does onboarding look like?", got.Queries)
}

func TestFetchFailureAbortsTick(t *testing.T) {
	h := newHarness(t)
	h.mail.FetchErr = errors.New("imap: connection refused")

	_, err := h.replies.Tick(context.Background(), t0)
	assert.Error(t, err)
	cp, _ := h.checkpoints.Load(context.Background(), "INBOX")
	assert.Equal(t, uint32(0), cp.UIDValidity)
}
