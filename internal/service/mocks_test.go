package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/dripmail-backend/internal/config"
	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/generator"
	"github.com/unclebandit/dripmail-backend/internal/mailer"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/repository"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// MockClock is a settable clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// MockGenerator writes predictable content. Fail makes a stage fail;
// OnGenerate runs before content is returned.
type MockGenerator struct {
	mu          sync.Mutex
	Fail        map[model.Stage]error
	IndustryErr error
	OnGenerate  func(req generator.Request)
	Calls       []model.Stage
}

func (g *MockGenerator) Generate(ctx context.Context, req generator.Request) (generator.Email, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, req.Stage)
	err := g.Fail[req.Stage]
	hook := g.OnGenerate
	g.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return generator.Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: err}
	}
	return generator.Email{
		Subject: fmt.Sprintf("%s for %s", req.Stage, req.Contact.CompanyName),
		Body:    fmt.Sprintf("Hi %s, this is %s.", req.Contact.Name, req.Stage),
	}, nil
}

func (g *MockGenerator) InferIndustry(ctx context.Context, companyName, companyURL string) (string, error) {
	if g.IndustryErr != nil {
		return "", &appErrors.GenerationError{Stage: "industry", Err: g.IndustryErr}
	}
	return "Retail", nil
}

// MockMailer records sends and serves an inbox by UID.
type MockMailer struct {
	mu       sync.Mutex
	next     int
	Sent     []model.OutboundEmail
	SendErr  error
	OnSend   func(email model.OutboundEmail)
	Inbox    []model.InboundMessage
	FetchErr error
	Validity uint32
}

func (m *MockMailer) Send(ctx context.Context, email model.OutboundEmail) (string, error) {
	if m.OnSend != nil {
		m.OnSend(email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", &appErrors.SendError{To: email.To, Err: m.SendErr}
	}
	m.next++
	m.Sent = append(m.Sent, email)
	return fmt.Sprintf("out-%d@pulp.example", m.next), nil
}

func (m *MockMailer) Mailbox() string { return "INBOX" }

func (m *MockMailer) FetchNewMessages(ctx context.Context, since model.Checkpoint) (*mailer.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	validity := m.Validity
	if validity == 0 {
		validity = 1
	}
	last := since.LastUID
	if since.UIDValidity != validity {
		last = 0
	}
	res := &mailer.FetchResult{UIDValidity: validity}
	for _, msg := range m.Inbox {
		if msg.UID > last {
			res.Messages = append(res.Messages, msg)
			res.LastUID = msg.UID
		}
	}
	return res, nil
}

func (m *MockMailer) Deliver(msg model.InboundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.UID = uint32(len(m.Inbox) + 1)
	m.Inbox = append(m.Inbox, msg)
}

func (m *MockMailer) SentTo(addr string) []model.OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OutboundEmail
	for _, e := range m.Sent {
		if e.To == addr {
			out = append(out, e)
		}
	}
	return out
}

// MockClassifier labels replies by keyword.
type MockClassifier struct {
	Err error
}

func (c *MockClassifier) Classify(ctx context.Context, text string) (generator.Classification, error) {
	if c.Err != nil {
		return generator.Classification{}, &appErrors.ClassificationError{Err: c.Err}
	}
	lower := strings.ToLower(text)
	queries := generator.Questions(text)
	switch {
	case strings.Contains(lower, "unsubscribe"):
		return generator.Classification{Sentiment: model.SentimentNegative, StopRequested: true}, nil
	case strings.Contains(lower, "not interested"):
		return generator.Classification{Sentiment: model.SentimentNegative, Queries: queries}, nil
	case strings.Contains(lower, "let's talk"), strings.Contains(lower, "interested"):
		return generator.Classification{Sentiment: model.SentimentPositive, Queries: queries}, nil
	}
	return generator.Classification{Sentiment: model.SentimentNeutral, Queries: queries}, nil
}

type harness struct {
	clock       *MockClock
	contacts    *repository.MemoryContactRepository
	content     *repository.MemoryContentRepository
	checkpoints *repository.MemoryCheckpointRepository
	gen         *MockGenerator
	mail        *MockMailer
	classifier  *MockClassifier
	co          *service.Coordinator
	drips       *service.DripScheduler
	replies     *service.ReplyReconciler
	runner      *service.Runner
	svc         *service.CampaignService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:       &MockClock{now: t0},
		contacts:    repository.NewMemoryContactRepository(),
		content:     repository.NewMemoryContentRepository(),
		checkpoints: repository.NewMemoryCheckpointRepository(),
		gen:         &MockGenerator{},
		mail:        &MockMailer{},
		classifier:  &MockClassifier{},
	}
	h.contacts.OnDelete = h.content.DeleteContact

	h.co = &service.Coordinator{
		Contacts:        h.contacts,
		Content:         h.content,
		Generator:       h.gen,
		Mailer:          h.mail,
		Sender:          generator.Sender{Name: "Dana Reyes", Company: "Pulp", Role: "Chief Strategist"},
		Offsets:         []time.Duration{0, 3 * day, 5 * day},
		GenerateTimeout: time.Second,
		SendTimeout:     time.Second,
		Now:             h.clock.Now,
	}
	h.drips = &service.DripScheduler{Contacts: h.contacts, Coordinator: h.co}
	h.replies = &service.ReplyReconciler{
		Contacts:        h.contacts,
		Content:         h.content,
		Checkpoints:     h.checkpoints,
		Fetcher:         h.mail,
		Classifier:      h.classifier,
		Coordinator:     h.co,
		StopPhrases:     generator.NewStopPhraseDetector(config.DefaultStopPhrases),
		AcknowledgeStop: true,
		ClassifyTimeout: time.Second,
	}
	h.runner = &service.Runner{Drips: h.drips, Replies: h.replies, Now: h.clock.Now}
	h.svc = &service.CampaignService{
		ContactRepo: h.contacts,
		ContentRepo: h.content,
		Generator:   h.gen,
		Coordinator: h.co,
		Ticks:       h.runner,
		Now:         h.clock.Now,
	}
	return h
}

func (h *harness) addContact(t *testing.T, name, email string) *model.Contact {
	t.Helper()
	c := &model.Contact{Name: name, Email: email, CompanyName: "Acme", CompanyURL: "acme.example", CreatedAt: h.clock.Now()}
	if err := h.contacts.Create(context.Background(), c); err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

func (h *harness) get(t *testing.T, id int64) *model.Contact {
	t.Helper()
	c, err := h.contacts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	return c
}

func reply(from, subject, body string, at time.Time) model.InboundMessage {
	return model.InboundMessage{
		MessageID:  fmt.Sprintf("%s-%d@mail.example", strings.Split(from, "@")[0], at.Unix()),
		From:       from,
		Subject:    subject,
		Body:       body,
		ReceivedAt: at,
		References: []string{"out-1@pulp.example"},
	}
}
