package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

// LLMGenerator writes and classifies emails through any Completer.
type LLMGenerator struct {
	completer    Completer
	sender       Sender
	calendarLink string
	log          *zap.Logger
}

func NewLLMGenerator(c Completer, sender Sender, calendarLink string, log *zap.Logger) *LLMGenerator {
	return &LLMGenerator{completer: c, sender: sender, calendarLink: calendarLink, log: logger.OrNop(log)}
}

var (
	_ Generator  = (*LLMGenerator)(nil)
	_ Classifier = (*LLMGenerator)(nil)
)

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Email, error) {
	prompt, err := stagePrompt(req, g.calendarLink)
	if err != nil {
		return Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: err}
	}

	temp := float32(0.7)
	if req.Stage == model.StageReply {
		temp = 0.3
	}
	raw, err := g.completer.Complete(ctx, systemPrompt(g.sender), prompt, CompleteOptions{Temperature: temp, MaxTokens: 800})
	if err != nil {
		return Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: err}
	}

	email, err := ParseEmail(raw, fallbackSubject(req))
	if err != nil {
		return Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: err}
	}
	if req.Stage == model.StageReply && g.calendarLink != "" && !strings.Contains(email.Body, g.calendarLink) {
		email.Body += "\n\nYou can book a convenient time on my calendar here: " + g.calendarLink
	}

	g.log.Debug("generated email",
		zap.String("provider", g.completer.Name()),
		zap.String("stage", string(req.Stage)),
		zap.Int64("contact_id", req.Contact.ID))
	return email, nil
}

func (g *LLMGenerator) InferIndustry(ctx context.Context, companyName, companyURL string) (string, error) {
	raw, err := g.completer.Complete(ctx, "You are a business analyst.", fmt.Sprintf(industryPrompt, companyName, companyURL),
		CompleteOptions{Temperature: 0.2, MaxTokens: 20})
	if err != nil {
		return "", &appErrors.GenerationError{Stage: "industry", Err: err}
	}
	industry, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	industry = strings.Trim(strings.TrimSpace(industry), `."'`)
	if industry == "" {
		return "", &appErrors.GenerationError{Stage: "industry", Err: fmt.Errorf("empty answer")}
	}
	return industry, nil
}

type classifyResponse struct {
	Sentiment   string `json:"sentiment"`
	Reasoning   string `json:"reasoning"`
	StopContact bool   `json:"stopContact"`
	HasQuery    bool   `json:"hasQuery"`
	Queries     string `json:"queries"`
}

func (g *LLMGenerator) Classify(ctx context.Context, text string) (Classification, error) {
	raw, err := g.completer.Complete(ctx, "You classify B2B email replies.", fmt.Sprintf(classifyPrompt, text),
		CompleteOptions{Temperature: 0.2, MaxTokens: 300, JSON: true})
	if err != nil {
		return Classification{}, &appErrors.ClassificationError{Err: err}
	}
	return parseClassification(raw)
}

func parseClassification(raw string) (Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Classification{}, &appErrors.ClassificationError{Err: fmt.Errorf("parse classifier output: %w", err)}
	}

	var s model.Sentiment
	switch strings.ToUpper(strings.TrimSpace(resp.Sentiment)) {
	case "POSITIVE":
		s = model.SentimentPositive
	case "NEGATIVE":
		s = model.SentimentNegative
	case "NEUTRAL":
		s = model.SentimentNeutral
	default:
		return Classification{}, &appErrors.ClassificationError{Err: fmt.Errorf("unknown sentiment %q", resp.Sentiment)}
	}
	if resp.StopContact {
		s = model.SentimentNegative
	}
	cls := Classification{Sentiment: s, Reasoning: resp.Reasoning, StopRequested: resp.StopContact}
	if q := strings.TrimSpace(resp.Queries); resp.HasQuery && q != "" && !strings.EqualFold(q, "none") {
		cls.Queries = q
	}
	return cls, nil
}

func fallbackSubject(req Request) string {
	switch req.Stage {
	case model.StageDrip2:
		return "A quick example for " + req.Contact.CompanyName
	case model.StageDrip3:
		return "Closing the loop"
	case model.StageReply:
		return ReplySubject(req.ReplySubject)
	}
	return "An idea for " + req.Contact.CompanyName
}

// ReplySubject prefixes "Re:" unless the subject already carries it.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	if subject == "" {
		return "Re: our conversation"
	}
	return "Re: " + subject
}
