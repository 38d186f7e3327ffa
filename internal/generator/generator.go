// Package generator produces campaign email content and classifies replies.
// LLM backends (Gemini, Bedrock) sit behind Completer; the template backend
// needs no network and is used for local runs and tests.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

// Request describes one email to write.
type Request struct {
	Contact model.Contact
	Stage   model.Stage
	// ReplySubject and ReplyText are set for StageReply.
	ReplySubject string
	ReplyText    string
	// Queries are questions the reply asked; the answer addresses them.
	Queries string
}

type Email struct {
	Subject string
	Body    string
}

// Generator writes stage content. Failures come back as *appErrors.GenerationError.
type Generator interface {
	Generate(ctx context.Context, req Request) (Email, error)
	// InferIndustry guesses a one or two word industry from company details.
	InferIndustry(ctx context.Context, companyName, companyURL string) (string, error)
}

type Classification struct {
	Sentiment     model.Sentiment `json:"sentiment"`
	Reasoning     string          `json:"reasoning"`
	StopRequested bool            `json:"stop_contact"`
	// Queries holds the questions the reply asked, empty when it asked none.
	Queries string `json:"queries,omitempty"`
}

// Classifier labels a reply. Failures come back as *appErrors.ClassificationError.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Completer is a single-turn text completion backend.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts CompleteOptions) (string, error)
	Name() string
}

type CompleteOptions struct {
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// Sender is who the emails are written as.
type Sender struct {
	Name    string
	Company string
	Role    string
}

const subjectSeparator = "|||"

// ParseEmail splits model output of the form "subject|||body". Output without
// the separator falls back to a leading "Subject:" line, then to fallbackSubject.
func ParseEmail(raw, fallbackSubject string) (Email, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Email{}, fmt.Errorf("empty model output")
	}

	var subject, body string
	if i := strings.Index(raw, subjectSeparator); i >= 0 {
		subject = raw[:i]
		body = raw[i+len(subjectSeparator):]
	} else {
		first, rest, found := strings.Cut(raw, "\n")
		if found && strings.HasPrefix(strings.ToLower(strings.TrimSpace(first)), "subject:") {
			subject = first
			body = rest
		} else {
			body = raw
		}
	}

	subject = strings.TrimSpace(subject)
	if len(subject) >= len("subject:") && strings.EqualFold(subject[:len("subject:")], "subject:") {
		subject = strings.TrimSpace(subject[len("subject:"):])
	}
	subject = strings.Trim(subject, `"*`)
	if subject == "" {
		subject = fallbackSubject
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Email{}, fmt.Errorf("model output has no body")
	}
	return Email{Subject: subject, Body: body}, nil
}
