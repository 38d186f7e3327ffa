// Package mailer delivers campaign email (SMTP or SES) and reads replies over IMAP.
package mailer

import (
	"context"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

// Sender delivers one email and returns its Message-ID (without angle brackets).
// Failures come back as *appErrors.SendError.
type Sender interface {
	Send(ctx context.Context, email model.OutboundEmail) (string, error)
}

// FetchResult is one scan of the reply mailbox.
type FetchResult struct {
	Messages    []model.InboundMessage
	UIDValidity uint32
	// LastUID is the highest UID scanned, including messages that could not be parsed.
	LastUID uint32
}

// Fetcher returns messages that arrived after the checkpoint, oldest first.
type Fetcher interface {
	FetchNewMessages(ctx context.Context, since model.Checkpoint) (*FetchResult, error)
	Mailbox() string
}

type Mailer interface {
	Sender
	Fetcher
}

// Client pairs an outbound transport with the reply mailbox.
type Client struct {
	Sender
	Fetcher
}

var _ Mailer = Client{}
