// internal/model/inbound_message.go
package model

import "time"

// InboundMessage is a message pulled from the reply mailbox.
type InboundMessage struct {
    UID        uint32    `json:"uid"`
    MessageID  string    `json:"message_id"`
    From       string    `json:"from"`
    Subject    string    `json:"subject"`
    Body       string    `json:"body"`
    InReplyTo  string    `json:"in_reply_to,omitempty"`
    References []string  `json:"references,omitempty"`
    ReceivedAt time.Time `json:"received_at"`
}

// Checkpoint is the reply mailbox high-water mark.
type Checkpoint struct {
    Mailbox        string     `db:"mailbox" json:"mailbox"`
    UIDValidity    uint32     `db:"uid_validity" json:"uid_validity"`
    LastUID        uint32     `db:"last_uid" json:"last_uid"`
    LastReceivedAt *time.Time `db:"last_received_at" json:"last_received_at,omitempty"`
    UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Outcome values recorded against processed inbound messages.
const (
    OutcomeReplied   = "replied"
    OutcomeStopped   = "stopped"
    OutcomeUnmatched = "unmatched"
    OutcomeIgnored   = "ignored"
)

type ProcessedMessage struct {
    MessageID   string    `db:"message_id" json:"message_id"`
    ContactID   *int64    `db:"contact_id" json:"contact_id,omitempty"`
    Outcome     string    `db:"outcome" json:"outcome"`
    ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// OutboundEmail is what the mailer delivers.
type OutboundEmail struct {
    ToName     string
    To         string
    Subject    string
    Body       string
    InReplyTo  string
    References []string
}
