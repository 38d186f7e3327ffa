// internal/model/contact.go
package model

import "time"

type ContactStatus string

const (
    StatusPending   ContactStatus = "pending"
    StatusDrip1Sent ContactStatus = "drip1_sent"
    StatusDrip2Sent ContactStatus = "drip2_sent"
    StatusDrip3Sent ContactStatus = "drip3_sent"
    StatusReplied   ContactStatus = "replied"
    StatusStopped   ContactStatus = "stopped"
)

// AllStatuses is the display order used by stats and filters.
var AllStatuses = []ContactStatus{
    StatusPending, StatusDrip1Sent, StatusDrip2Sent, StatusDrip3Sent, StatusReplied, StatusStopped,
}

func (s ContactStatus) Valid() bool {
    for _, v := range AllStatuses {
        if v == s {
            return true
        }
    }
    return false
}

// Terminal reports whether no further transition may leave this status.
func (s ContactStatus) Terminal() bool {
    return s == StatusReplied || s == StatusStopped
}

// NextStage returns the drip stage a contact in this status is waiting for.
// ok is false once the sequence is exhausted or the contact left the campaign.
func (s ContactStatus) NextStage() (Stage, bool) {
    switch s {
    case StatusPending:
        return StageDrip1, true
    case StatusDrip1Sent:
        return StageDrip2, true
    case StatusDrip2Sent:
        return StageDrip3, true
    }
    return "", false
}

type Sentiment string

const (
    SentimentPositive Sentiment = "positive"
    SentimentNegative Sentiment = "negative"
    SentimentNeutral  Sentiment = "neutral"
)

type Contact struct {
    ID            int64         `db:"id" json:"id"`
    Name          string        `db:"name" json:"name"`
    Email         string        `db:"email" json:"email"`
    CompanyName   string        `db:"company_name" json:"company_name"`
    CompanyURL    string        `db:"company_url" json:"company_url"`
    Industry      string        `db:"industry" json:"industry"`
    Status        ContactStatus `db:"status" json:"status"`
    Sentiment     *Sentiment    `db:"sentiment" json:"sentiment,omitempty"`
    LastEmailSent *time.Time    `db:"last_email_sent" json:"last_email_sent,omitempty"`
    Drip1Date     *time.Time    `db:"drip1_date" json:"drip1_date,omitempty"`
    Drip2Date     *time.Time    `db:"drip2_date" json:"drip2_date,omitempty"`
    Drip3Date     *time.Time    `db:"drip3_date" json:"drip3_date,omitempty"`
    ReplyDate     *time.Time    `db:"reply_date" json:"reply_date,omitempty"`
    StoppedAt     *time.Time    `db:"stopped_at" json:"stopped_at,omitempty"`
    CreatedAt     time.Time     `db:"created_at" json:"created_at"`
    UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// StageDate returns the send time recorded for a drip stage, nil if unsent.
func (c *Contact) StageDate(stage Stage) *time.Time {
    switch stage {
    case StageDrip1:
        return c.Drip1Date
    case StageDrip2:
        return c.Drip2Date
    case StageDrip3:
        return c.Drip3Date
    }
    return nil
}

// LatestStageDate returns the most recent drip send date, nil if none was sent.
func (c *Contact) LatestStageDate() *time.Time {
    var latest *time.Time
    for _, d := range []*time.Time{c.Drip1Date, c.Drip2Date, c.Drip3Date} {
        if d != nil && (latest == nil || d.After(*latest)) {
            latest = d
        }
    }
    return latest
}

// Anchor is the timestamp the next stage's offset is measured from:
// created_at for stage 1, the previous stage's send date otherwise.
func (c *Contact) Anchor() (time.Time, bool) {
    switch c.Status {
    case StatusPending:
        return c.CreatedAt, true
    case StatusDrip1Sent:
        if c.Drip1Date != nil {
            return *c.Drip1Date, true
        }
    case StatusDrip2Sent:
        if c.Drip2Date != nil {
            return *c.Drip2Date, true
        }
    }
    return time.Time{}, false
}

// ContactUpdate carries the columns a transition commits. Nil fields are left as is.
type ContactUpdate struct {
    Status        ContactStatus
    Sentiment     *Sentiment
    LastEmailSent *time.Time
    Drip1Date     *time.Time
    Drip2Date     *time.Time
    Drip3Date     *time.Time
    ReplyDate     *time.Time
    StoppedAt     *time.Time
}

// Apply copies the update onto c, as the store does on a successful commit.
// Stage, reply and stop dates are set once and never overwritten.
func (u ContactUpdate) Apply(c *Contact) {
    c.Status = u.Status
    if u.Sentiment != nil {
        c.Sentiment = u.Sentiment
    }
    if u.LastEmailSent != nil {
        c.LastEmailSent = u.LastEmailSent
    }
    setOnce(&c.Drip1Date, u.Drip1Date)
    setOnce(&c.Drip2Date, u.Drip2Date)
    setOnce(&c.Drip3Date, u.Drip3Date)
    setOnce(&c.ReplyDate, u.ReplyDate)
    setOnce(&c.StoppedAt, u.StoppedAt)
}

func setOnce(dst **time.Time, v *time.Time) {
    if *dst == nil && v != nil {
        t := *v
        *dst = &t
    }
}

type ContactFilter struct {
    Statuses []ContactStatus
    Offset   int
    Limit    int
}
