// internal/model/content_record.go
package model

import "time"

type Stage string

const (
    StageDrip1 Stage = "drip1"
    StageDrip2 Stage = "drip2"
    StageDrip3 Stage = "drip3"
    // StageReply is the meeting-booking message sent after a positive or neutral reply.
    StageReply Stage = "reply"
)

var DripStages = []Stage{StageDrip1, StageDrip2, StageDrip3}

// Index is 1-based for drip stages and 0 for anything else.
func (s Stage) Index() int {
    switch s {
    case StageDrip1:
        return 1
    case StageDrip2:
        return 2
    case StageDrip3:
        return 3
    }
    return 0
}

// SentStatus is the contact status committed once this stage is delivered.
func (s Stage) SentStatus() ContactStatus {
    switch s {
    case StageDrip1:
        return StatusDrip1Sent
    case StageDrip2:
        return StatusDrip2Sent
    case StageDrip3:
        return StatusDrip3Sent
    }
    return ""
}

// ContentEntry is one generated (or received) email kept for audit.
type ContentEntry struct {
    Subject   string     `db:"subject" json:"subject"`
    Body      string     `db:"body" json:"body"`
    MessageID string     `db:"message_id" json:"message_id,omitempty"`
    SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// ContentRecord holds everything sent to, or received from, one contact.
// Each slot is written once and never overwritten.
type ContentRecord struct {
    ContactID int64         `db:"contact_id" json:"contact_id"`
    Drip1     *ContentEntry `json:"drip1,omitempty"`
    Drip2     *ContentEntry `json:"drip2,omitempty"`
    Drip3     *ContentEntry `json:"drip3,omitempty"`
    Meeting   *ContentEntry `json:"meeting,omitempty"`
    Reply     *ContentEntry `json:"reply,omitempty"`
    CreatedAt time.Time     `db:"created_at" json:"created_at"`
    UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// ContentSlot names a column group of ContentRecord.
type ContentSlot string

const (
    SlotDrip1   ContentSlot = "drip1"
    SlotDrip2   ContentSlot = "drip2"
    SlotDrip3   ContentSlot = "drip3"
    SlotMeeting ContentSlot = "meeting"
    SlotReply   ContentSlot = "reply"
)

// SlotFor maps an outbound stage to where its content is stored.
func SlotFor(stage Stage) ContentSlot {
    if stage == StageReply {
        return SlotMeeting
    }
    return ContentSlot(stage)
}

func (r *ContentRecord) Entry(slot ContentSlot) *ContentEntry {
    switch slot {
    case SlotDrip1:
        return r.Drip1
    case SlotDrip2:
        return r.Drip2
    case SlotDrip3:
        return r.Drip3
    case SlotMeeting:
        return r.Meeting
    case SlotReply:
        return r.Reply
    }
    return nil
}

// SetIfEmpty fills slot with e unless it already holds content. It reports whether it wrote.
func (r *ContentRecord) SetIfEmpty(slot ContentSlot, e ContentEntry) bool {
    var dst **ContentEntry
    switch slot {
    case SlotDrip1:
        dst = &r.Drip1
    case SlotDrip2:
        dst = &r.Drip2
    case SlotDrip3:
        dst = &r.Drip3
    case SlotMeeting:
        dst = &r.Meeting
    case SlotReply:
        dst = &r.Reply
    default:
        return false
    }
    if *dst != nil {
        return false
    }
    cp := e
    *dst = &cp
    return true
}
