package service

import "fmt"

// BatchFailure is one item a tick could not process. Reply ticks fill
// MessageID and leave ContactID zero for messages without a contact.
type BatchFailure struct {
	ContactID int64  `json:"contact_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason"`
}

// BatchReport summarises one drip or reply tick. Succeeded holds the ids of
// contacts that advanced, in processing order.
type BatchReport struct {
	Succeeded []int64        `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    []BatchFailure `json:"failed"`
	// AlreadyRunning is set on a manual trigger that found another tick
	// holding the lock; nothing was processed.
	AlreadyRunning bool `json:"already_running,omitempty"`
}

func newBatchReport() *BatchReport {
	return &BatchReport{Succeeded: []int64{}, Failed: []BatchFailure{}}
}

func (r *BatchReport) succeed(contactID int64) {
	r.Succeeded = append(r.Succeeded, contactID)
}

func (r *BatchReport) fail(contactID int64, messageID string, err error) {
	r.Failed = append(r.Failed, BatchFailure{ContactID: contactID, MessageID: messageID, Reason: err.Error()})
}

func (r *BatchReport) String() string {
	return fmt.Sprintf("succeeded=%d skipped=%d failed=%d", len(r.Succeeded), r.Skipped, len(r.Failed))
}
