package repository

import (
    "context"
    "database/sql"
    "fmt"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/model"
)

type ContentRepositoryInterface interface {
    // Append stores e in slot unless the slot already holds content. It reports whether it wrote.
    Append(ctx context.Context, contactID int64, slot model.ContentSlot, e model.ContentEntry) (bool, error)
    // GetByContactID returns an empty record when nothing was stored yet.
    GetByContactID(ctx context.Context, contactID int64) (*model.ContentRecord, error)
}

type ContentRepository struct {
    DB *sql.DB
}

var _ ContentRepositoryInterface = (*ContentRepository)(nil)

var contentSlots = map[model.ContentSlot]bool{
    model.SlotDrip1:   true,
    model.SlotDrip2:   true,
    model.SlotDrip3:   true,
    model.SlotMeeting: true,
    model.SlotReply:   true,
}

func (r *ContentRepository) Append(ctx context.Context, contactID int64, slot model.ContentSlot, e model.ContentEntry) (bool, error) {
    if !contentSlots[slot] {
        return false, fmt.Errorf("unknown content slot %q", slot)
    }
    // Slot names come from the whitelist above, never from input.
    p := string(slot)
    query := fmt.Sprintf(`
        INSERT INTO contact_content (contact_id, %[1]s_subject, %[1]s_content, %[1]s_message_id, %[1]s_sent_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (contact_id) DO UPDATE SET
            %[1]s_subject=EXCLUDED.%[1]s_subject,
            %[1]s_content=EXCLUDED.%[1]s_content,
            %[1]s_message_id=EXCLUDED.%[1]s_message_id,
            %[1]s_sent_at=EXCLUDED.%[1]s_sent_at,
            updated_at=NOW()
        WHERE contact_content.%[1]s_content IS NULL
    `, p)

    res, err := r.DB.ExecContext(ctx, query, contactID, e.Subject, e.Body, nullString(e.MessageID), e.SentAt)
    if err != nil {
        return false, fmt.Errorf("append %s content: %w", slot, appErrors.FromStore(err))
    }
    n, _ := res.RowsAffected()
    return n == 1, nil
}

func (r *ContentRepository) GetByContactID(ctx context.Context, contactID int64) (*model.ContentRecord, error) {
    query := `
        SELECT contact_id,
            drip1_subject, drip1_content, drip1_message_id, drip1_sent_at,
            drip2_subject, drip2_content, drip2_message_id, drip2_sent_at,
            drip3_subject, drip3_content, drip3_message_id, drip3_sent_at,
            meeting_subject, meeting_content, meeting_message_id, meeting_sent_at,
            reply_subject, reply_content, reply_message_id, reply_sent_at,
            created_at, updated_at
        FROM contact_content WHERE contact_id=$1
    `
    rec := &model.ContentRecord{ContactID: contactID}
    var cols [5]nullableEntry
    dest := []any{&rec.ContactID}
    for i := range cols {
        dest = append(dest, &cols[i].subject, &cols[i].body, &cols[i].messageID, &cols[i].sentAt)
    }
    dest = append(dest, &rec.CreatedAt, &rec.UpdatedAt)

    err := r.DB.QueryRowContext(ctx, query, contactID).Scan(dest...)
    if err == sql.ErrNoRows {
        return rec, nil
    }
    if err != nil {
        return nil, fmt.Errorf("get content: %w", appErrors.FromStore(err))
    }

    rec.Drip1 = cols[0].entry()
    rec.Drip2 = cols[1].entry()
    rec.Drip3 = cols[2].entry()
    rec.Meeting = cols[3].entry()
    rec.Reply = cols[4].entry()
    return rec, nil
}

type nullableEntry struct {
    subject, body, messageID sql.NullString
    sentAt                   sql.NullTime
}

func (n nullableEntry) entry() *model.ContentEntry {
    if !n.body.Valid {
        return nil
    }
    e := &model.ContentEntry{Subject: n.subject.String, Body: n.body.String, MessageID: n.messageID.String}
    if n.sentAt.Valid {
        t := n.sentAt.Time
        e.SentAt = &t
    }
    return e
}

func nullString(s string) sql.NullString {
    return sql.NullString{String: s, Valid: s != ""}
}
