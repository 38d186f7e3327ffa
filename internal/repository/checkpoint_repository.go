package repository

import (
    "context"
    "database/sql"
    "fmt"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/model"
)

type CheckpointRepositoryInterface interface {
    // Load returns a zero checkpoint for a mailbox never scanned before.
    Load(ctx context.Context, mailbox string) (*model.Checkpoint, error)
    // Advance moves the high-water mark forward. It never moves it back
    // unless the mailbox UIDVALIDITY changed.
    Advance(ctx context.Context, cp model.Checkpoint) error
    IsProcessed(ctx context.Context, messageID string) (bool, error)
    // MarkProcessed reports false if the message id was already recorded.
    MarkProcessed(ctx context.Context, pm model.ProcessedMessage) (bool, error)
}

type CheckpointRepository struct {
    DB *sql.DB
}

var _ CheckpointRepositoryInterface = (*CheckpointRepository)(nil)

func (r *CheckpointRepository) Load(ctx context.Context, mailbox string) (*model.Checkpoint, error) {
    query := `
        SELECT mailbox, uid_validity, last_uid, last_received_at, updated_at
        FROM reply_checkpoints WHERE mailbox=$1
    `
    var cp model.Checkpoint
    var validity, last int64
    err := r.DB.QueryRowContext(ctx, query, mailbox).Scan(&cp.Mailbox, &validity, &last, &cp.LastReceivedAt, &cp.UpdatedAt)
    if err == sql.ErrNoRows {
        return &model.Checkpoint{Mailbox: mailbox}, nil
    }
    if err != nil {
        return nil, fmt.Errorf("load checkpoint: %w", appErrors.FromStore(err))
    }
    cp.UIDValidity = uint32(validity)
    cp.LastUID = uint32(last)
    return &cp, nil
}

func (r *CheckpointRepository) Advance(ctx context.Context, cp model.Checkpoint) error {
    query := `
        INSERT INTO reply_checkpoints (mailbox, uid_validity, last_uid, last_received_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (mailbox) DO UPDATE SET
            last_uid = CASE
                WHEN reply_checkpoints.uid_validity = EXCLUDED.uid_validity
                    THEN GREATEST(reply_checkpoints.last_uid, EXCLUDED.last_uid)
                ELSE EXCLUDED.last_uid
            END,
            uid_validity = EXCLUDED.uid_validity,
            last_received_at = COALESCE(EXCLUDED.last_received_at, reply_checkpoints.last_received_at),
            updated_at = NOW()
    `
    _, err := r.DB.ExecContext(ctx, query, cp.Mailbox, int64(cp.UIDValidity), int64(cp.LastUID), cp.LastReceivedAt)
    if err != nil {
        return fmt.Errorf("advance checkpoint: %w", appErrors.FromStore(err))
    }
    return nil
}

func (r *CheckpointRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
    var exists bool
    err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id=$1)`, messageID).Scan(&exists)
    if err != nil {
        return false, fmt.Errorf("check processed message: %w", appErrors.FromStore(err))
    }
    return exists, nil
}

func (r *CheckpointRepository) MarkProcessed(ctx context.Context, pm model.ProcessedMessage) (bool, error) {
    query := `
        INSERT INTO processed_messages (message_id, contact_id, outcome, processed_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id) DO NOTHING
    `
    res, err := r.DB.ExecContext(ctx, query, pm.MessageID, pm.ContactID, pm.Outcome, pm.ProcessedAt)
    if err != nil {
        return false, fmt.Errorf("mark processed message: %w", appErrors.FromStore(err))
    }
    n, _ := res.RowsAffected()
    return n == 1, nil
}
