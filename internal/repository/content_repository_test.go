package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

func TestContentAppendOnlyOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := &ContentRepository{DB: db}
	sent := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := model.ContentEntry{Subject: "Hello", Body: "Body", MessageID: "<m1@example.com>", SentAt: &sent}

	mock.ExpectExec(`WHERE contact_content.drip2_content IS NULL`).
		WithArgs(int64(4), "Hello", "Body", sqlmock.AnyArg(), sent).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`WHERE contact_content.drip2_content IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	wrote, err := repo.Append(context.Background(), 4, model.SlotDrip2, entry)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = repo.Append(context.Background(), 4, model.SlotDrip2, entry)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentAppendRejectsUnknownSlot(t *testing.T) {
	db, _ := newMock(t)
	repo := &ContentRepository{DB: db}
	_, err := repo.Append(context.Background(), 1, model.ContentSlot("drip1_content; DROP TABLE contacts"), model.ContentEntry{})
	assert.Error(t, err)
}

func TestContentGetMissingIsEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := &ContentRepository{DB: db}
	mock.ExpectQuery(`FROM contact_content WHERE contact_id=\$1`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	rec, err := repo.GetByContactID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.ContactID)
	assert.Nil(t, rec.Drip1)
}

func TestCheckpointLoadAndMark(t *testing.T) {
	db, mock := newMock(t)
	repo := &CheckpointRepository{DB: db}

	mock.ExpectQuery(`FROM reply_checkpoints WHERE mailbox=\$1`).WithArgs("INBOX").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO processed_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO processed_messages`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`GREATEST\(reply_checkpoints.last_uid, EXCLUDED.last_uid\)`).
		WithArgs("INBOX", int64(11), int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cp, err := repo.Load(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cp.LastUID)

	pm := model.ProcessedMessage{MessageID: "<r1@example.com>", Outcome: model.OutcomeReplied, ProcessedAt: time.Now()}
	first, err := repo.MarkProcessed(context.Background(), pm)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := repo.MarkProcessed(context.Background(), pm)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, repo.Advance(context.Background(), model.Checkpoint{Mailbox: "INBOX", UIDValidity: 11, LastUID: 42}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
