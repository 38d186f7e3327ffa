package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
)

func TestMemoryContactLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContactRepository()

	c := &model.Contact{Name: "Asha", Email: "asha@example.com"}
	require.NoError(t, repo.Create(ctx, c))
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, model.StatusPending, c.Status)

	err := repo.Create(ctx, &model.Contact{Name: "Dup", Email: "ASHA@example.com"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateContact)

	found, err := repo.GetByEmail(ctx, "Asha@Example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, c.ID, found.ID)

	now := time.Now()
	ok, err := repo.CompareAndSet(ctx, c.ID, model.StatusPending, model.ContactUpdate{Status: model.StatusDrip1Sent, Drip1Date: &now, LastEmailSent: &now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSet(ctx, c.ID, model.StatusPending, model.ContactUpdate{Status: model.StatusDrip1Sent})
	require.NoError(t, err)
	assert.False(t, ok)

	// snapshot held by the caller is not mutated by the commit
	assert.Equal(t, model.StatusPending, found.Status)

	counts, err := repo.CountStagesSent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StageDrip1])

	require.NoError(t, repo.Delete(ctx, c.ID))
	assert.True(t, appErrors.IsNotFound(repo.Delete(ctx, c.ID)))
}

func TestMemoryContactSetOnceDates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContactRepository()
	c := &model.Contact{Name: "B", Email: "b@example.com"}
	require.NoError(t, repo.Create(ctx, c))

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)
	_, err := repo.CompareAndSet(ctx, c.ID, model.StatusPending, model.ContactUpdate{Status: model.StatusReplied, ReplyDate: &first})
	require.NoError(t, err)
	_, err = repo.CompareAndSet(ctx, c.ID, model.StatusReplied, model.ContactUpdate{Status: model.StatusReplied, ReplyDate: &later})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.ReplyDate.Equal(first))
}

func TestMemorySetIndustry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContactRepository()
	c := &model.Contact{Name: "C", Email: "c@example.com"}
	require.NoError(t, repo.Create(ctx, c))

	ok, err := repo.SetIndustry(ctx, c.ID, "Logistics")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetIndustry(ctx, c.ID, "Retail")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := repo.GetByID(ctx, c.ID)
	assert.Equal(t, "Logistics", got.Industry)

	_, err = repo.SetIndustry(ctx, 99, "Retail")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestMemoryListPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContactRepository()
	for _, e := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, repo.Create(ctx, &model.Contact{Name: e, Email: e}))
	}
	page, total, err := repo.List(ctx, model.ContactFilter{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c@x.io", page[0].Email)

	page, _, err = repo.List(ctx, model.ContactFilter{Offset: 10, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryContentAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContentRepository()

	wrote, err := repo.Append(ctx, 1, model.SlotDrip1, model.ContentEntry{Subject: "one", Body: "first"})
	require.NoError(t, err)
	assert.True(t, wrote)
	wrote, err = repo.Append(ctx, 1, model.SlotDrip1, model.ContentEntry{Subject: "two", Body: "second"})
	require.NoError(t, err)
	assert.False(t, wrote)

	rec, err := repo.GetByContactID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", rec.Drip1.Body)

	repo.DeleteContact(1)
	rec, err = repo.GetByContactID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, rec.Drip1)
}

func TestMemoryCheckpointMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCheckpointRepository()

	require.NoError(t, repo.Advance(ctx, model.Checkpoint{Mailbox: "INBOX", UIDValidity: 1, LastUID: 10}))
	require.NoError(t, repo.Advance(ctx, model.Checkpoint{Mailbox: "INBOX", UIDValidity: 1, LastUID: 4}))
	cp, err := repo.Load(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), cp.LastUID)

	// a new UIDVALIDITY resets the mark
	require.NoError(t, repo.Advance(ctx, model.Checkpoint{Mailbox: "INBOX", UIDValidity: 2, LastUID: 3}))
	cp, err = repo.Load(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cp.LastUID)
}
