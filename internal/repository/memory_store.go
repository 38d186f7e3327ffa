package repository

import (
    "context"
    "sort"
    "strings"
    "sync"
    "time"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/model"
)

// MemoryContactRepository keeps contacts in process memory. It backs local
// runs without Postgres and the service tests. Reads return copies so callers
// hold snapshots, like rows read from the database.
type MemoryContactRepository struct {
    mu       sync.Mutex
    nextID   int64
    contacts map[int64]*model.Contact
    // OnDelete is called after a contact is removed, to cascade into other stores.
    OnDelete func(id int64)
}

func NewMemoryContactRepository() *MemoryContactRepository {
    return &MemoryContactRepository{contacts: make(map[int64]*model.Contact)}
}

var _ ContactRepositoryInterface = (*MemoryContactRepository)(nil)

func copyContact(c *model.Contact) *model.Contact {
    cp := *c
    return &cp
}

func (m *MemoryContactRepository) Create(ctx context.Context, c *model.Contact) error {
    m.mu.Lock()
    defer m.mu.Unlock()

    for _, existing := range m.contacts {
        if strings.EqualFold(existing.Email, c.Email) {
            return appErrors.ErrDuplicateContact
        }
    }
    m.nextID++
    c.ID = m.nextID
    if c.Status == "" {
        c.Status = model.StatusPending
    }
    if c.CreatedAt.IsZero() {
        c.CreatedAt = time.Now()
    }
    c.UpdatedAt = c.CreatedAt
    m.contacts[c.ID] = copyContact(c)
    return nil
}

func (m *MemoryContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    c, ok := m.contacts[id]
    if !ok {
        return nil, appErrors.NewContactNotFound(id)
    }
    return copyContact(c), nil
}

func (m *MemoryContactRepository) GetByEmail(ctx context.Context, email string) (*model.Contact, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    email = strings.TrimSpace(email)
    for _, c := range m.contacts {
        if strings.EqualFold(c.Email, email) {
            return copyContact(c), nil
        }
    }
    return nil, nil
}

func (m *MemoryContactRepository) List(ctx context.Context, filter model.ContactFilter) ([]*model.Contact, int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()

    want := make(map[model.ContactStatus]bool, len(filter.Statuses))
    for _, s := range filter.Statuses {
        want[s] = true
    }
    var matched []*model.Contact
    for _, c := range m.contacts {
        if len(want) > 0 && !want[c.Status] {
            continue
        }
        matched = append(matched, copyContact(c))
    }
    sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

    total := len(matched)
    if filter.Limit <= 0 {
        return matched, total, nil
    }
    start := filter.Offset
    if start > total {
        return []*model.Contact{}, total, nil
    }
    end := start + filter.Limit
    if end > total {
        end = total
    }
    return matched[start:end], total, nil
}

func (m *MemoryContactRepository) CompareAndSet(ctx context.Context, id int64, expected model.ContactStatus, u model.ContactUpdate) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    c, ok := m.contacts[id]
    if !ok || c.Status != expected {
        return false, nil
    }
    u.Apply(c)
    c.UpdatedAt = time.Now()
    return true, nil
}

func (m *MemoryContactRepository) SetIndustry(ctx context.Context, id int64, industry string) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    c, ok := m.contacts[id]
    if !ok {
        return false, appErrors.NewContactNotFound(id)
    }
    if c.Industry != "" {
        return false, nil
    }
    c.Industry = industry
    c.UpdatedAt = time.Now()
    return true, nil
}

func (m *MemoryContactRepository) Delete(ctx context.Context, id int64) error {
    m.mu.Lock()
    _, ok := m.contacts[id]
    delete(m.contacts, id)
    m.mu.Unlock()
    if !ok {
        return appErrors.NewContactNotFound(id)
    }
    if m.OnDelete != nil {
        m.OnDelete(id)
    }
    return nil
}

func (m *MemoryContactRepository) CountByStatus(ctx context.Context) (map[model.ContactStatus]int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    counts := make(map[model.ContactStatus]int, len(model.AllStatuses))
    for _, s := range model.AllStatuses {
        counts[s] = 0
    }
    for _, c := range m.contacts {
        counts[c.Status]++
    }
    return counts, nil
}

func (m *MemoryContactRepository) CountStagesSent(ctx context.Context) (map[model.Stage]int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    counts := map[model.Stage]int{}
    for _, c := range m.contacts {
        for _, st := range model.DripStages {
            if c.StageDate(st) != nil {
                counts[st]++
            }
        }
    }
    return counts, nil
}

// MemoryContentRepository is the in-memory ContentRecord store.
type MemoryContentRepository struct {
    mu      sync.Mutex
    records map[int64]*model.ContentRecord
}

func NewMemoryContentRepository() *MemoryContentRepository {
    return &MemoryContentRepository{records: make(map[int64]*model.ContentRecord)}
}

var _ ContentRepositoryInterface = (*MemoryContentRepository)(nil)

func (m *MemoryContentRepository) Append(ctx context.Context, contactID int64, slot model.ContentSlot, e model.ContentEntry) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    rec, ok := m.records[contactID]
    if !ok {
        now := time.Now()
        rec = &model.ContentRecord{ContactID: contactID, CreatedAt: now, UpdatedAt: now}
        m.records[contactID] = rec
    }
    wrote := rec.SetIfEmpty(slot, e)
    if wrote {
        rec.UpdatedAt = time.Now()
    }
    return wrote, nil
}

func (m *MemoryContentRepository) GetByContactID(ctx context.Context, contactID int64) (*model.ContentRecord, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    rec, ok := m.records[contactID]
    if !ok {
        return &model.ContentRecord{ContactID: contactID}, nil
    }
    cp := *rec
    return &cp, nil
}

// DeleteContact drops the record of a removed contact.
func (m *MemoryContentRepository) DeleteContact(id int64) {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.records, id)
}

// MemoryCheckpointRepository is the in-memory reply checkpoint store.
type MemoryCheckpointRepository struct {
    mu          sync.Mutex
    checkpoints map[string]model.Checkpoint
    processed   map[string]model.ProcessedMessage
}

func NewMemoryCheckpointRepository() *MemoryCheckpointRepository {
    return &MemoryCheckpointRepository{
        checkpoints: make(map[string]model.Checkpoint),
        processed:   make(map[string]model.ProcessedMessage),
    }
}

var _ CheckpointRepositoryInterface = (*MemoryCheckpointRepository)(nil)

func (m *MemoryCheckpointRepository) Load(ctx context.Context, mailbox string) (*model.Checkpoint, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    cp, ok := m.checkpoints[mailbox]
    if !ok {
        return &model.Checkpoint{Mailbox: mailbox}, nil
    }
    return &cp, nil
}

func (m *MemoryCheckpointRepository) Advance(ctx context.Context, cp model.Checkpoint) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    cur, ok := m.checkpoints[cp.Mailbox]
    if ok && cur.UIDValidity == cp.UIDValidity && cur.LastUID > cp.LastUID {
        cp.LastUID = cur.LastUID
    }
    if cp.LastReceivedAt == nil && ok {
        cp.LastReceivedAt = cur.LastReceivedAt
    }
    cp.UpdatedAt = time.Now()
    m.checkpoints[cp.Mailbox] = cp
    return nil
}

func (m *MemoryCheckpointRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    _, ok := m.processed[messageID]
    return ok, nil
}

func (m *MemoryCheckpointRepository) MarkProcessed(ctx context.Context, pm model.ProcessedMessage) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.processed[pm.MessageID]; ok {
        return false, nil
    }
    m.processed[pm.MessageID] = pm
    return true, nil
}
