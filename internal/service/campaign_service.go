// internal/service/campaign_service.go
package service

import (
    "context"
    "errors"
    "fmt"
    "math"
    "strings"
    "time"

    "github.com/emersion/go-message/mail"
    "go.uber.org/zap"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/generator"
    "github.com/unclebandit/dripmail-backend/internal/model"
    "github.com/unclebandit/dripmail-backend/internal/pkg/logger"
    "github.com/unclebandit/dripmail-backend/internal/repository"
)

// TickTrigger runs a tick on demand under the shared tick lock.
type TickTrigger interface {
    RunDrips(ctx context.Context) (*BatchReport, error)
    RunReplies(ctx context.Context) (*BatchReport, error)
    // Exclusive runs fn under the same lock, for sends outside a tick.
    Exclusive(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type CampaignService struct {
    ContactRepo repository.ContactRepositoryInterface
    ContentRepo repository.ContentRepositoryInterface
    Generator   generator.Generator
    Coordinator *Coordinator
    Ticks       TickTrigger

    // SendOnCreate sends stage 1 straight after AddContact.
    SendOnCreate    bool
    GenerateTimeout time.Duration

    Now func() time.Time
    Log *zap.Logger
}

type AddContactRequest struct {
    Name        string `json:"name"`
    Email       string `json:"email"`
    CompanyName string `json:"company_name"`
    CompanyURL  string `json:"company_url"`
    Industry    string `json:"industry"`
}

// StageStatus is one drip stage in a DripStatus.
type StageStatus struct {
    Stage  model.Stage `json:"stage"`
    Sent   bool        `json:"sent"`
    SentAt *time.Time  `json:"sent_at,omitempty"`
}

type DripStatus struct {
    ContactID     int64               `json:"contact_id"`
    Email         string              `json:"email"`
    Status        model.ContactStatus `json:"status"`
    Stages        []StageStatus       `json:"stages"`
    NextStage     model.Stage         `json:"next_stage,omitempty"`
    NextDueAt     *time.Time          `json:"next_due_at,omitempty"`
    ReadyToSend   bool                `json:"ready_to_send"`
    LastEmailSent *time.Time          `json:"last_email_sent,omitempty"`
    ReplyDate     *time.Time          `json:"reply_date,omitempty"`
    Sentiment     *model.Sentiment    `json:"sentiment,omitempty"`
    StoppedAt     *time.Time          `json:"stopped_at,omitempty"`
}

type CampaignStats struct {
    TotalContacts int                         `json:"total_contacts"`
    ByStatus      map[model.ContactStatus]int `json:"by_status"`
    Replied       int                         `json:"replied"`
    ReplyRate     float64                     `json:"reply_rate"`
    DripsSent     map[model.Stage]int         `json:"drips_sent"`
}

func (s *CampaignService) log() *zap.Logger { return logger.OrNop(s.Log) }

func (s *CampaignService) now() time.Time {
    if s.Now != nil {
        return s.Now()
    }
    return time.Now()
}

// AddContact validates and stores a new pending contact. A missing industry
// is inferred when company details are present; with SendOnCreate the first
// drip goes out immediately under the tick lock. A failure there, or a tick
// holding the lock, leaves the contact for the next tick.
func (s *CampaignService) AddContact(ctx context.Context, req AddContactRequest) (*model.Contact, error) {
    name := strings.TrimSpace(req.Name)
    if name == "" {
        return nil, fmt.Errorf("%w: name is required", appErrors.ErrInvalidContact)
    }
    addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
    if err != nil {
        return nil, fmt.Errorf("%w: invalid email %q", appErrors.ErrInvalidContact, req.Email)
    }

    c := &model.Contact{
        Name:        name,
        Email:       strings.ToLower(addr.Address),
        CompanyName: strings.TrimSpace(req.CompanyName),
        CompanyURL:  strings.TrimSpace(req.CompanyURL),
        Industry:    strings.TrimSpace(req.Industry),
        Status:      model.StatusPending,
        CreatedAt:   s.now(),
    }

    if c.Industry == "" && c.CompanyName != "" && c.CompanyURL != "" && s.Generator != nil {
        ictx, cancel := withTimeout(ctx, s.GenerateTimeout)
        industry, err := s.Generator.InferIndustry(ictx, c.CompanyName, c.CompanyURL)
        cancel()
        if err != nil {
            s.log().Warn("⚠️ industry inference failed", zap.String("company", c.CompanyName), zap.Error(err))
        } else {
            c.Industry = industry
        }
    }

    if err := s.ContactRepo.Create(ctx, c); err != nil {
        return nil, err
    }
    s.log().Info("contact added", zap.Int64("contact_id", c.ID), logger.Email("email", c.Email))

    if s.SendOnCreate && s.Coordinator != nil {
        updated, err := s.advanceExclusive(ctx, "send-on-create", c)
        if err != nil {
            s.log().Warn("⚠️ first drip not sent on create, leaving it for the next tick",
                zap.Int64("contact_id", c.ID), zap.Error(err))
            return s.reload(ctx, c), nil
        }
        return updated, nil
    }
    return c, nil
}

// advanceExclusive advances c while holding the tick lock, so a drip tick
// can never send the same stage concurrently.
func (s *CampaignService) advanceExclusive(ctx context.Context, name string, c *model.Contact) (*model.Contact, error) {
    if s.Ticks == nil {
        return s.Coordinator.Advance(ctx, c, s.now())
    }
    var updated *model.Contact
    err := s.Ticks.Exclusive(ctx, name, func(ctx context.Context) error {
        fresh, err := s.ContactRepo.GetByID(ctx, c.ID)
        if err != nil {
            return err
        }
        updated, err = s.Coordinator.Advance(ctx, fresh, s.now())
        return err
    })
    return updated, err
}

// reload returns the stored contact, or c when it cannot be read.
func (s *CampaignService) reload(ctx context.Context, c *model.Contact) *model.Contact {
    fresh, err := s.ContactRepo.GetByID(ctx, c.ID)
    if err != nil {
        return c
    }
    return fresh
}

// BackfillReport is the result of ProcessContactsWithoutIndustry.
type BackfillReport struct {
    Found   int            `json:"total_found"`
    Updated []int64        `json:"updated"`
    Started []int64        `json:"started"`
    Failed  []BatchFailure `json:"failed"`
}

// ProcessContactsWithoutIndustry fills in the industry of pending contacts
// that have company details but no industry, then sends their first drip.
// A contact whose industry cannot be inferred is left untouched.
func (s *CampaignService) ProcessContactsWithoutIndustry(ctx context.Context) (*BackfillReport, error) {
    pending, _, err := s.ContactRepo.List(ctx, model.ContactFilter{Statuses: []model.ContactStatus{model.StatusPending}})
    if err != nil {
        return nil, err
    }

    report := &BackfillReport{Updated: []int64{}, Started: []int64{}, Failed: []BatchFailure{}}
    for _, c := range pending {
        if c.Industry != "" || c.CompanyName == "" || c.CompanyURL == "" {
            continue
        }
        report.Found++
        if s.Generator == nil {
            report.Failed = append(report.Failed, BatchFailure{ContactID: c.ID, Reason: "no generator configured"})
            continue
        }

        ictx, cancel := withTimeout(ctx, s.GenerateTimeout)
        industry, err := s.Generator.InferIndustry(ictx, c.CompanyName, c.CompanyURL)
        cancel()
        if err == nil && strings.TrimSpace(industry) == "" {
            err = fmt.Errorf("empty industry")
        }
        if err != nil {
            report.Failed = append(report.Failed, BatchFailure{ContactID: c.ID, Reason: err.Error()})
            s.log().Warn("⚠️ industry inference failed", zap.Int64("contact_id", c.ID), zap.Error(err))
            continue
        }
        if _, err := s.ContactRepo.SetIndustry(ctx, c.ID, strings.TrimSpace(industry)); err != nil {
            if appErrors.IsFatalForTick(err) {
                return report, err
            }
            report.Failed = append(report.Failed, BatchFailure{ContactID: c.ID, Reason: err.Error()})
            continue
        }
        report.Updated = append(report.Updated, c.ID)

        if s.Coordinator == nil {
            continue
        }
        if _, err := s.advanceExclusive(ctx, "backfill", c); err != nil {
            if appErrors.IsFatalForTick(err) {
                return report, err
            }
            if !errors.Is(err, appErrors.ErrNotDue) && !errors.Is(err, appErrors.ErrTickInProgress) {
                report.Failed = append(report.Failed, BatchFailure{ContactID: c.ID, Reason: err.Error()})
            }
            s.log().Info("first drip not sent after backfill, leaving it for the next tick",
                zap.Int64("contact_id", c.ID), zap.Error(err))
            continue
        }
        report.Started = append(report.Started, c.ID)
    }

    s.log().Info("industry backfill finished", zap.Int("found", report.Found),
        zap.Int("updated", len(report.Updated)), zap.Int("started", len(report.Started)))
    return report, nil
}

// ListContacts fetches contacts with pagination. status may be empty or a
// comma separated list.
func (s *CampaignService) ListContacts(ctx context.Context, page, pageSize int, status string) ([]model.Contact, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    offset := (page - 1) * pageSize

    filter := model.ContactFilter{Offset: offset, Limit: pageSize}
    for _, raw := range strings.Split(status, ",") {
        raw = strings.TrimSpace(raw)
        if raw == "" {
            continue
        }
        st := model.ContactStatus(raw)
        if !st.Valid() {
            return nil, nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidContact, raw)
        }
        filter.Statuses = append(filter.Statuses, st)
    }

    ptrs, total, err := s.ContactRepo.List(ctx, filter)
    if err != nil {
        return nil, nil, err
    }

    contacts := make([]model.Contact, len(ptrs))
    for i, c := range ptrs {
        contacts[i] = *c
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }

    return contacts, pagination, nil
}

func (s *CampaignService) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
    return s.ContactRepo.GetByID(ctx, id)
}

// DeleteContact removes the contact and, by cascade, its content.
func (s *CampaignService) DeleteContact(ctx context.Context, id int64) error {
    if err := s.ContactRepo.Delete(ctx, id); err != nil {
        return err
    }
    s.log().Info("contact deleted", zap.Int64("contact_id", id))
    return nil
}

// GetContent returns what was sent to and received from the contact.
func (s *CampaignService) GetContent(ctx context.Context, id int64) (*model.ContentRecord, error) {
    if _, err := s.ContactRepo.GetByID(ctx, id); err != nil {
        return nil, err
    }
    rec, err := s.ContentRepo.GetByContactID(ctx, id)
    if err != nil {
        return nil, err
    }
    if rec == nil {
        rec = &model.ContentRecord{ContactID: id}
    }
    return rec, nil
}

func (s *CampaignService) GetDripStatus(ctx context.Context, id int64) (*DripStatus, error) {
    c, err := s.ContactRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }

    ds := &DripStatus{
        ContactID:     c.ID,
        Email:         c.Email,
        Status:        c.Status,
        LastEmailSent: c.LastEmailSent,
        ReplyDate:     c.ReplyDate,
        Sentiment:     c.Sentiment,
        StoppedAt:     c.StoppedAt,
    }
    for _, stage := range model.DripStages {
        at := c.StageDate(stage)
        ds.Stages = append(ds.Stages, StageStatus{Stage: stage, Sent: at != nil, SentAt: at})
    }

    if s.Coordinator != nil {
        if stage, due, ok := s.Coordinator.NextDue(c); ok {
            ds.NextStage = stage
            ds.NextDueAt = &due
            ds.ReadyToSend = !s.now().Before(due)
        }
    }
    return ds, nil
}

// StopContact is the operator stop. Stopping a contact that already left
// the campaign is rejected.
func (s *CampaignService) StopContact(ctx context.Context, id int64) (*model.Contact, error) {
    c, err := s.ContactRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    applied, updated, err := s.Coordinator.Stop(ctx, c, s.now())
    if err != nil {
        return nil, err
    }
    if !applied {
        return updated, fmt.Errorf("%w: contact is already %s", appErrors.ErrInvalidTransition, updated.Status)
    }
    s.log().Info("contact stopped by operator", zap.Int64("contact_id", id))
    return updated, nil
}

// TriggerDrips runs a drip tick now. When another tick holds the lock the
// trigger is a no-op and the report says so.
func (s *CampaignService) TriggerDrips(ctx context.Context) (*BatchReport, error) {
    return busyAsNoop(s.Ticks.RunDrips(ctx))
}

func (s *CampaignService) CheckReplies(ctx context.Context) (*BatchReport, error) {
    return busyAsNoop(s.Ticks.RunReplies(ctx))
}

func busyAsNoop(report *BatchReport, err error) (*BatchReport, error) {
    if errors.Is(err, appErrors.ErrTickInProgress) {
        report = newBatchReport()
        report.AlreadyRunning = true
        return report, nil
    }
    return report, err
}

// GetStats reports totals per status, the reply rate over contacts that were
// sent at least one drip, and drips sent per stage.
func (s *CampaignService) GetStats(ctx context.Context) (*CampaignStats, error) {
    byStatus, err := s.ContactRepo.CountByStatus(ctx)
    if err != nil {
        return nil, err
    }
    drips, err := s.ContactRepo.CountStagesSent(ctx)
    if err != nil {
        return nil, err
    }

    stats := &CampaignStats{
        ByStatus:  make(map[model.ContactStatus]int, len(model.AllStatuses)),
        DripsSent: make(map[model.Stage]int, len(model.DripStages)),
    }
    for _, st := range model.AllStatuses {
        stats.ByStatus[st] = byStatus[st]
        stats.TotalContacts += byStatus[st]
    }
    for _, stage := range model.DripStages {
        stats.DripsSent[stage] = drips[stage]
    }

    stats.Replied = byStatus[model.StatusReplied]
    if contacted := drips[model.StageDrip1]; contacted > 0 {
        stats.ReplyRate = math.Round(float64(stats.Replied)/float64(contacted)*10000) / 100
    }
    return stats, nil
}
