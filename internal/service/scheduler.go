package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/repository"
)

var activeStatuses = []model.ContactStatus{model.StatusPending, model.StatusDrip1Sent, model.StatusDrip2Sent}

// DripScheduler advances every contact whose next stage is due.
type DripScheduler struct {
	Contacts    repository.ContactRepositoryInterface
	Coordinator *Coordinator
	Log         *zap.Logger
}

// Tick makes at most one advance per contact. Generation and send failures
// are recorded and retried on the next tick; a store outage ends the tick.
func (s *DripScheduler) Tick(ctx context.Context, now time.Time) (*BatchReport, error) {
	log := logger.OrNop(s.Log)
	report := newBatchReport()

	contacts, _, err := s.Contacts.List(ctx, model.ContactFilter{Statuses: activeStatuses})
	if err != nil {
		log.Error("drip tick aborted: cannot list contacts", zap.Error(err))
		return report, err
	}

	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, due, ok := s.Coordinator.NextDue(c)
		if !ok || now.Before(due) {
			report.Skipped++
			continue
		}

		_, err := s.Coordinator.Advance(ctx, c, now)
		switch {
		case err == nil:
			report.succeed(c.ID)
		case IsConflict(err):
			log.Debug("drip skipped after concurrent transition", zap.Int64("contact_id", c.ID))
			report.Skipped++
		case appErrors.IsFatalForTick(err):
			report.fail(c.ID, "", err)
			log.Error("drip tick aborted: store unavailable", zap.Int64("contact_id", c.ID), zap.Error(err))
			return report, err
		default:
			report.fail(c.ID, "", err)
			log.Warn("drip failed, will retry next tick", zap.Int64("contact_id", c.ID), zap.Error(err))
		}
	}

	log.Info("drip tick finished", zap.Int("contacts", len(contacts)), zap.Stringer("report", report))
	return report, nil
}
