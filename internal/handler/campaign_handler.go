// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/controller"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
	"github.com/unclebandit/dripmail-backend/internal/queue"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

// CampaignHandler holds the campaign-wide operations: manual ticks, stats
// and health.
type CampaignHandler struct {
	Service *service.CampaignService
	// Queue, when set, lets callers hand a tick to the worker with ?async=true.
	Queue queue.Queue
	// Ping reports store health for /healthz.
	Ping func(ctx context.Context) error
	Log  *zap.Logger
}

func (h *CampaignHandler) log() *zap.Logger { return logger.OrNop(h.Log) }

// TriggerDripsHandler runs a drip tick now and returns its report. A tick
// already in progress gives an empty report with already_running set.
func (h *CampaignHandler) TriggerDripsHandler(w http.ResponseWriter, r *http.Request) {
	if h.enqueue(w, r, queue.TriggerDrips) {
		return
	}
	report, err := h.Service.TriggerDrips(r.Context())
	if err != nil {
		controller.WriteError(w, h.log(), err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, report)
}

// CheckRepliesHandler runs a reply tick now and returns its report.
func (h *CampaignHandler) CheckRepliesHandler(w http.ResponseWriter, r *http.Request) {
	if h.enqueue(w, r, queue.TriggerReplies) {
		return
	}
	report, err := h.Service.CheckReplies(r.Context())
	if err != nil {
		controller.WriteError(w, h.log(), err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, report)
}

// ProcessContactsHandler infers missing industries and starts those contacts' drips.
func (h *CampaignHandler) ProcessContactsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.ProcessContactsWithoutIndustry(r.Context())
	if err != nil {
		controller.WriteError(w, h.log(), err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, report)
}

// enqueue publishes the trigger instead of running it when ?async=true.
func (h *CampaignHandler) enqueue(w http.ResponseWriter, r *http.Request, kind queue.TriggerKind) bool {
	if r.URL.Query().Get("async") != "true" || h.Queue == nil {
		return false
	}
	cmd := queue.TriggerCommand{Kind: kind, RequestedBy: "http", RequestedAt: time.Now().UTC()}
	if err := h.Queue.Publish(cmd.Topic(), cmd); err != nil {
		h.log().Error("❌ failed to enqueue trigger", zap.String("kind", string(kind)), zap.Error(err))
		controller.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failed to enqueue trigger"})
		return true
	}
	h.log().Info("📤 trigger enqueued", zap.String("kind", string(kind)))
	controller.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "kind": string(kind)})
	return true
}

func (h *CampaignHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetStats(r.Context())
	if err != nil {
		controller.WriteError(w, h.log(), err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, stats)
}

func (h *CampaignHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			controller.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
