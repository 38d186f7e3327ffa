package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/controller"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

// NewRouter mounts every campaign route.
func NewRouter(ctrl *controller.CampaignController, h *CampaignHandler, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger.OrNop(log)))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.HealthHandler)

	r.Post("/contacts", ctrl.AddContact)
	r.Get("/contacts", ctrl.ListContacts)
	r.Get("/contacts/{id}", ctrl.GetContact)
	r.Delete("/contacts/{id}", ctrl.DeleteContact)
	r.Get("/contacts/{id}/drip-status", ctrl.GetDripStatus)
	r.Get("/contacts/{id}/content", ctrl.GetContent)
	r.Post("/contacts/{id}/stop", ctrl.StopContact)

	r.Post("/trigger-drips", h.TriggerDripsHandler)
	r.Post("/check-replies", h.CheckRepliesHandler)
	r.Post("/process-contacts", h.ProcessContactsHandler)
	r.Get("/stats", h.StatsHandler)
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("📥 request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
