package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	"github.com/hackgods/clinician-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Templates   *scheduling.TemplateStore
	Inventory   *scheduling.Inventory
	Booking     *scheduling.Coordinator
	Maintenance *maintenance.Scheduler
	Defaults    MaintenanceDefaults
	Health      *HealthHandler
	Location    *time.Location
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	v := newValidator()
	log := cfg.Logger
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoveryMiddleware(log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/clinicians/{clinicianID}", func(r chi.Router) {
		r.Get("/templates", listTemplatesHandler(cfg.Templates, log))
		r.Put("/templates", setWeeklyTemplateHandler(cfg.Templates, v, log))
		r.Get("/templates/{weekday}", getTemplateHandler(cfg.Templates, log))
		r.Put("/templates/{weekday}", setTemplateHandler(cfg.Templates, v, log))
		r.Delete("/templates/{weekday}", deleteTemplateHandler(cfg.Templates, log))

		r.Get("/slots", listSlotsHandler(cfg.Inventory, loc, log))
		r.Post("/slots/generate", generateSlotsHandler(cfg.Inventory, v, log))
		r.Get("/slots/optimize", optimizeSlotsHandler(cfg.Maintenance, log))
	})

	r.Route("/slots/{slotID}", func(r chi.Router) {
		r.Get("/", getSlotHandler(cfg.Booking, loc, log))
		r.Post("/reserve", reserveSlotHandler(cfg.Booking, v, log))
		r.Post("/release", releaseSlotHandler(cfg.Booking, v, log))
		r.Post("/block", blockSlotHandler(cfg.Booking, v, loc, log))
		r.Post("/unblock", unblockSlotHandler(cfg.Booking, loc, log))
	})

	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(cfg.Booking, log))
		r.Post("/reschedule", rescheduleAppointmentHandler(cfg.Booking, v, log))
		r.Post("/status", advanceAppointmentHandler(cfg.Booking, v, log))
	})

	r.Route("/maintenance", func(r chi.Router) {
		r.Post("/generate", generateAllHandler(cfg.Maintenance, cfg.Defaults, v, log))
		r.Post("/cleanup", cleanupHandler(cfg.Maintenance, cfg.Defaults, v, log))
		r.Post("/backfill", backfillHandler(cfg.Maintenance, v, log))
	})

	return r
}
