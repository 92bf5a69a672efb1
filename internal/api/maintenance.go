package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type MaintenanceDefaults struct {
	DaysAhead     int
	RetentionDays int
}

type batchResponse struct {
	Partial bool `json:"partial"`
	*maintenance.BatchReport
}

func generateAllHandler(sched *maintenance.Scheduler, defaults MaintenanceDefaults, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateAllRequest
		if !decode(w, r, v, &req) {
			return
		}
		days := defaults.DaysAhead
		if req.DaysAhead != nil {
			days = *req.DaysAhead
		}

		report, err := sched.GenerateForAllClinicians(r.Context(), days)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{Partial: report.Err() != nil, BatchReport: report})
	}
}

func cleanupHandler(sched *maintenance.Scheduler, defaults MaintenanceDefaults, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CleanupRequest
		if !decode(w, r, v, &req) {
			return
		}
		days := defaults.RetentionDays
		if req.OlderThanDays != nil {
			days = *req.OlderThanDays
		}

		report, err := sched.CleanupOldSlots(r.Context(), days)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, CleanupResponse{
			DeletedCount: report.DeletedCount,
			CutoffDate:   report.CutoffDate.Format(scheduling.DateLayout),
		})
	}
}

func backfillHandler(sched *maintenance.Scheduler, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BackfillRequest
		if !decode(w, r, v, &req) {
			return
		}
		start, _ := scheduling.ParseDate(req.StartDate)
		end, _ := scheduling.ParseDate(req.EndDate)

		report, err := sched.GenerateMissingSlots(r.Context(), uuid.MustParse(req.ClinicianID), start, end)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		dates := make([]string, 0, len(report.MissingDates))
		for _, d := range report.MissingDates {
			dates = append(dates, d.Format(scheduling.DateLayout))
		}
		writeJSON(w, http.StatusOK, BackfillResponse{
			ClinicianID:    report.ClinicianID,
			MissingDates:   dates,
			TotalGenerated: report.TotalGenerated,
		})
	}
}
