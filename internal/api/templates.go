package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

// toTemplate converts a request whose times already passed the timeofday check.
func (req TemplateRequest) toTemplate(weekday time.Weekday) scheduling.AvailabilityTemplate {
	t := scheduling.AvailabilityTemplate{
		Weekday:      weekday,
		WorkStart:    scheduling.MustTimeOfDay(req.WorkStart),
		WorkEnd:      scheduling.MustTimeOfDay(req.WorkEnd),
		SlotDuration: req.SlotDuration,
		BufferTime:   req.BufferTime,
		IsActive:     true,
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	for _, b := range req.Breaks {
		t.Breaks = append(t.Breaks, scheduling.Break{
			Start:  scheduling.MustTimeOfDay(b.Start),
			End:    scheduling.MustTimeOfDay(b.End),
			Reason: b.Reason,
		})
	}
	return t
}

func setTemplateHandler(store *scheduling.TemplateStore, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}
		weekday, ok := weekdayParam(w, r)
		if !ok {
			return
		}

		var req TemplateRequest
		if !decode(w, r, v, &req) {
			return
		}

		t := req.toTemplate(weekday)
		t.ClinicianID = clinicianID

		if _, err := store.SetTemplate(r.Context(), t); err != nil {
			handleError(w, r, log, err)
			return
		}

		stored, err := store.GetTemplate(r.Context(), clinicianID, weekday)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toTemplateResponse(stored))
	}
}

func setWeeklyTemplateHandler(store *scheduling.TemplateStore, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}

		var req WeeklyTemplateRequest
		if !decode(w, r, v, &req) {
			return
		}

		templates := make([]scheduling.AvailabilityTemplate, 0, len(req.Templates))
		for _, tr := range req.Templates {
			if tr.Weekday == nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "every weekly entry needs a weekday")
				return
			}
			templates = append(templates, tr.toTemplate(time.Weekday(*tr.Weekday)))
		}

		result := store.SetWeeklyTemplate(r.Context(), clinicianID, templates)

		resp := WeeklyTemplateResponse{ClinicianID: clinicianID, Partial: result.Err() != nil}
		for _, d := range result.Days {
			day := WeekdayResultResponse{Weekday: int(d.Weekday)}
			if d.Err != nil {
				day.Error = d.Err.Error()
				var verr *scheduling.ValidationError
				if errors.As(d.Err, &verr) {
					day.Violations = verr.Violations
				}
			} else {
				id := d.TemplateID
				day.TemplateID = &id
			}
			resp.Days = append(resp.Days, day)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getTemplateHandler(store *scheduling.TemplateStore, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}
		weekday, ok := weekdayParam(w, r)
		if !ok {
			return
		}

		t, err := store.GetTemplate(r.Context(), clinicianID, weekday)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toTemplateResponse(t))
	}
}

func listTemplatesHandler(store *scheduling.TemplateStore, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}

		ts, err := store.ListTemplates(r.Context(), clinicianID)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		resp := make([]TemplateResponse, 0, len(ts))
		for i := range ts {
			resp = append(resp, toTemplateResponse(&ts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteTemplateHandler(store *scheduling.TemplateStore, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}
		weekday, ok := weekdayParam(w, r)
		if !ok {
			return
		}

		existed, err := store.DeleteTemplate(r.Context(), clinicianID, weekday)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		if !existed {
			writeError(w, http.StatusNotFound, "template_not_found", "no template for this weekday")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
