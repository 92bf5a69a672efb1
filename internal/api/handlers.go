package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := scheduling.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// decode reads a JSON body into dst and runs struct validation. It writes the
// error response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return false
		}
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:      "invalid_request",
				Details:    "request body failed validation",
				Violations: details,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// weekdayParam accepts 0-6 (Sunday first) or an English day name.
func weekdayParam(w http.ResponseWriter, r *http.Request) (time.Weekday, bool) {
	raw := chi.URLParam(r, "weekday")
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), true
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(raw, d.String()) {
			return d, true
		}
	}
	writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0-6 or a day name")
	return 0, false
}

func dateQuery(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	d, err := scheduling.ParseDate(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, err.Error())
		return time.Time{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps the scheduling error taxonomy onto HTTP responses.
func handleError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var verr *scheduling.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "validation_failed",
			Details:    "input violates scheduling rules",
			Violations: verr.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotBooked):
		writeError(w, http.StatusNotFound, "slot_not_booked", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotBlocked):
		writeError(w, http.StatusConflict, "slot_not_blocked", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentMoved):
		writeError(w, http.StatusConflict, "appointment_modified", err.Error())
	case errors.Is(err, scheduling.ErrOperationInProgress):
		writeError(w, http.StatusConflict, "operation_in_progress", "another operation is in progress, please retry shortly")
	case errors.Is(err, scheduling.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case scheduling.IsTransient(err):
		log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("storage unavailable")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable, retry later")
	default:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
