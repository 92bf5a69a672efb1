package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

func getAppointmentHandler(booking *scheduling.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := booking.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(booking *scheduling.Coordinator, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if !decode(w, r, v, &req) {
			return
		}

		appt, err := booking.RescheduleAppointment(r.Context(), id, uuid.MustParse(req.NewSlotID), req.Reason)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func advanceAppointmentHandler(booking *scheduling.Coordinator, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req AdvanceStatusRequest
		if !decode(w, r, v, &req) {
			return
		}
		to, _ := scheduling.ParseAppointmentStatus(req.Status)

		appt, err := booking.AdvanceAppointment(r.Context(), id, to)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
