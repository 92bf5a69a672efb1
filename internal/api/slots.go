package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

func generateSlotsHandler(inv *scheduling.Inventory, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}

		var req GenerateSlotsRequest
		if !decode(w, r, v, &req) {
			return
		}
		start, _ := scheduling.ParseDate(req.StartDate)
		end, _ := scheduling.ParseDate(req.EndDate)

		res, err := inv.GenerateSlots(r.Context(), clinicianID, start, end)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		ids := res.SlotIDs
		if ids == nil {
			ids = []uuid.UUID{}
		}
		writeJSON(w, http.StatusOK, GenerateSlotsResponse{
			ClinicianID:    clinicianID,
			StartDate:      res.DateRange.Start.Format(scheduling.DateLayout),
			EndDate:        res.DateRange.End.Format(scheduling.DateLayout),
			GeneratedCount: res.GeneratedCount,
			SlotIDs:        ids,
		})
	}
}

// listSlotsHandler serves one day (?date=) or a range (?start_date=&end_date=).
// Only available slots are returned unless status=all is given for a single day.
func listSlotsHandler(inv *scheduling.Inventory, loc *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}
		q := r.URL.Query()

		if q.Get("date") != "" {
			date, ok := dateQuery(w, r, "date")
			if !ok {
				return
			}

			var slots []scheduling.Slot
			var err error
			if q.Get("status") == "all" {
				slots, err = inv.ListDaySlots(r.Context(), clinicianID, date)
			} else {
				slots, err = inv.GetAvailableSlots(r.Context(), clinicianID, date)
			}
			if err != nil {
				handleError(w, r, log, err)
				return
			}
			writeJSON(w, http.StatusOK, toSlotResponses(slots, loc))
			return
		}

		start, ok := dateQuery(w, r, "start_date")
		if !ok {
			return
		}
		end, ok := dateQuery(w, r, "end_date")
		if !ok {
			return
		}

		byDate, err := inv.GetAvailableSlotsInRange(r.Context(), clinicianID, start, end)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		resp := make(map[string][]SlotResponse, len(byDate))
		for d, slots := range byDate {
			resp[d.Format(scheduling.DateLayout)] = toSlotResponses(slots, loc)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func optimizeSlotsHandler(sched *maintenance.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := uuidParam(w, r, "clinicianID")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r, "date")
		if !ok {
			return
		}

		suggestions, err := sched.OptimizeDoctorSlots(r.Context(), clinicianID, date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, suggestions)
	}
}

func getSlotHandler(booking *scheduling.Coordinator, loc *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID")
		if !ok {
			return
		}

		s, err := booking.GetSlot(r.Context(), slotID)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s, loc))
	}
}

func reserveSlotHandler(booking *scheduling.Coordinator, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID")
		if !ok {
			return
		}

		var req ReserveSlotRequest
		if !decode(w, r, v, &req) {
			return
		}

		appt, err := booking.ReserveSlot(r.Context(), slotID, scheduling.AppointmentRequest{
			PatientID: uuid.MustParse(req.PatientID),
			Type:      scheduling.AppointmentType(req.Type),
			Reason:    req.Reason,
			Location:  req.Location,
			Notes:     req.Notes,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func releaseSlotHandler(booking *scheduling.Coordinator, v *validator.Validate, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID")
		if !ok {
			return
		}

		var req ReasonRequest
		if !decode(w, r, v, &req) {
			return
		}

		appt, err := booking.ReleaseSlot(r.Context(), slotID, req.Reason)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func blockSlotHandler(booking *scheduling.Coordinator, v *validator.Validate, loc *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID")
		if !ok {
			return
		}

		var req ReasonRequest
		if !decode(w, r, v, &req) {
			return
		}

		s, err := booking.BlockSlot(r.Context(), slotID, req.Reason)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s, loc))
	}
}

func unblockSlotHandler(booking *scheduling.Coordinator, loc *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID")
		if !ok {
			return
		}

		s, err := booking.UnblockSlot(r.Context(), slotID)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s, loc))
	}
}
