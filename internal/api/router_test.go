package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinician-slot-scheduling/internal/maintenance"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

// monday is 2025-03-03.
var monday = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	repo    *scheduling.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLocker(t, redisclient.NewLocalLocker())
}

func newTestServerWithLocker(t *testing.T, locker redisclient.Locker) *testServer {
	t.Helper()
	log := zerolog.Nop()
	repo := scheduling.NewMemoryRepository()
	inv := scheduling.NewInventory(repo, log, scheduling.WithGenerationLocker(locker))

	handler := NewRouter(RouterConfig{
		Templates: scheduling.NewTemplateStore(repo, log),
		Inventory: inv,
		Booking:   scheduling.NewCoordinator(repo, log, scheduling.WithLocker(locker)),
		Maintenance: maintenance.NewScheduler(repo, inv, maintenance.Options{
			Concurrency: 2,
			Now:         func() time.Time { return monday.Add(8 * time.Hour) },
		}, log),
		Defaults: MaintenanceDefaults{DaysAhead: 6, RetentionDays: 30},
		Health: NewHealthHandler(
			func(context.Context) error { return nil },
			func(context.Context) error { return errors.New("redis down") },
			"test", "v0",
		),
		Logger: log,
	})
	return &testServer{handler: handler, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) setupClinician(t *testing.T) (uuid.UUID, []SlotResponse) {
	t.Helper()
	clinician := uuid.New()

	rec := s.do(t, http.MethodPut, "/clinicians/"+clinician.String()+"/templates/monday", map[string]any{
		"work_start":    "09:00",
		"work_end":      "12:00",
		"slot_duration": 30,
		"breaks":        []map[string]string{{"start": "10:30", "end": "11:00", "reason": "rounds"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/clinicians/"+clinician.String()+"/slots/generate", map[string]string{
		"start_date": "2025-03-03",
		"end_date":   "2025-03-09",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gen := decodeBody[GenerateSlotsResponse](t, rec)
	require.Equal(t, 6, gen.GeneratedCount)

	rec = s.do(t, http.MethodGet, "/clinicians/"+clinician.String()+"/slots?date=2025-03-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decodeBody[[]SlotResponse](t, rec)
	require.Len(t, slots, 5)
	return clinician, slots
}

func TestGenerateSlots_RangeTooLong(t *testing.T) {
	s := newTestServer(t)
	clinician := uuid.New()

	rec := s.do(t, http.MethodPost, "/clinicians/"+clinician.String()+"/slots/generate", map[string]string{
		"start_date": "2025-03-03",
		"end_date":   "3025-03-03",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decodeBody[ErrorResponse](t, rec)
	require.Len(t, resp.Violations, 1)
	assert.Contains(t, resp.Violations[0], "at most 366")

	rec = s.do(t, http.MethodPost, "/clinicians/"+clinician.String()+"/slots/generate", map[string]string{
		"start_date": "2025-03-03",
		"end_date":   "2026-03-03",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])
}

func TestTemplates(t *testing.T) {
	s := newTestServer(t)
	clinician := uuid.New().String()

	rec := s.do(t, http.MethodPut, "/clinicians/"+clinician+"/templates/1", map[string]any{
		"work_start":    "17:00",
		"work_end":      "09:00",
		"slot_duration": 0,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	verr := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", verr.Error)
	assert.Len(t, verr.Violations, 2)

	rec = s.do(t, http.MethodPut, "/clinicians/"+clinician+"/templates/1", map[string]any{
		"work_start":    "9am",
		"work_end":      "17:00",
		"slot_duration": 30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/clinicians/"+clinician+"/templates", map[string]any{
		"templates": []map[string]any{
			{"weekday": 1, "work_start": "09:00", "work_end": "17:00", "slot_duration": 30},
			{"weekday": 2, "work_start": "09:00", "work_end": "17:00", "slot_duration": 30,
				"breaks": []map[string]string{{"start": "08:00", "end": "09:30"}}},
			{"weekday": 3, "work_start": "09:00", "work_end": "17:00", "slot_duration": 30},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	weekly := decodeBody[WeeklyTemplateResponse](t, rec)
	assert.True(t, weekly.Partial)
	require.Len(t, weekly.Days, 3)
	assert.NotNil(t, weekly.Days[0].TemplateID)
	assert.NotEmpty(t, weekly.Days[1].Violations)
	assert.NotNil(t, weekly.Days[2].TemplateID)

	rec = s.do(t, http.MethodGet, "/clinicians/"+clinician+"/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TemplateResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/clinicians/"+clinician+"/templates/tuesday", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/clinicians/"+clinician+"/templates/wednesday", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/clinicians/"+clinician+"/templates/wednesday", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinicians/not-a-uuid/templates", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	_, slots := s.setupClinician(t)
	patient := uuid.New().String()

	rec := s.do(t, http.MethodPost, "/slots/"+slots[0].ID.String()+"/reserve", map[string]string{
		"patient_id": patient,
		"type":       "telehealth",
		"reason":     "follow-up on results",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, "telehealth", appt.Type)

	rec = s.do(t, http.MethodPost, "/slots/"+slots[0].ID.String()+"/reserve", map[string]string{"patient_id": uuid.New().String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/slots/"+uuid.New().String()+"/reserve", map[string]string{"patient_id": patient})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slot_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/slots/"+slots[1].ID.String()+"/reserve", map[string]string{"patient_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", map[string]string{
		"new_slot_id": slots[3].ID.String(),
		"reason":      "clinician running late",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, slots[3].ID, moved.SlotID)
	assert.Equal(t, 1, moved.RescheduleCount)

	rec = s.do(t, http.MethodGet, "/slots/"+slots[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", decodeBody[SlotResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/status", map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/status", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/slots/"+slots[3].ID.String()+"/release", map[string]string{"reason": "patient unwell"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "patient unwell", cancelled.CancellationReason)

	rec = s.do(t, http.MethodPost, "/slots/"+slots[3].ID.String()+"/release", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slot_not_booked", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody[AppointmentResponse](t, rec).Status)
}

// appointmentLocksDown fails every appointment lock as if Redis had gone away,
// while clinician locks keep working.
type appointmentLocksDown struct {
	redisclient.Locker
}

func (l appointmentLocksDown) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if strings.HasPrefix(key, "lock:appointment:") {
		return fmt.Errorf("%w: acquire lock %s: %w", redisclient.ErrLockUnavailable, key, errors.New("connection refused"))
	}
	return l.Locker.WithLock(ctx, key, fn)
}

func TestReschedule_LockBackendDownIsServiceUnavailable(t *testing.T) {
	s := newTestServerWithLocker(t, appointmentLocksDown{Locker: redisclient.NewLocalLocker()})
	_, slots := s.setupClinician(t)

	rec := s.do(t, http.MethodPost, "/slots/"+slots[0].ID.String()+"/reserve", map[string]string{"patient_id": uuid.New().String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", map[string]string{
		"new_slot_id": slots[1].ID.String(),
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestBlockUnblock(t *testing.T) {
	s := newTestServer(t)
	_, slots := s.setupClinician(t)
	path := "/slots/" + slots[2].ID.String()

	rec := s.do(t, http.MethodPost, path+"/block", map[string]string{"reason": "equipment service"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blocked", decodeBody[SlotResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, path+"/reserve", map[string]string{"patient_id": uuid.New().String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, path+"/unblock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", decodeBody[SlotResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, path+"/unblock", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListSlots(t *testing.T) {
	s := newTestServer(t)
	clinician, _ := s.setupClinician(t)
	base := "/clinicians/" + clinician.String() + "/slots"

	rec := s.do(t, http.MethodGet, base+"?date=2025-03-03&status=all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[[]SlotResponse](t, rec)
	require.Len(t, all, 6)
	assert.Equal(t, "break", all[3].Status)

	rec = s.do(t, http.MethodGet, base+"?start_date=2025-03-03&end_date=2025-03-09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	byDate := decodeBody[map[string][]SlotResponse](t, rec)
	assert.Len(t, byDate, 1)
	assert.Len(t, byDate["2025-03-03"], 5)

	rec = s.do(t, http.MethodGet, base+"?start_date=2025-03-09&end_date=2025-03-03", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, base+"?date=03/03/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	clinician, slots := s.setupClinician(t)

	for _, i := range []int{0, 2} {
		rec := s.do(t, http.MethodPost, "/slots/"+slots[i].ID.String()+"/reserve", map[string]string{"patient_id": uuid.New().String()})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/clinicians/"+clinician.String()+"/slots/optimize?date=2025-03-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions := decodeBody[[]maintenance.Suggestion](t, rec)
	require.Len(t, suggestions, 1)
	assert.Equal(t, maintenance.KindIsolatedSlot, suggestions[0].Kind)

	rec = s.do(t, http.MethodPost, "/maintenance/generate", map[string]int{"days_ahead": 13})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Partial        bool `json:"partial"`
		Total          int  `json:"total"`
		GeneratedTotal int  `json:"generated_total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Partial)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 6, report.GeneratedTotal)

	rec = s.do(t, http.MethodPost, "/maintenance/backfill", map[string]string{
		"clinician_id": clinician.String(),
		"start_date":   "2025-03-03",
		"end_date":     "2025-03-24",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	backfill := decodeBody[BackfillResponse](t, rec)
	assert.Equal(t, []string{"2025-03-17", "2025-03-24"}, backfill.MissingDates)
	assert.Equal(t, 12, backfill.TotalGenerated)

	rec = s.do(t, http.MethodPost, "/maintenance/backfill", map[string]string{
		"clinician_id": clinician.String(),
		"start_date":   "2025-03-03",
		"end_date":     "2125-03-03",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/maintenance/generate", map[string]int{"days_ahead": 366})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/maintenance/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleanup := decodeBody[CleanupResponse](t, rec)
	assert.Equal(t, "2025-02-01", cleanup.CutoffDate)
	assert.Zero(t, cleanup.DeletedCount)
}
