package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	templateColumns    = `id, clinician_id, weekday, work_start, work_end, slot_duration, buffer_time, breaks, is_active, created_at, updated_at`
	slotColumns        = `id, clinician_id, slot_date, start_minute, end_minute, status, appointment_id, block_reason, created_at, updated_at`
	appointmentColumns = `id, clinician_id, patient_id, slot_id, scheduled_at, duration_minutes, time_zone, appointment_type, status,
		reason, location, notes, cancellation_reason, reschedule_count, created_at, updated_at`
)

// Helpers

func scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var t AvailabilityTemplate
	var weekday, start, end int
	var breaks []byte

	err := row.Scan(
		&t.ID,
		&t.ClinicianID,
		&weekday,
		&start,
		&end,
		&t.SlotDuration,
		&t.BufferTime,
		&breaks,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, classify(err)
	}

	t.Weekday = time.Weekday(weekday)
	t.WorkStart, t.WorkEnd = TimeOfDay(start), TimeOfDay(end)
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &t.Breaks); err != nil {
			return nil, fmt.Errorf("decode breaks of template %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end int

	err := row.Scan(
		&s.ID,
		&s.ClinicianID,
		&s.Date,
		&start,
		&end,
		&s.Status,
		&s.AppointmentID,
		&s.BlockReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, classify(err)
	}

	s.Date = DateOf(s.Date)
	s.Start, s.End = TimeOfDay(start), TimeOfDay(end)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClinicianID,
		&a.PatientID,
		&a.SlotID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.TimeZone,
		&a.Type,
		&a.Status,
		&a.Reason,
		&a.Location,
		&a.Notes,
		&a.CancellationReason,
		&a.RescheduleCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, classify(err)
	}

	return &a, nil
}

// classify marks connection loss, timeouts and serialization failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Transient(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return Transient(err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return Transient(err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Transient(err)
	}
	return err
}

// Templates

func (r *PgRepository) UpsertTemplate(ctx context.Context, t *AvailabilityTemplate) error {
	breaks, err := json.Marshal(t.Breaks)
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}
	if t.Breaks == nil {
		breaks = []byte("[]")
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_templates (id, clinician_id, weekday, work_start, work_end, slot_duration, buffer_time, breaks, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (clinician_id, weekday) DO UPDATE
		SET work_start = EXCLUDED.work_start,
		    work_end = EXCLUDED.work_end,
		    slot_duration = EXCLUDED.slot_duration,
		    buffer_time = EXCLUDED.buffer_time,
		    breaks = EXCLUDED.breaks,
		    is_active = EXCLUDED.is_active,
		    updated_at = now()
		RETURNING `+templateColumns,
		uuid.New(), t.ClinicianID, int(t.Weekday), int(t.WorkStart), int(t.WorkEnd),
		t.SlotDuration, t.BufferTime, breaks, t.IsActive)

	stored, err := scanTemplate(row)
	if err != nil {
		return err
	}
	*t = *stored
	return nil
}

func (r *PgRepository) GetTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (*AvailabilityTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE clinician_id = $1 AND weekday = $2
	`, clinicianID, int(weekday))
	return scanTemplate(row)
}

func (r *PgRepository) ListTemplates(ctx context.Context, clinicianID uuid.UUID) ([]AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE clinician_id = $1
		ORDER BY weekday
	`, clinicianID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var result []AvailabilityTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return result, nil
}

func (r *PgRepository) DeleteTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_templates
		WHERE clinician_id = $1 AND weekday = $2
	`, clinicianID, int(weekday))
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ListActiveClinicians(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT clinician_id
		FROM availability_templates
		WHERE is_active
		ORDER BY clinician_id
	`)
	if err != nil {
		return nil, classify(err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// Slots

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, clinicianID uuid.UUID, dr DateRange, status SlotStatus) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE clinician_id = $1
		  AND slot_date BETWEEN $2 AND $3
		  AND ($4 = '' OR status = $4)
		ORDER BY slot_date, start_minute
	`, clinicianID, dr.Start, dr.End, string(status))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return result, nil
}

func (r *PgRepository) CountSlotsByDate(ctx context.Context, clinicianID uuid.UUID, dr DateRange) (map[time.Time]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_date, count(*)
		FROM slots
		WHERE clinician_id = $1
		  AND slot_date BETWEEN $2 AND $3
		GROUP BY slot_date
	`, clinicianID, dr.Start, dr.End)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	counts := make(map[time.Time]int)
	for rows.Next() {
		var d time.Time
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, classify(err)
		}
		counts[DateOf(d)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return counts, nil
}

// InsertSlots writes the whole batch in one transaction. Rows colliding with an
// existing clinician+date+start are skipped by the unique index.
func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) ([]uuid.UUID, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(slots))
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range slots {
			batch.Queue(`
				INSERT INTO slots (id, clinician_id, slot_date, start_minute, end_minute, status, block_reason, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, '', now(), now())
				ON CONFLICT (clinician_id, slot_date, start_minute) DO NOTHING
				RETURNING id
			`, uuid.New(), s.ClinicianID, DateOf(s.Date), int(s.Start), int(s.End), string(s.Status))
		}

		br := tx.SendBatch(ctx, batch)
		for range slots {
			var id uuid.UUID
			if err := br.QueryRow().Scan(&id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					continue
				}
				_ = br.Close()
				return err
			}
			ids = append(ids, id)
		}
		return br.Close()
	})
	if err != nil {
		return nil, classify(err)
	}

	return ids, nil
}

func (r *PgRepository) DeleteSlotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slots
		WHERE slot_date < $1
	`, DateOf(cutoff))
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	return classify(err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) TransitionSlot(ctx context.Context, tr SlotTransition) (*Slot, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    appointment_id = $3,
		    block_reason = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		  AND ($6::uuid IS NULL OR appointment_id = $6)
		RETURNING `+slotColumns,
		tr.SlotID, string(tr.To), tr.Appointment, tr.BlockReason, string(tr.From), tr.ExpectAppointment)

	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrStale
	}
	return s, err
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', 0, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ClinicianID, a.PatientID, a.SlotID, a.ScheduledAt, a.DurationMinutes, a.TimeZone,
		string(a.Type), string(a.Status), a.Reason, a.Location, a.Notes)

	stored, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *stored
	return nil
}

func (t *pgTx) TransitionAppointment(ctx context.Context, tr AppointmentTransition) (*Appointment, error) {
	fromStrs := make([]string, len(tr.From))
	for i, s := range tr.From {
		fromStrs[i] = string(s)
	}

	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		  AND ($5::uuid IS NULL OR slot_id = $5)
		RETURNING `+appointmentColumns,
		tr.AppointmentID, string(tr.To), fromStrs, tr.Reason, tr.ExpectSlot)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStale
	}
	return a, err
}

func (t *pgTx) MoveAppointment(ctx context.Context, id, fromSlot uuid.UUID, to Slot, scheduledAt time.Time) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $3,
		    clinician_id = $4,
		    scheduled_at = $5,
		    duration_minutes = $6,
		    reschedule_count = reschedule_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND slot_id = $2
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns,
		id, fromSlot, to.ID, to.ClinicianID, scheduledAt, int(to.End-to.Start))

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStale
	}
	return a, err
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", classify(err))
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
