package scheduling

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	clinician uuid.UUID
	date      time.Time
	start     TimeOfDay
}

type templateKey struct {
	clinician uuid.UUID
	weekday   time.Weekday
}

// MemoryRepository is a Store kept in process memory. Transactions hold the
// repository lock for their whole duration and undo their writes on error.
type MemoryRepository struct {
	mu           sync.Mutex
	templates    map[templateKey]AvailabilityTemplate
	slots        map[uuid.UUID]Slot
	slotIndex    map[slotKey]uuid.UUID
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		templates:    make(map[templateKey]AvailabilityTemplate),
		slots:        make(map[uuid.UUID]Slot),
		slotIndex:    make(map[slotKey]uuid.UUID),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (r *MemoryRepository) UpsertTemplate(ctx context.Context, t *AvailabilityTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := templateKey{t.ClinicianID, t.Weekday}
	now := r.now()
	if existing, ok := r.templates[k]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		t.ID = uuid.New()
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	stored := *t
	stored.Breaks = slices.Clone(t.Breaks)
	r.templates[k] = stored
	return nil
}

func (r *MemoryRepository) GetTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (*AvailabilityTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[templateKey{clinicianID, weekday}]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	t.Breaks = slices.Clone(t.Breaks)
	return &t, nil
}

func (r *MemoryRepository) ListTemplates(ctx context.Context, clinicianID uuid.UUID) ([]AvailabilityTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AvailabilityTemplate
	for k, t := range r.templates {
		if k.clinician == clinicianID {
			t.Breaks = slices.Clone(t.Breaks)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (r *MemoryRepository) DeleteTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := templateKey{clinicianID, weekday}
	if _, ok := r.templates[k]; !ok {
		return false, nil
	}
	delete(r.templates, k)
	return true, nil
}

func (r *MemoryRepository) ListActiveClinicians(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for k, t := range r.templates {
		if t.IsActive && !seen[k.clinician] {
			seen[k.clinician] = true
			out = append(out, k.clinician)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(ctx context.Context, clinicianID uuid.UUID, dr DateRange, status SlotStatus) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Slot
	for _, s := range r.slots {
		if s.ClinicianID != clinicianID || s.Date.Before(dr.Start) || s.Date.After(dr.End) {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

func (r *MemoryRepository) CountSlotsByDate(ctx context.Context, clinicianID uuid.UUID, dr DateRange) (map[time.Time]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[time.Time]int)
	for _, s := range r.slots {
		if s.ClinicianID == clinicianID && !s.Date.Before(dr.Start) && !s.Date.After(dr.End) {
			counts[s.Date]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) InsertSlots(ctx context.Context, slots []Slot) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ids := make([]uuid.UUID, 0, len(slots))
	for _, s := range slots {
		k := slotKey{s.ClinicianID, DateOf(s.Date), s.Start}
		if _, exists := r.slotIndex[k]; exists {
			continue
		}
		s.ID = uuid.New()
		s.Date = k.date
		s.CreatedAt, s.UpdatedAt = now, now
		r.slots[s.ID] = s
		r.slotIndex[k] = s.ID
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) DeleteSlotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff = DateOf(cutoff)
	var n int64
	for id, s := range r.slots {
		if s.Date.Before(cutoff) {
			delete(r.slots, id)
			delete(r.slotIndex, slotKey{s.ClinicianID, s.Date, s.Start})
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// Events returns a copy of the event log in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memTx writes straight into the repository maps while the lock is held and
// records how to reverse each write.
type memTx struct {
	repo *MemoryRepository
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) TransitionSlot(ctx context.Context, t SlotTransition) (*Slot, error) {
	r := tx.repo
	s, ok := r.slots[t.SlotID]
	if !ok || s.Status != t.From {
		return nil, ErrStale
	}
	if t.ExpectAppointment != nil && (s.AppointmentID == nil || *s.AppointmentID != *t.ExpectAppointment) {
		return nil, ErrStale
	}

	prev := s
	tx.undo = append(tx.undo, func() { r.slots[prev.ID] = prev })

	s.Status = t.To
	s.AppointmentID = nil
	if t.Appointment != nil {
		id := *t.Appointment
		s.AppointmentID = &id
	}
	s.BlockReason = t.BlockReason
	s.UpdatedAt = r.now()
	r.slots[s.ID] = s
	return &s, nil
}

func (tx *memTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	r := tx.repo
	if _, exists := r.appointments[a.ID]; exists {
		return ErrStale
	}
	id := a.ID
	tx.undo = append(tx.undo, func() { delete(r.appointments, id) })
	r.appointments[id] = *a
	return nil
}

func (tx *memTx) TransitionAppointment(ctx context.Context, t AppointmentTransition) (*Appointment, error) {
	r := tx.repo
	id := t.AppointmentID
	a, ok := r.appointments[id]
	if !ok || !slices.Contains(t.From, a.Status) {
		return nil, ErrStale
	}
	if t.ExpectSlot != nil && a.SlotID != *t.ExpectSlot {
		return nil, ErrStale
	}

	prev := a
	tx.undo = append(tx.undo, func() { r.appointments[id] = prev })

	a.Status = t.To
	if t.To == StatusCancelled {
		a.CancellationReason = t.Reason
	}
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return &a, nil
}

func (tx *memTx) MoveAppointment(ctx context.Context, id, fromSlot uuid.UUID, to Slot, scheduledAt time.Time) (*Appointment, error) {
	r := tx.repo
	a, ok := r.appointments[id]
	if !ok || a.SlotID != fromSlot || !a.Status.Cancellable() {
		return nil, ErrStale
	}

	prev := a
	tx.undo = append(tx.undo, func() { r.appointments[id] = prev })

	a.SlotID = to.ID
	a.ClinicianID = to.ClinicianID
	a.ScheduledAt = scheduledAt
	a.DurationMinutes = int(to.End - to.Start)
	a.RescheduleCount++
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return &a, nil
}

func (tx *memTx) InsertEvent(ctx context.Context, ev EventLog) error {
	r := tx.repo
	r.nextEventID++
	ev.ID = r.nextEventID
	n := len(r.events)
	tx.undo = append(tx.undo, func() {
		r.events = r.events[:n]
		r.nextEventID--
	})
	r.events = append(r.events, ev)
	return nil
}
