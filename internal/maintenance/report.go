package maintenance

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped" // another worker held the clinician lock
)

// ClinicianResult is one clinician's outcome inside a batch.
type ClinicianResult struct {
	ClinicianID uuid.UUID   `json:"clinician_id"`
	Status      ItemStatus  `json:"status"`
	Generated   int         `json:"generated"`
	FilledDates []string    `json:"filled_dates,omitempty"`
	Error       string      `json:"error,omitempty"`
	Transient   bool        `json:"transient,omitempty"`
	Elapsed     string      `json:"elapsed"`
	SlotIDs     []uuid.UUID `json:"-"`
}

type BatchReport struct {
	Job            string               `json:"job"`
	DateRange      scheduling.DateRange `json:"date_range"`
	Total          int                  `json:"total"`
	Succeeded      int                  `json:"succeeded"`
	Failed         int                  `json:"failed"`
	Skipped        int                  `json:"skipped"`
	GeneratedTotal int                  `json:"generated_total"`
	Results        []ClinicianResult    `json:"results"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       string               `json:"duration"`
}

// Err returns a *scheduling.PartialFailure naming every failed clinician, or nil.
// Skipped clinicians are not failures; the next run picks them up.
func (r *BatchReport) Err() error {
	if r.Failed == 0 {
		return nil
	}
	pf := &scheduling.PartialFailure{
		Operation: r.Job,
		Total:     r.Total,
		Failed:    r.Failed,
		Errors:    make(map[string]string, r.Failed),
	}
	for _, res := range r.Results {
		if res.Status == ItemFailed {
			pf.Errors[res.ClinicianID.String()] = res.Error
		}
	}
	return pf
}

func (r *BatchReport) tally() {
	r.Succeeded, r.Failed, r.Skipped, r.GeneratedTotal = 0, 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case ItemSucceeded:
			r.Succeeded++
		case ItemFailed:
			r.Failed++
		case ItemSkipped:
			r.Skipped++
		}
		r.GeneratedTotal += res.Generated
	}
}

type CleanupReport struct {
	DeletedCount int64     `json:"deleted_count"`
	CutoffDate   time.Time `json:"cutoff_date"`
}

type BackfillReport struct {
	ClinicianID    uuid.UUID            `json:"clinician_id"`
	DateRange      scheduling.DateRange `json:"date_range"`
	MissingDates   []time.Time          `json:"missing_dates"`
	TotalGenerated int                  `json:"total_generated"`
}
