package filter

import (
	"time"

	"github.com/tanvir/tenantbook/internal/model"
)

// Filter narrows an already tenant/owner-scoped result set. Zero-valued
// fields are unset; set fields are conjunctive.
type Filter struct {
	From   time.Time
	To     time.Time
	Status model.Status
}

func (f Filter) IsZero() bool {
	return f.From.IsZero() && f.To.IsZero() && f.Status == ""
}

// Apply materializes the subset of in that matches the filter, preserving
// the input order.
func (f Filter) Apply(in []model.Appointment) []model.Appointment {
	if f.IsZero() {
		return in
	}
	out := make([]model.Appointment, 0, len(in))
	for _, rec := range in {
		if !f.From.IsZero() && rec.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.StartTime.After(f.To) {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	return out
}
