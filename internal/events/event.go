package events

import (
	"encoding/json"
	"time"

	"github.com/tanvir/tenantbook/internal/model"
)

// Topic name equals event type: one event per topic. These are integration
// signals for external collaborators (reminder delivery lives elsewhere).
const (
	TypeCreated = "appointments.appointment.created.v1"
	TypeUpdated = "appointments.appointment.updated.v1"
	TypeDeleted = "appointments.appointment.deleted.v1"
	TypeExpired = "appointments.appointment.expired.v1"
)

type Event struct {
	Type          string
	TenantID      string
	AppointmentID string
	Payload       []byte
}

// AppointmentPayload is the wire snapshot attached to lifecycle events.
func AppointmentPayload(rec model.Appointment) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id":        rec.ID,
		"tenant_id":             rec.TenantID,
		"owner_user_id":         rec.OwnerUserID,
		"title":                 rec.Title,
		"start_time":            rec.StartTime.UTC().Format(time.RFC3339),
		"end_time":              rec.EndTime.UTC().Format(time.RFC3339),
		"status":                string(rec.Status),
		"reminder_lead_minutes": rec.ReminderLeadMinutes,
		"attendees":             rec.Attendees,
	})
}
