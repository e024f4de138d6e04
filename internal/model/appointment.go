package model

import (
	"fmt"
	"time"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// CanTransitionTo reports whether a forward transition from s to next is
// allowed. Re-stating the current status is a no-op and always allowed;
// cancelled and completed are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCancelled || next == StatusCompleted
	case StatusConfirmed:
		return next == StatusCancelled || next == StatusCompleted
	case StatusCancelled, StatusCompleted:
		return false
	}
	return false
}

type Appointment struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	OwnerUserID         string    `json:"owner_user_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Location            string    `json:"location,omitempty"`
	Attendees           []string  `json:"attendees,omitempty"`
	Status              Status    `json:"status"`
	ReminderLeadMinutes int       `json:"reminder_lead_minutes"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Patch carries the fields of a partial update. Nil means "leave unchanged".
type Patch struct {
	Title               *string
	Description         *string
	StartTime           *time.Time
	EndTime             *time.Time
	Location            *string
	Attendees           []string
	Status              *Status
	ReminderLeadMinutes *int
}
