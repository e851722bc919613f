package notify

import (
	"context"
	"time"
)

// Type selects the message a task produces and which settings flag gates it.
type Type string

const (
	TypeUserConfirmation  Type = "user_confirmation"
	TypeAdminNotification Type = "admin_notification"
	TypeApproval          Type = "approval"
	TypeRejection         Type = "rejection"
	TypeCancellation      Type = "cancellation"
	TypeReminder          Type = "reminder"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// TaskSpec is what callers submit. Everything else on Task is queue-owned.
type TaskSpec struct {
	Type          Type
	Priority      Priority
	ReservationID string
	Recipient     string
}

// Task is owned exclusively by the queue from Enqueue until it succeeds or
// is dropped. It is mutated in place between attempts.
type Task struct {
	ID            string
	Type          Type
	Priority      Priority
	ReservationID string
	Recipient     string

	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	// ScheduledAt defers a retry; the zero value means ready now.
	ScheduledAt time.Time
}

// Stats is the queue's only outward observability besides logs and metrics.
type Stats struct {
	Pending  int
	InFlight int
}

// Reservation is the queue's read-only view of a reservation record,
// re-fetched from storage per delivery attempt.
type Reservation struct {
	ID        string
	Name      string
	Email     string
	Room      string
	Day       string
	StartTime string
	EndTime   string
	Status    string
	Note      string
}

// Mailer is the queue's only side-effecting dependency. Implementations must
// tolerate duplicate sends: a retry after an ambiguous failure may deliver
// the same message twice.
//
// A Send error implementing PermanentError with Permanent() == true is
// dropped immediately instead of retried.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError interface {
	error
	Permanent() bool
}

// ReservationSource supplies fresh reservation data at delivery time.
type ReservationSource interface {
	Reservation(ctx context.Context, id string) (Reservation, error)
}

// Settings gates whether user-facing and admin-facing mail goes out at all.
type Settings struct {
	SendUserEmails  bool
	SendAdminEmails bool
}

type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// FixedSettings is a SettingsSource for deployments that configure
// notification gates statically.
type FixedSettings Settings

func (s FixedSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}
