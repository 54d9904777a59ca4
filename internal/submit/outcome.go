package submit

import "time"

// Status is the attendance state the backend resolved for a scan.
type Status string

const (
	StatusEntered Status = "entered"
	StatusLeft    Status = "left"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

var knownStatuses = map[Status]bool{
	StatusEntered: true,
	StatusLeft:    true,
	StatusPresent: true,
	StatusAbsent:  true,
	StatusLate:    true,
}

// NotificationState tracks the downstream parent notification.
type NotificationState string

const (
	NotificationPending NotificationState = "pending"
	NotificationSent    NotificationState = "sent"
	NotificationFailed  NotificationState = "failed"
)

// Student is the identity the backend resolved from the scanned payload.
type Student struct {
	ID              string `json:"id"`
	IndexNumber     string `json:"indexNumber"`
	Name            string `json:"name"`
	ParentTelephone string `json:"parent_telephone,omitempty"`
	StudentEmail    string `json:"student_email,omitempty"`
	Address         string `json:"address,omitempty"`
}

// Outcome is the normalized result of a successful attendance submission.
// It lives in memory until dismissed or replaced by a new scan; the remote
// system remains the source of truth.
type Outcome struct {
	ID           string            `json:"id"`
	Student      Student           `json:"student"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Notification NotificationState `json:"notification"`
	MarkedAt     time.Time         `json:"markedAt"`
}
