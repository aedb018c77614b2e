package checkin

import (
	"context"
	"time"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/ticket"
)

// Method records how the proctor captured the ticket.
type Method string

const (
	MethodScanned Method = "scanned"
	MethodManual  Method = "manual"
)

// Reason classifies an expected check-in rejection. Rejections are results,
// not faults: the specific code must always reach the caller so venue staff
// can explain the failure to the student.
type Reason string

const (
	ReasonInvalidToken  Reason = "INVALID_TOKEN"
	ReasonUnknownTicket Reason = "UNKNOWN_TICKET"
	ReasonStaleToken    Reason = "STALE_TOKEN"
	ReasonWrongVenue    Reason = "WRONG_VENUE"
	ReasonOutOfWindow   Reason = "OUT_OF_WINDOW"
	ReasonAlreadyUsed   Reason = "ALREADY_USED"
	ReasonTicketInvalid Reason = "TICKET_INVALID"
)

// Event is one append-only attendance ledger entry. At most one event ever
// exists per ticket; the state machine, not the ledger, enforces that.
type Event struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	ExamID    string    `json:"exam_id"`
	StudentID string    `json:"student_id"`
	VenueID   string    `json:"venue_id"`
	ProctorID string    `json:"proctor_id"`
	Method    Method    `json:"method"`
	Timestamp time.Time `json:"timestamp"` // UTC
}

// Result is the outcome of one check-in attempt. Accepted and Reason are
// mutually exclusive; Ticket carries whatever record was resolved before
// the attempt settled, so callers can surface identity fields.
type Result struct {
	Accepted bool          `json:"accepted"`
	Reason   Reason        `json:"reason,omitempty"`
	Ticket   ticket.Ticket `json:"ticket,omitempty"`
	Event    Event         `json:"event,omitempty"`
}

// EventFilter applies AND on its non-zero fields. Results are always
// ordered by timestamp ascending.
type EventFilter struct {
	ExamID   string `query:"exam_id"`
	VenueID  string `query:"venue_id"`
	TicketID string `query:"ticket_id"`

	core.Pagination
}

// ExamReport aggregates attendance for one exam. No-shows are issued,
// non-void tickets with no ledger entry.
type ExamReport struct {
	ExamID         string          `json:"exam_id"`
	ExamName       string          `json:"exam_name"`
	StartsAt       time.Time       `json:"starts_at"`
	EndsAt         time.Time       `json:"ends_at"`
	TotalIssued    int             `json:"total_issued"`
	TotalCheckedIn int             `json:"total_checked_in"`
	NoShowCount    int             `json:"no_shows"`
	AttendanceRate float64         `json:"attendance_rate"`
	CheckedIn      []Event         `json:"checked_in"`
	NoShows        []ticket.Ticket `json:"no_show_tickets"`
}

// Publisher pushes accepted check-in events to the reporting collaborator
// (dashboards). Delivery is best-effort; a publish failure never unwinds a
// check-in.
type Publisher interface {
	PublishCheckIn(ctx context.Context, ev Event) error
}
