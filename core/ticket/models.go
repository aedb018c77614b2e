package ticket

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/icue/varsity/core"
)

// State is a Ticket's lifecycle state. Transitions are monotonic:
// ISSUED is the only non-absorbing state.
type State string

const (
	StateIssued    State = "ISSUED"
	StateCheckedIn State = "CHECKED_IN"
	StateVoid      State = "VOID"
	StateExpired   State = "EXPIRED"
)

// Active reports whether the state still authorizes attendance.
func (s State) Active() bool {
	return s == StateIssued || s == StateCheckedIn
}

// Ticket authorizes one student to sit one exam at one venue. A ticket is
// never deleted; it only moves state, preserving the audit trail.
type Ticket struct {
	ID           string    `json:"id"`
	ExamID       string    `json:"exam_id"`
	VenueID      string    `json:"venue_id"`
	StudentID    string    `json:"student_id"`
	State        State     `json:"state"`
	TokenVersion int       `json:"token_version"`
	IssuedAt     time.Time `json:"issued_at"`  // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

// NewTicket contains information needed to issue a Ticket. The payment
// having succeeded is a precondition owned by the caller.
type NewTicket struct {
	ExamID    string `json:"exam_id" validate:"required"`
	VenueID   string `json:"venue_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
}

func (nt *NewTicket) Validate(validate *validator.Validate, _ ut.Translator) error {
	nt.ExamID = core.CleanString(nt.ExamID)
	nt.VenueID = core.CleanString(nt.VenueID)
	nt.StudentID = core.CleanString(nt.StudentID)
	return validate.Struct(nt)
}

// QueryFilter applies AND on its non-zero fields. Orderings with unknown
// fields are ignored; an empty list means issued_at ascending.
type QueryFilter struct {
	ExamID    string `query:"exam_id"`
	VenueID   string `query:"venue_id"`
	StudentID string `query:"student_id"`
	State     State  `query:"state"`

	Orderings []core.DBOrdering

	core.Pagination
}
