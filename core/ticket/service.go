package ticket

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/exam"
	"github.com/icue/varsity/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("ticket not found")
	ErrDuplicateTicket = errors.New("an active ticket already exists for this exam")
	errExamEnded       = errors.New("this exam has already ended")
)

type (
	Repository interface {
		// CreateTicket persists the ticket, minting its ID. It fails with
		// ErrDuplicateTicket when a non-void, non-expired ticket already
		// exists for the same (student, exam) pair.
		CreateTicket(ctx context.Context, tkt Ticket) (Ticket, error)
		GetTicketByID(ctx context.Context, id string) (Ticket, error)
		// FindActiveTicket returns the ISSUED or CHECKED_IN ticket for the
		// pair, or ErrNotFound.
		FindActiveTicket(ctx context.Context, studentID, examID string) (Ticket, error)
		FilterTickets(ctx context.Context, filter QueryFilter) ([]Ticket, error)
		CountTickets(ctx context.Context, filter QueryFilter) (int, error)
		// BumpTokenVersion increments the token version iff the ticket is
		// still ISSUED at the given version.
		BumpTokenVersion(ctx context.Context, id string, fromVersion int) (Ticket, error)
		// TransitionState conditionally moves the ticket from one state to
		// another. ok is false when the ticket was not in `from`.
		TransitionState(ctx context.Context, id string, from, to State) (Ticket, bool, error)
	}

	Service struct {
		repo     Repository
		examRepo exam.Repository
		userRepo user.Repository
		codec    *Codec
		mailSvc  core.EmailService
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	examRepo exam.Repository,
	userRepo user.Repository,
	codec *Codec,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		examRepo: examRepo,
		userRepo: userRepo,
		codec:    codec,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

// Issue mints a Ticket in state ISSUED at token version 0 and returns it
// with its signed token. Payment is an external precondition; Issue does
// not touch it.
func (svc *Service) Issue(ctx context.Context, nt NewTicket) (Ticket, string, error) {
	ex, err := svc.examRepo.GetExamByID(ctx, nt.ExamID)
	if err != nil {
		if errors.Cause(err) == exam.ErrExamNotFound {
			return Ticket{}, "", core.NewValidationError(err, core.FieldError{Field: "exam_id", Error: exam.ErrExamNotFound.Error()})
		}
		return Ticket{}, "", errors.Wrap(err, "finding exam")
	}
	if ex.HasEnded(time.Now().UTC(), 0) {
		return Ticket{}, "", core.NewValidationError(errExamEnded, core.FieldError{Field: "exam_id", Error: errExamEnded.Error()})
	}
	vn, err := svc.examRepo.GetVenueByID(ctx, nt.VenueID)
	if err != nil {
		if errors.Cause(err) == exam.ErrVenueNotFound {
			return Ticket{}, "", core.NewValidationError(err, core.FieldError{Field: "venue_id", Error: exam.ErrVenueNotFound.Error()})
		}
		return Ticket{}, "", errors.Wrap(err, "finding venue")
	}
	student, err := svc.userRepo.GetUserByID(ctx, nt.StudentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Ticket{}, "", core.NewValidationError(err, core.FieldError{Field: "student_id", Error: user.ErrNotFound.Error()})
		}
		return Ticket{}, "", errors.Wrap(err, "finding student")
	}

	if _, err = svc.repo.FindActiveTicket(ctx, nt.StudentID, nt.ExamID); err == nil {
		return Ticket{}, "", core.NewValidationError(ErrDuplicateTicket, core.FieldError{Field: "exam_id", Error: ErrDuplicateTicket.Error()})
	} else if errors.Cause(err) != ErrNotFound {
		return Ticket{}, "", errors.Wrap(err, "checking active ticket")
	}

	now := time.Now().UTC()
	tkt := Ticket{
		ExamID:       nt.ExamID,
		VenueID:      nt.VenueID,
		StudentID:    nt.StudentID,
		State:        StateIssued,
		TokenVersion: 0,
		IssuedAt:     now,
		UpdatedAt:    now,
	}
	tkt, err = svc.repo.CreateTicket(ctx, tkt)
	if err != nil {
		// two concurrent purchases for the same pair; the DB constraint wins
		if errors.Cause(err) == ErrDuplicateTicket {
			return Ticket{}, "", core.NewValidationError(ErrDuplicateTicket, core.FieldError{Field: "exam_id", Error: ErrDuplicateTicket.Error()})
		}
		return Ticket{}, "", errors.Wrap(err, "creating ticket")
	}

	token, err := svc.codec.Encode(tkt)
	if err != nil {
		return Ticket{}, "", errors.Wrap(err, "encoding ticket token")
	}

	svc.deliver(tkt, token, student, ex, vn)
	return tkt, token, nil
}

// Reissue bumps the ticket's token version and returns a fresh token,
// invalidating every previously delivered token for this ticket.
func (svc *Service) Reissue(ctx context.Context, id string) (Ticket, string, error) {
	tkt, err := svc.repo.GetTicketByID(ctx, id)
	if err != nil {
		return Ticket{}, "", err
	}
	if tkt.State != StateIssued {
		err := fmt.Errorf("only %s tickets can be reissued", StateIssued)
		return Ticket{}, "", core.NewValidationError(err, core.FieldError{Field: "state", Error: err.Error()})
	}
	tkt, err = svc.repo.BumpTokenVersion(ctx, tkt.ID, tkt.TokenVersion)
	if err != nil {
		return Ticket{}, "", errors.Wrap(err, "bumping token version")
	}
	token, err := svc.codec.Encode(tkt)
	if err != nil {
		return Ticket{}, "", errors.Wrap(err, "encoding ticket token")
	}
	return tkt, token, nil
}

// Void administratively invalidates an ISSUED ticket. VOID is absorbing;
// there is no reactivation.
func (svc *Service) Void(ctx context.Context, id string) (Ticket, error) {
	tkt, ok, err := svc.repo.TransitionState(ctx, id, StateIssued, StateVoid)
	if err != nil {
		return Ticket{}, errors.Wrap(err, "voiding ticket")
	}
	if !ok {
		err := fmt.Errorf("ticket in state %s cannot be voided", tkt.State)
		return Ticket{}, core.NewValidationError(err, core.FieldError{Field: "state", Error: err.Error()})
	}
	return tkt, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Ticket, error) {
	return svc.repo.GetTicketByID(ctx, id)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]Ticket, error) {
	return svc.repo.FilterTickets(ctx, filter)
}

func (svc *Service) Count(ctx context.Context, filter QueryFilter) (int, error) {
	return svc.repo.CountTickets(ctx, filter)
}

// Token re-encodes the current token for a ticket the caller already holds.
func (svc *Service) Token(tkt Ticket) (string, error) {
	return svc.codec.Encode(tkt)
}

// deliver emails the ticket with its QR code attached. Failures are the
// mail service's to log; the ticket is already persisted.
func (svc *Service) deliver(tkt Ticket, token string, student user.User, ex exam.Exam, vn exam.Venue) {
	if svc.mailSvc == nil || student.Email == "" {
		return
	}
	png, err := QRPNG(token, QRSize)
	if err != nil {
		if svc.logger != nil {
			svc.logger.Error("rendering ticket QR", err)
		}
		return
	}
	body := fmt.Sprintf(
		"Hello %s,\n\nYour exam ticket %s is attached.\n\nExam: %s\nDate: %s\nVenue: %s, %s\n\nPresent the QR code at the venue entrance.",
		student.Name, tkt.ID, ex.Name, ex.StartsAt.Format(time.RFC1123), vn.Name, vn.Address,
	)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:          []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:     "Your exam ticket",
		TextContent: body,
		Attachments: []core.Attachment{{
			Content:     bytes.NewBuffer(png),
			ContentType: "image/png",
			Filename:    fmt.Sprintf("ticket-%s.png", tkt.ID),
		}},
	})
}
