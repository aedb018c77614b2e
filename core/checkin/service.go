package checkin

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/exam"
	"github.com/icue/varsity/core/ticket"
)

var nowFunc = time.Now // mockable

type (
	Repository interface {
		// CheckInTicket transitions the ticket from ISSUED to CHECKED_IN and
		// appends the event as one atomic unit, linearizable per ticket ID.
		// won is false when the ticket was no longer ISSUED at tkt's token
		// version; no event is written in that case. An error means the
		// outcome is indeterminate and the caller may safely retry.
		CheckInTicket(ctx context.Context, tkt ticket.Ticket, ev Event) (Event, bool, error)
		// QueryEvents returns ledger entries ordered by timestamp ascending.
		QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error)
		CountEvents(ctx context.Context, filter EventFilter) (int, error)
	}

	Service struct {
		repo       Repository
		ticketRepo ticket.Repository
		examRepo   exam.Repository
		codec      *ticket.Codec
		pub        Publisher
		logger     core.Logger
		grace      time.Duration
		cutoff     time.Duration
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	ticketRepo ticket.Repository,
	examRepo exam.Repository,
	codec *ticket.Codec,
	pub Publisher,
	logger core.Logger,
) *Service {
	return &Service{
		repo:       repo,
		ticketRepo: ticketRepo,
		examRepo:   examRepo,
		codec:      codec,
		pub:        pub,
		logger:     logger,
		grace:      conf.CheckIn.GraceWindow,
		cutoff:     conf.CheckIn.CutoffGrace,
	}
}

func rejected(reason Reason, tkt ticket.Ticket) Result {
	return Result{Reason: reason, Ticket: tkt}
}

// CheckIn verifies a presented token and, when everything matches, moves
// the ticket ISSUED -> CHECKED_IN and appends the attendance event.
// Expected failures come back as a rejected Result with a nil error; a
// non-nil error means persistence failed and the attempt is safe to retry.
func (svc *Service) CheckIn(ctx context.Context, presentedToken, venueID, proctorID string, method Method) (Result, error) {
	claims, err := svc.codec.Decode(presentedToken)
	if err != nil {
		// do not log parsed claims from a token that failed verification
		return rejected(ReasonInvalidToken, ticket.Ticket{}), nil
	}

	tkt, err := svc.ticketRepo.GetTicketByID(ctx, claims.TicketID)
	if err != nil {
		if errors.Cause(err) == ticket.ErrNotFound {
			return rejected(ReasonUnknownTicket, ticket.Ticket{}), nil
		}
		return Result{}, errors.Wrap(err, "finding ticket")
	}

	if claims.TokenVersion != tkt.TokenVersion {
		return rejected(ReasonStaleToken, tkt), nil
	}
	if claims.VenueID != venueID {
		return rejected(ReasonWrongVenue, tkt), nil
	}

	return svc.admit(ctx, tkt, venueID, proctorID, method)
}

// CheckInManual is the ticket-ID entry path for when a code will not scan.
// It runs the same validations against the ticket's own authoritative
// fields, so every invariant of the scanned path applies identically.
func (svc *Service) CheckInManual(ctx context.Context, ticketID, venueID, proctorID string) (Result, error) {
	tkt, err := svc.ticketRepo.GetTicketByID(ctx, ticketID)
	if err != nil {
		if errors.Cause(err) == ticket.ErrNotFound {
			return rejected(ReasonUnknownTicket, ticket.Ticket{}), nil
		}
		return Result{}, errors.Wrap(err, "finding ticket")
	}
	if tkt.VenueID != venueID {
		return rejected(ReasonWrongVenue, tkt), nil
	}
	return svc.admit(ctx, tkt, venueID, proctorID, MethodManual)
}

// admit runs the admission-window check and the atomic test-and-set.
func (svc *Service) admit(ctx context.Context, tkt ticket.Ticket, venueID, proctorID string, method Method) (Result, error) {
	ex, err := svc.examRepo.GetExamByID(ctx, tkt.ExamID)
	if err != nil {
		return Result{}, errors.Wrap(err, "finding exam")
	}

	now := nowFunc().UTC()
	if !ex.AdmitsAt(now, svc.grace, svc.cutoff) {
		// expiry is lazy: the first out-of-window presentation after the
		// exam ends settles a still-ISSUED ticket into EXPIRED
		if tkt.State == ticket.StateIssued && ex.HasEnded(now, svc.cutoff) {
			if _, _, err := svc.ticketRepo.TransitionState(ctx, tkt.ID, ticket.StateIssued, ticket.StateExpired); err != nil {
				svc.logger.Error("expiring ticket", err)
			}
		}
		return rejected(ReasonOutOfWindow, tkt), nil
	}

	switch tkt.State {
	case ticket.StateIssued:
		// fall through to the test-and-set
	case ticket.StateCheckedIn:
		return rejected(ReasonAlreadyUsed, tkt), nil
	default: // VOID, EXPIRED
		return rejected(ReasonTicketInvalid, tkt), nil
	}

	ev := Event{
		TicketID:  tkt.ID,
		ExamID:    tkt.ExamID,
		StudentID: tkt.StudentID,
		VenueID:   venueID,
		ProctorID: proctorID,
		Method:    method,
		Timestamp: now,
	}
	ev, won, err := svc.repo.CheckInTicket(ctx, tkt, ev)
	if err != nil {
		return Result{}, errors.Wrap(err, "recording check-in")
	}
	if !won {
		// lost the race; report what actually happened to the ticket
		cur, err := svc.ticketRepo.GetTicketByID(ctx, tkt.ID)
		if err != nil {
			return Result{}, errors.Wrap(err, "reloading ticket")
		}
		if cur.State == ticket.StateCheckedIn {
			return rejected(ReasonAlreadyUsed, cur), nil
		}
		if cur.State == ticket.StateIssued && cur.TokenVersion != tkt.TokenVersion {
			// a reissue landed between verification and the flip
			return rejected(ReasonStaleToken, cur), nil
		}
		return rejected(ReasonTicketInvalid, cur), nil
	}

	tkt.State = ticket.StateCheckedIn
	tkt.UpdatedAt = ev.Timestamp
	if svc.pub != nil {
		if err := svc.pub.PublishCheckIn(ctx, ev); err != nil {
			svc.logger.Error("publishing check-in event", err)
		}
	}
	return Result{Accepted: true, Ticket: tkt, Event: ev}, nil
}

// Logs returns ledger entries matching the filter plus the unbounded total.
func (svc *Service) Logs(ctx context.Context, filter EventFilter) ([]Event, int, error) {
	events, err := svc.repo.QueryEvents(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying check-in events")
	}
	unbounded := filter
	unbounded.Pagination = core.Pagination{}
	total, err := svc.repo.CountEvents(ctx, unbounded)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting check-in events")
	}
	return events, total, nil
}

func (svc *Service) ListByExam(ctx context.Context, examID string) ([]Event, error) {
	return svc.repo.QueryEvents(ctx, EventFilter{ExamID: examID})
}

func (svc *Service) ListByVenue(ctx context.Context, venueID string) ([]Event, error) {
	return svc.repo.QueryEvents(ctx, EventFilter{VenueID: venueID})
}

// ExamReport aggregates attendance for one exam: issued (non-void) versus
// checked-in, plus the no-show ticket list.
func (svc *Service) ExamReport(ctx context.Context, examID string) (ExamReport, error) {
	ex, err := svc.examRepo.GetExamByID(ctx, examID)
	if err != nil {
		return ExamReport{}, errors.Wrap(err, "finding exam")
	}

	tickets, err := svc.ticketRepo.FilterTickets(ctx, ticket.QueryFilter{ExamID: examID})
	if err != nil {
		return ExamReport{}, errors.Wrap(err, "querying tickets")
	}
	events, err := svc.repo.QueryEvents(ctx, EventFilter{ExamID: examID})
	if err != nil {
		return ExamReport{}, errors.Wrap(err, "querying check-in events")
	}

	attended := make(map[string]bool, len(events))
	for _, ev := range events {
		attended[ev.TicketID] = true
	}

	report := ExamReport{
		ExamID:    ex.ID,
		ExamName:  ex.Name,
		StartsAt:  ex.StartsAt,
		EndsAt:    ex.EndsAt,
		CheckedIn: events,
	}
	for _, tkt := range tickets {
		if tkt.State == ticket.StateVoid {
			continue
		}
		report.TotalIssued++
		if attended[tkt.ID] {
			report.TotalCheckedIn++
		} else {
			report.NoShows = append(report.NoShows, tkt)
		}
	}
	report.NoShowCount = len(report.NoShows)
	if report.TotalIssued > 0 {
		report.AttendanceRate = float64(report.TotalCheckedIn) / float64(report.TotalIssued)
	}
	return report, nil
}
