package payment

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/exam"
	"github.com/icue/varsity/core/ticket"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrAlreadyProcessed = errors.New("payment already processed")
	errPaymentFailed    = errors.New("payment was not completed")
)

type (
	Repository interface {
		CreatePayment(ctx context.Context, p Payment) (Payment, error)
		GetPaymentByExternalRef(ctx context.Context, externalRef string) (Payment, error)
		// SettlePayment moves the payment from PENDING to the given status.
		// ok is false when the payment was already settled.
		SettlePayment(ctx context.Context, id string, status Status) (Payment, bool, error)
	}

	Service struct {
		repo      Repository
		registry  *Registry
		examRepo  exam.Repository
		ticketSvc *ticket.Service
		logger    core.Logger
	}
)

func NewService(repo Repository, registry *Registry, examRepo exam.Repository, ticketSvc *ticket.Service, logger core.Logger) *Service {
	return &Service{
		repo:      repo,
		registry:  registry,
		examRepo:  examRepo,
		ticketSvc: ticketSvc,
		logger:    logger,
	}
}

// NewPayment contains information needed to start a ticket purchase.
type NewPayment struct {
	ExamID  string `json:"exam_id" validate:"required"`
	VenueID string `json:"venue_id" validate:"required"`
	Method  Method `json:"method" validate:"required,oneof=mpesa airtel tigopesa card"`
	Phone   string `json:"phone" validate:"required_unless=Method card,omitempty,tzphone"`
}

func (np *NewPayment) Validate(validate *validator.Validate, _ ut.Translator) error {
	np.ExamID = core.CleanString(np.ExamID)
	np.VenueID = core.CleanString(np.VenueID)
	np.Phone = core.CleanString(np.Phone)
	return validate.Struct(np)
}

// Initiate starts a gateway charge for the exam fee and records the
// pending payment. The ticket is only issued once the gateway confirms.
func (svc *Service) Initiate(ctx context.Context, studentID string, np NewPayment) (Payment, error) {
	ex, err := svc.examRepo.GetExamByID(ctx, np.ExamID)
	if err != nil {
		if errors.Cause(err) == exam.ErrExamNotFound {
			return Payment{}, core.NewValidationError(err, core.FieldError{Field: "exam_id", Error: exam.ErrExamNotFound.Error()})
		}
		return Payment{}, errors.Wrap(err, "finding exam")
	}
	gw, err := svc.registry.Resolve(np.Method)
	if err != nil {
		return Payment{}, err
	}

	now := time.Now().UTC()
	ch := Charge{
		ExternalRef: fmt.Sprintf("ICUE-%d", now.UnixNano()),
		Amount:      ex.FeeTZS,
		Phone:       np.Phone,
		Description: fmt.Sprintf("Exam ticket: %s", ex.Name),
	}
	ch, err = gw.Initiate(ctx, ch)
	if err != nil {
		return Payment{}, errors.Wrap(err, "initiating charge")
	}

	p := Payment{
		StudentID:     studentID,
		ExamID:        np.ExamID,
		VenueID:       np.VenueID,
		Method:        np.Method,
		AmountTZS:     ch.Amount,
		Phone:         np.Phone,
		ExternalRef:   ch.ExternalRef,
		TransactionID: ch.TransactionID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p, err = svc.repo.CreatePayment(ctx, p)
	if err != nil {
		return Payment{}, errors.Wrap(err, "creating payment")
	}
	return p, nil
}

// Confirm handles the gateway callback: it re-verifies the charge with the
// provider (never trusting the callback body alone), settles the payment
// exactly once and issues the ticket. A duplicate callback gets
// ErrAlreadyProcessed and no second ticket.
func (svc *Service) Confirm(ctx context.Context, externalRef string) (Payment, ticket.Ticket, error) {
	p, err := svc.repo.GetPaymentByExternalRef(ctx, externalRef)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Payment{}, ticket.Ticket{}, core.NewValidationError(err, core.FieldError{Field: "external_ref", Error: ErrNotFound.Error()})
		}
		return Payment{}, ticket.Ticket{}, errors.Wrap(err, "finding payment")
	}
	if p.Status != StatusPending {
		return p, ticket.Ticket{}, core.NewValidationError(ErrAlreadyProcessed)
	}

	gw, err := svc.registry.Resolve(p.Method)
	if err != nil {
		return Payment{}, ticket.Ticket{}, err
	}
	ch, err := gw.Verify(ctx, p.TransactionID)
	if err != nil {
		return Payment{}, ticket.Ticket{}, errors.Wrap(err, "verifying charge")
	}
	if ch.Status != StatusCompleted {
		status := StatusFailed
		if ch.Status == StatusPending {
			return p, ticket.Ticket{}, core.NewValidationError(errPaymentFailed, core.FieldError{Field: "status", Error: "payment still pending"})
		}
		if p, _, err = svc.repo.SettlePayment(ctx, p.ID, status); err != nil {
			return Payment{}, ticket.Ticket{}, errors.Wrap(err, "settling payment")
		}
		return p, ticket.Ticket{}, core.NewValidationError(errPaymentFailed)
	}

	p, ok, err := svc.repo.SettlePayment(ctx, p.ID, StatusCompleted)
	if err != nil {
		return Payment{}, ticket.Ticket{}, errors.Wrap(err, "settling payment")
	}
	if !ok {
		// a concurrent callback settled it first
		return p, ticket.Ticket{}, core.NewValidationError(ErrAlreadyProcessed)
	}

	tkt, _, err := svc.ticketSvc.Issue(ctx, ticket.NewTicket{
		ExamID:    p.ExamID,
		VenueID:   p.VenueID,
		StudentID: p.StudentID,
	})
	if err != nil {
		return p, ticket.Ticket{}, errors.Wrap(err, "issuing ticket")
	}
	return p, tkt, nil
}
