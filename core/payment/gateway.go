// Package payment integrates the mobile-money and card gateways that
// precede ticket issuance. The gateway set is closed: every variant is
// registered at startup and resolved through the registry, never through
// ad hoc string matching at call sites.
package payment

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
)

// Method identifies one supported payment gateway.
type Method string

const (
	MethodMPesa    Method = "mpesa"
	MethodAirtel   Method = "airtel"
	MethodTigoPesa Method = "tigopesa"
	MethodCard     Method = "card"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var ErrUnknownMethod = errors.New("unsupported payment method")

// Charge is the gateway-facing view of a payment attempt. Amounts are TZS.
type Charge struct {
	ExternalRef   string
	TransactionID string
	Amount        int64
	Phone         string
	Description   string
	Status        Status
}

// Gateway is one payment provider. Initiate starts a charge and Verify
// re-reads its settled status from the provider.
type Gateway interface {
	Method() Method
	Initiate(ctx context.Context, ch Charge) (Charge, error)
	Verify(ctx context.Context, transactionID string) (Charge, error)
}

// Registry is the closed lookup table of gateways, built once at startup.
type Registry struct {
	gateways map[Method]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	reg := &Registry{gateways: make(map[Method]Gateway, len(gateways))}
	for _, gw := range gateways {
		reg.gateways[gw.Method()] = gw
	}
	return reg
}

func (r *Registry) Resolve(m Method) (Gateway, error) {
	gw, ok := r.gateways[m]
	if !ok {
		return nil, core.NewValidationError(ErrUnknownMethod, core.FieldError{Field: "method", Error: ErrUnknownMethod.Error()})
	}
	return gw, nil
}

// Methods lists the registered methods, for surfacing in API docs/errors.
func (r *Registry) Methods() []Method {
	methods := make([]Method, 0, len(r.gateways))
	for m := range r.gateways {
		methods = append(methods, m)
	}
	return methods
}

// Payment is the persisted record tying a gateway charge to the ticket it
// will pay for once confirmed.
type Payment struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	ExamID        string    `json:"exam_id"`
	VenueID       string    `json:"venue_id"`
	Method        Method    `json:"method"`
	AmountTZS     int64     `json:"amount_tzs"`
	Phone         string    `json:"phone,omitempty"`
	ExternalRef   string    `json:"external_ref"`
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}
