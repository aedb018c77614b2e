package payment

import (
	"context"

	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/paymentintent"
)

// cardGateway charges debit/credit cards through Stripe PaymentIntents.
type cardGateway struct{}

func NewCardGateway(apiKey string) Gateway {
	stripe.Key = apiKey
	return &cardGateway{}
}

func (gw *cardGateway) Method() Method { return MethodCard }

func (gw *cardGateway) Initiate(_ context.Context, ch Charge) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(ch.Amount),
		Currency:    stripe.String(string(stripe.CurrencyTZS)),
		Description: stripe.String(ch.Description),
	}
	params.AddMetadata("external_ref", ch.ExternalRef)

	pi, err := paymentintent.New(params)
	if err != nil {
		return Charge{}, errors.Wrap(err, "card: initiating payment")
	}
	ch.TransactionID = pi.ID
	ch.Status = statusFromStripe(pi.Status)
	return ch, nil
}

func (gw *cardGateway) Verify(_ context.Context, transactionID string) (Charge, error) {
	pi, err := paymentintent.Get(transactionID, nil)
	if err != nil {
		return Charge{}, errors.Wrap(err, "card: verifying payment")
	}
	return Charge{
		TransactionID: pi.ID,
		Amount:        pi.Amount,
		Status:        statusFromStripe(pi.Status),
	}, nil
}

func statusFromStripe(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
