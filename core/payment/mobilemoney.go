package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// mobileMoneyGateway drives the Tanzanian mobile-money push-payment APIs.
// The three networks share one request/response shape; only the endpoint
// and reference prefix differ.
type mobileMoneyGateway struct {
	method      Method
	refPrefix   string
	baseURL     string
	callbackURL string
	client      *http.Client
}

func newMobileMoneyGateway(method Method, refPrefix, baseURL, callbackURL string) *mobileMoneyGateway {
	return &mobileMoneyGateway{
		method:      method,
		refPrefix:   refPrefix,
		baseURL:     baseURL,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func NewMPesaGateway(baseURL, callbackURL string) Gateway {
	return newMobileMoneyGateway(MethodMPesa, "MPESA", baseURL, callbackURL)
}

func NewAirtelGateway(baseURL, callbackURL string) Gateway {
	return newMobileMoneyGateway(MethodAirtel, "AIRTEL", baseURL, callbackURL)
}

func NewTigoPesaGateway(baseURL, callbackURL string) Gateway {
	return newMobileMoneyGateway(MethodTigoPesa, "TIGO", baseURL, callbackURL)
}

func (gw *mobileMoneyGateway) Method() Method { return gw.method }

type (
	mobileMoneyPushRequest struct {
		PhoneNumber         string `json:"phoneNumber"`
		Amount              int64  `json:"amount"`
		Description         string `json:"description"`
		ExternalReferenceID string `json:"externalReferenceId"`
		ReturnURL           string `json:"returnUrl"`
	}

	mobileMoneyResponse struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
		Message       string `json:"message"`
		Amount        int64  `json:"amount"`
	}
)

// Initiate requests a push payment; the customer confirms on their phone
// and the provider later hits the callback URL.
func (gw *mobileMoneyGateway) Initiate(ctx context.Context, ch Charge) (Charge, error) {
	body := mobileMoneyPushRequest{
		PhoneNumber:         ch.Phone,
		Amount:              ch.Amount,
		Description:         ch.Description,
		ExternalReferenceID: ch.ExternalRef,
		ReturnURL:           gw.callbackURL,
	}
	var resp mobileMoneyResponse
	if err := gw.post(ctx, "/payments", body, &resp); err != nil {
		return Charge{}, errors.Wrapf(err, "%s: initiating payment", gw.method)
	}
	ch.TransactionID = resp.TransactionID
	ch.Status = statusFromProvider(resp.Status)
	return ch, nil
}

func (gw *mobileMoneyGateway) Verify(ctx context.Context, transactionID string) (Charge, error) {
	var resp mobileMoneyResponse
	if err := gw.get(ctx, "/payments/"+transactionID, &resp); err != nil {
		return Charge{}, errors.Wrapf(err, "%s: verifying payment", gw.method)
	}
	return Charge{
		TransactionID: resp.TransactionID,
		Amount:        resp.Amount,
		Status:        statusFromProvider(resp.Status),
	}, nil
}

func (gw *mobileMoneyGateway) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gw.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return gw.do(req, out)
}

func (gw *mobileMoneyGateway) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.baseURL+path, nil)
	if err != nil {
		return err
	}
	return gw.do(req, out)
}

func (gw *mobileMoneyGateway) do(req *http.Request, out interface{}) error {
	resp, err := gw.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusFromProvider(s string) Status {
	switch s {
	case "COMPLETED", "SUCCESS":
		return StatusCompleted
	case "FAILED", "CANCELLED":
		return StatusFailed
	default:
		return StatusPending
	}
}
