package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/payment"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	inmemdb "github.com/icue/varsity/storage/database/inmem"
	testutil "github.com/icue/varsity/tests"
)

const (
	mpesaBase   = "https://mpesa.test"
	callbackURL = "https://varsity.test/v1/payments/callback"
)

func TestRegistry(t *testing.T) {
	registry := payment.NewRegistry(
		payment.NewMPesaGateway(mpesaBase, callbackURL),
		payment.NewAirtelGateway("https://airtel.test", callbackURL),
		payment.NewTigoPesaGateway("https://tigo.test", callbackURL),
		payment.NewCardGateway("sk_test_123"),
	)

	for _, m := range []payment.Method{payment.MethodMPesa, payment.MethodAirtel, payment.MethodTigoPesa, payment.MethodCard} {
		gw, err := registry.Resolve(m)
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", m, err)
		}
		assert.Equal(t, m, gw.Method())
	}
	assert.Len(t, registry.Methods(), 4)

	// the set is closed
	_, err := registry.Resolve("paypal")
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("Resolve() error = %T, want *core.ValidationError", err)
	}
	assert.Equal(t, "method", vErr.Fields[0].Field)
}

func TestMobileMoneyGateway(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	gw := payment.NewMPesaGateway(mpesaBase, callbackURL)

	var gotPush map[string]interface{}
	httpmock.RegisterResponder(http.MethodPost, mpesaBase+"/payments",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&gotPush); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"transactionId": "txn-1",
				"status":        "PENDING",
				"amount":        10000,
			})
		},
	)
	httpmock.RegisterResponder(http.MethodGet, mpesaBase+"/payments/txn-1",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"transactionId": "txn-1",
			"status":        "SUCCESS",
			"amount":        10000,
		}),
	)

	ch, err := gw.Initiate(context.Background(), payment.Charge{
		ExternalRef: "ICUE-1",
		Amount:      10000,
		Phone:       "+255712345678",
		Description: "Exam ticket: CS101 Final",
	})
	if err != nil {
		t.Fatalf("Initiate() failed: %v", err)
	}
	assert.Equal(t, "txn-1", ch.TransactionID)
	assert.Equal(t, payment.StatusPending, ch.Status)
	assert.Equal(t, "+255712345678", gotPush["phoneNumber"])
	assert.Equal(t, "ICUE-1", gotPush["externalReferenceId"])
	assert.Equal(t, callbackURL, gotPush["returnUrl"])

	verified, err := gw.Verify(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	assert.Equal(t, payment.StatusCompleted, verified.Status)
}

func TestMobileMoneyGateway_providerError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	gw := payment.NewMPesaGateway(mpesaBase, callbackURL)
	httpmock.RegisterResponder(http.MethodPost, mpesaBase+"/payments",
		httpmock.NewStringResponder(502, "bad gateway"))

	_, err := gw.Initiate(context.Background(), payment.Charge{ExternalRef: "ICUE-2", Amount: 5000})
	assert.Error(t, err)
}

type paymentFixture struct {
	db        *inmemdb.DB
	repo      payment.Repository
	svc       *payment.Service
	studentID string
	examID    string
	venueID   string
}

func setupPayments(t *testing.T) paymentFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	userRepo := inmemdb.NewUserRepository(db)
	examRepo := inmemdb.NewExamRepository(db)
	ticketRepo := inmemdb.NewTicketRepository(db)
	paymentRepo := inmemdb.NewPaymentRepository(db)

	codec := ticket.NewCodec(testutil.SecretKey)
	ticketSvc := ticket.NewService(ticketRepo, examRepo, userRepo, codec, nil, nil)
	registry := payment.NewRegistry(payment.NewMPesaGateway(mpesaBase, callbackURL))
	svc := payment.NewService(paymentRepo, registry, examRepo, ticketSvc, nil)

	now := time.Now().UTC()
	ex := testutil.CreateExam(t, db, "CS101 Final", now.Add(time.Hour), now.Add(4*time.Hour))
	vn := testutil.CreateVenue(t, db, "Main Hall")
	student := testutil.CreateUser(t, userRepo, "Asha Juma", "asha", "asha@test.cd", "", []string{user.RoleStudent}, true)

	return paymentFixture{
		db:        db,
		repo:      paymentRepo,
		svc:       svc,
		studentID: student.ID,
		examID:    ex.ID,
		venueID:   vn.ID,
	}
}

func TestService_InitiateAndConfirm(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	fix := setupPayments(t)
	ctx := context.Background()

	httpmock.RegisterResponder(http.MethodPost, mpesaBase+"/payments",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"transactionId": "txn-9", "status": "PENDING",
		}))
	httpmock.RegisterResponder(http.MethodGet, mpesaBase+"/payments/txn-9",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"transactionId": "txn-9", "status": "COMPLETED", "amount": 10000,
		}))

	p, err := fix.svc.Initiate(ctx, fix.studentID, payment.NewPayment{
		ExamID:  fix.examID,
		VenueID: fix.venueID,
		Method:  payment.MethodMPesa,
		Phone:   "+255712345678",
	})
	if err != nil {
		t.Fatalf("Initiate() failed: %v", err)
	}
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, int64(10000), p.AmountTZS, "charges the exam fee")
	assert.NotEmpty(t, p.ExternalRef)

	settled, tkt, err := fix.svc.Confirm(ctx, p.ExternalRef)
	if err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}
	assert.Equal(t, payment.StatusCompleted, settled.Status)
	assert.Equal(t, ticket.StateIssued, tkt.State)
	assert.Equal(t, fix.studentID, tkt.StudentID)

	// a duplicate callback cannot issue a second ticket
	_, _, err = fix.svc.Confirm(ctx, p.ExternalRef)
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("Confirm() duplicate error = %T, want *core.ValidationError", err)
	}
	assert.Equal(t, payment.ErrAlreadyProcessed.Error(), vErr.Error())
}

func TestService_Confirm_failures(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	fix := setupPayments(t)
	ctx := context.Background()

	// unknown reference
	_, _, err := fix.svc.Confirm(ctx, "ICUE-nope")
	if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Fatalf("Confirm() unknown-ref error = %T, want *core.ValidationError", err)
	}

	httpmock.RegisterResponder(http.MethodPost, mpesaBase+"/payments",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"transactionId": "txn-10", "status": "PENDING",
		}))
	httpmock.RegisterResponder(http.MethodGet, mpesaBase+"/payments/txn-10",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"transactionId": "txn-10", "status": "CANCELLED",
		}))

	p, err := fix.svc.Initiate(ctx, fix.studentID, payment.NewPayment{
		ExamID:  fix.examID,
		VenueID: fix.venueID,
		Method:  payment.MethodMPesa,
		Phone:   "+255712345678",
	})
	if err != nil {
		t.Fatalf("Initiate() failed: %v", err)
	}

	// the provider says the charge never completed
	_, _, err = fix.svc.Confirm(ctx, p.ExternalRef)
	if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Fatalf("Confirm() failed-charge error = %T, want *core.ValidationError", err)
	}
	settled, err := fix.repo.GetPaymentByExternalRef(ctx, p.ExternalRef)
	if err != nil {
		t.Fatalf("GetPaymentByExternalRef() failed: %v", err)
	}
	assert.Equal(t, payment.StatusFailed, settled.Status)
}
