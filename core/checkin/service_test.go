package checkin_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	logsvc "github.com/icue/varsity/services/logger"
	inmemdb "github.com/icue/varsity/storage/database/inmem"
	testutil "github.com/icue/varsity/tests"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []checkin.Event
}

func (p *capturePublisher) PublishCheckIn(_ context.Context, ev checkin.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

type fixture struct {
	db         *inmemdb.DB
	repo       checkin.Repository
	ticketRepo ticket.Repository
	codec      *ticket.Codec
	pub        *capturePublisher
	svc        *checkin.Service

	examID    string
	venueID   string
	proctorID string
	studentID string
}

// setup seeds an exam in its admission window and one ISSUED ticket.
func setup(t *testing.T) (fixture, ticket.Ticket, string) {
	t.Helper()
	db := testutil.OpenDB(t)
	userRepo := inmemdb.NewUserRepository(db)
	ticketRepo := inmemdb.NewTicketRepository(db)
	checkInRepo := inmemdb.NewCheckInRepository(db)
	codec := ticket.NewCodec(testutil.SecretKey)
	pub := &capturePublisher{}

	conf := testutil.NewConfig()
	svc := checkin.NewService(conf, checkInRepo, ticketRepo, inmemdb.NewExamRepository(db), codec, pub, testLogger())

	now := time.Now().UTC()
	ex := testutil.CreateExam(t, db, "CS101 Final", now.Add(-30*time.Minute), now.Add(2*time.Hour))
	vn := testutil.CreateVenue(t, db, "Main Hall")
	student := testutil.CreateUser(t, userRepo, "Asha Juma", "asha", "asha@test.cd", "", []string{user.RoleStudent}, true)
	proctor := testutil.CreateUser(t, userRepo, "Mw. Neema", "neema", "neema@test.cd", "", []string{user.RoleTeacher}, true)

	fix := fixture{
		db:         db,
		repo:       checkInRepo,
		ticketRepo: ticketRepo,
		codec:      codec,
		pub:        pub,
		svc:        svc,
		examID:     ex.ID,
		venueID:    vn.ID,
		proctorID:  proctor.ID,
		studentID:  student.ID,
	}
	tkt := testutil.CreateTicket(t, ticketRepo, ex.ID, vn.ID, student.ID)
	token := encodeToken(t, codec, tkt)
	return fix, tkt, token
}

func testLogger() *logsvc.ConsoleLogger {
	return logsvc.NewConsoleLogger(log.New(io.Discard, "", 0))
}

func encodeToken(t *testing.T, codec *ticket.Codec, tkt ticket.Ticket) string {
	t.Helper()
	token, err := codec.Encode(tkt)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	return token
}

func TestService_CheckIn_accepted(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	res, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.True(t, res.Accepted)
	assert.Equal(t, ticket.StateCheckedIn, res.Ticket.State)
	assert.Equal(t, tkt.ID, res.Event.TicketID)
	assert.Equal(t, fix.proctorID, res.Event.ProctorID)
	assert.Equal(t, checkin.MethodScanned, res.Event.Method)

	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{TicketID: tkt.ID})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Len(t, events, 1)
	assert.Len(t, fix.pub.events, 1)
}

func TestService_CheckIn_secondUseRejected(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	if _, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned); err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}

	res, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonAlreadyUsed, res.Reason)

	// the ledger still holds exactly one entry
	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{TicketID: tkt.ID})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Len(t, events, 1)
}

func TestService_CheckIn_rejections(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	unknown := tkt
	unknown.ID = "no-such-ticket"

	stale := tkt
	stale.TokenVersion = tkt.TokenVersion - 1

	otherVenue := testutil.CreateVenue(t, fix.db, "Annex Hall")

	tests := []struct {
		name       string
		token      string
		venueID    string
		wantReason checkin.Reason
	}{
		{"garbage token", "not-a-token", fix.venueID, checkin.ReasonInvalidToken},
		{"empty token", "", fix.venueID, checkin.ReasonInvalidToken},
		{"unknown ticket", encodeToken(t, fix.codec, unknown), fix.venueID, checkin.ReasonUnknownTicket},
		{"stale version", encodeToken(t, fix.codec, stale), fix.venueID, checkin.ReasonStaleToken},
		{"wrong venue", token, otherVenue.ID, checkin.ReasonWrongVenue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := fix.svc.CheckIn(ctx, tt.token, tt.venueID, fix.proctorID, checkin.MethodScanned)
			if err != nil {
				t.Fatalf("CheckIn() failed: %v", err)
			}
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}

	// no rejection recorded an event or moved the ticket
	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Empty(t, events)
	cur, err := fix.ticketRepo.GetTicketByID(ctx, tkt.ID)
	if err != nil {
		t.Fatalf("GetTicketByID() failed: %v", err)
	}
	assert.Equal(t, ticket.StateIssued, cur.State)
}

func TestService_CheckIn_window(t *testing.T) {
	fix, _, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// exam too far in the future: outside the grace window
	early := testutil.CreateExam(t, fix.db, "Future Final", now.Add(3*time.Hour), now.Add(6*time.Hour))
	earlyTkt := testutil.CreateTicket(t, fix.ticketRepo, early.ID, fix.venueID, fix.studentID)

	res, err := fix.svc.CheckIn(ctx, encodeToken(t, fix.codec, earlyTkt), fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonOutOfWindow, res.Reason)

	// an early arrival does not expire the ticket
	cur, err := fix.ticketRepo.GetTicketByID(ctx, earlyTkt.ID)
	if err != nil {
		t.Fatalf("GetTicketByID() failed: %v", err)
	}
	assert.Equal(t, ticket.StateIssued, cur.State)
}

func TestService_CheckIn_lazyExpiry(t *testing.T) {
	fix, _, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ended := testutil.CreateExam(t, fix.db, "Past Final", now.Add(-5*time.Hour), now.Add(-2*time.Hour))
	tkt := testutil.CreateTicket(t, fix.ticketRepo, ended.ID, fix.venueID, fix.studentID)

	res, err := fix.svc.CheckIn(ctx, encodeToken(t, fix.codec, tkt), fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonOutOfWindow, res.Reason)

	// first out-of-window presentation after the end settles the state
	cur, err := fix.ticketRepo.GetTicketByID(ctx, tkt.ID)
	if err != nil {
		t.Fatalf("GetTicketByID() failed: %v", err)
	}
	assert.Equal(t, ticket.StateExpired, cur.State)
}

func TestService_CheckIn_voidedTicket(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	if _, _, err := fix.ticketRepo.TransitionState(ctx, tkt.ID, ticket.StateIssued, ticket.StateVoid); err != nil {
		t.Fatalf("TransitionState() failed: %v", err)
	}

	res, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonTicketInvalid, res.Reason)
}

// flakyRepo fails the first n CheckInTicket calls with an indeterminate
// fault, then delegates.
type flakyRepo struct {
	checkin.Repository
	mu       sync.Mutex
	failures int
}

func (r *flakyRepo) CheckInTicket(ctx context.Context, tkt ticket.Ticket, ev checkin.Event) (checkin.Event, bool, error) {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return checkin.Event{}, false, errors.New("connection reset")
	}
	return r.Repository.CheckInTicket(ctx, tkt, ev)
}

func TestService_CheckIn_retryAfterFault(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	flaky := &flakyRepo{Repository: fix.repo, failures: 1}
	svc := checkin.NewService(testutil.NewConfig(), flaky, fix.ticketRepo,
		inmemdb.NewExamRepository(fix.db), fix.codec, fix.pub, testLogger())

	// the interrupted attempt reports a fault, not a rejection
	if _, err := svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned); err == nil {
		t.Fatal("CheckIn() should fail while persistence is down")
	}

	// nothing was recorded, so the retry succeeds
	res, err := svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() retry failed: %v", err)
	}
	assert.True(t, res.Accepted)

	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{TicketID: tkt.ID})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Len(t, events, 1)
}

// reissuingRepo bumps the ticket's token version right before the first
// state flip, simulating a reissue landing between token verification and
// the atomic transition.
type reissuingRepo struct {
	checkin.Repository
	tickets ticket.Repository
	once    sync.Once
}

func (r *reissuingRepo) CheckInTicket(ctx context.Context, tkt ticket.Ticket, ev checkin.Event) (checkin.Event, bool, error) {
	r.once.Do(func() { _, _ = r.tickets.BumpTokenVersion(ctx, tkt.ID, tkt.TokenVersion) })
	return r.Repository.CheckInTicket(ctx, tkt, ev)
}

func TestService_CheckIn_reissueRace(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	racing := &reissuingRepo{Repository: fix.repo, tickets: fix.ticketRepo}
	svc := checkin.NewService(testutil.NewConfig(), racing, fix.ticketRepo,
		inmemdb.NewExamRepository(fix.db), fix.codec, fix.pub, testLogger())

	// the token verified fine, but it is superseded by the time the state
	// flips; it must not be admitted
	res, err := svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonStaleToken, res.Reason)

	// no event was written and the ticket is still admissible
	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{TicketID: tkt.ID})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Empty(t, events)

	cur, err := fix.ticketRepo.GetTicketByID(ctx, tkt.ID)
	if err != nil {
		t.Fatalf("GetTicketByID() failed: %v", err)
	}
	assert.Equal(t, ticket.StateIssued, cur.State)

	// the current token goes through
	res, err = svc.CheckIn(ctx, encodeToken(t, fix.codec, cur), fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	assert.True(t, res.Accepted)
}

func TestService_CheckIn_concurrentSingleUse(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	const n = 32
	results := make([]checkin.Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
		}(i)
	}
	wg.Wait()

	var accepted int
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("CheckIn() #%d failed: %v", i, errs[i])
		}
		if results[i].Accepted {
			accepted++
		} else {
			assert.Equal(t, checkin.ReasonAlreadyUsed, results[i].Reason)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one concurrent attempt must win")

	events, err := fix.repo.QueryEvents(ctx, checkin.EventFilter{TicketID: tkt.ID})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	assert.Len(t, events, 1)
}

func TestService_CheckInManual(t *testing.T) {
	fix, tkt, _ := setup(t)
	ctx := context.Background()

	otherVenue := testutil.CreateVenue(t, fix.db, "Annex Hall")

	// manual check-in enforces the ticket's own venue binding
	res, err := fix.svc.CheckInManual(ctx, tkt.ID, otherVenue.ID, fix.proctorID)
	if err != nil {
		t.Fatalf("CheckInManual() failed: %v", err)
	}
	assert.False(t, res.Accepted)
	assert.Equal(t, checkin.ReasonWrongVenue, res.Reason)

	res, err = fix.svc.CheckInManual(ctx, tkt.ID, fix.venueID, fix.proctorID)
	if err != nil {
		t.Fatalf("CheckInManual() failed: %v", err)
	}
	assert.True(t, res.Accepted)
	assert.Equal(t, checkin.MethodManual, res.Event.Method)

	res, err = fix.svc.CheckInManual(ctx, "no-such-ticket", fix.venueID, fix.proctorID)
	if err != nil {
		t.Fatalf("CheckInManual() failed: %v", err)
	}
	assert.Equal(t, checkin.ReasonUnknownTicket, res.Reason)
}

func TestService_Logs_clampsBounds(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	if _, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned); err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}

	// pagination comes off the query string unchecked
	events, total, err := fix.svc.Logs(ctx, checkin.EventFilter{
		ExamID:     fix.examID,
		Pagination: core.Pagination{Limit: -1, Offset: -1},
	})
	if err != nil {
		t.Fatalf("Logs() failed: %v", err)
	}
	assert.Len(t, events, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, tkt.ID, events[0].TicketID)
}

func TestService_LogsAndReport(t *testing.T) {
	fix, tkt, token := setup(t)
	ctx := context.Background()

	// a second student with a ticket that will be a no-show
	noShow := testutil.CreateUser(t, inmemdb.NewUserRepository(fix.db), "Juma Bakari", "juma", "juma@test.cd", "", []string{user.RoleStudent}, true)
	noShowTkt := testutil.CreateTicket(t, fix.ticketRepo, fix.examID, fix.venueID, noShow.ID)

	// and a voided one that must not count at all
	voided := testutil.CreateUser(t, inmemdb.NewUserRepository(fix.db), "Zawadi Omari", "zawadi", "zawadi@test.cd", "", []string{user.RoleStudent}, true)
	voidedTkt := testutil.CreateTicket(t, fix.ticketRepo, fix.examID, fix.venueID, voided.ID)
	if _, _, err := fix.ticketRepo.TransitionState(ctx, voidedTkt.ID, ticket.StateIssued, ticket.StateVoid); err != nil {
		t.Fatalf("TransitionState() failed: %v", err)
	}

	res, err := fix.svc.CheckIn(ctx, token, fix.venueID, fix.proctorID, checkin.MethodScanned)
	if err != nil || !res.Accepted {
		t.Fatalf("CheckIn() failed: %v (accepted=%v)", err, res.Accepted)
	}

	events, total, err := fix.svc.Logs(ctx, checkin.EventFilter{ExamID: fix.examID})
	if err != nil {
		t.Fatalf("Logs() failed: %v", err)
	}
	assert.Len(t, events, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, tkt.ID, events[0].TicketID)

	report, err := fix.svc.ExamReport(ctx, fix.examID)
	if err != nil {
		t.Fatalf("ExamReport() failed: %v", err)
	}
	assert.Equal(t, 2, report.TotalIssued, "voided tickets do not count")
	assert.Equal(t, 1, report.TotalCheckedIn)
	assert.Equal(t, 1, report.NoShowCount)
	assert.InDelta(t, 0.5, report.AttendanceRate, 1e-9)
	if assert.Len(t, report.NoShows, 1) {
		assert.Equal(t, noShowTkt.ID, report.NoShows[0].ID)
	}
}
