package ticket_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	inmemdb "github.com/icue/varsity/storage/database/inmem"
	testutil "github.com/icue/varsity/tests"
)

type issuerFixture struct {
	db      *inmemdb.DB
	repo    ticket.Repository
	codec   *ticket.Codec
	svc     *ticket.Service
	student user.User
	examID  string
	venueID string
}

func setupIssuer(t *testing.T) issuerFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	userRepo := inmemdb.NewUserRepository(db)
	ticketRepo := inmemdb.NewTicketRepository(db)
	codec := ticket.NewCodec(testutil.SecretKey)
	svc := ticket.NewService(ticketRepo, inmemdb.NewExamRepository(db), userRepo, codec, nil, nil)

	now := time.Now().UTC()
	ex := testutil.CreateExam(t, db, "CS101 Final", now.Add(time.Hour), now.Add(4*time.Hour))
	vn := testutil.CreateVenue(t, db, "Main Hall")
	student := testutil.CreateUser(t, userRepo, "Asha Juma", "asha", "asha@test.cd", "", []string{user.RoleStudent}, true)

	return issuerFixture{
		db:      db,
		repo:    ticketRepo,
		codec:   codec,
		svc:     svc,
		student: student,
		examID:  ex.ID,
		venueID: vn.ID,
	}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("expected *core.ValidationError, got %T: %v", err, err)
	}
	flds := make(map[string]string, len(vErr.Fields))
	for _, f := range vErr.Fields {
		flds[f.Field] = f.Error
	}
	return flds
}

func TestService_Issue(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	tkt, token, err := fix.svc.Issue(ctx, ticket.NewTicket{
		ExamID:    fix.examID,
		VenueID:   fix.venueID,
		StudentID: fix.student.ID,
	})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	assert.NotEmpty(t, tkt.ID)
	assert.Equal(t, ticket.StateIssued, tkt.State)
	assert.Equal(t, 0, tkt.TokenVersion)

	claims, err := fix.codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	assert.Equal(t, tkt.ID, claims.TicketID)
	assert.Equal(t, fix.venueID, claims.VenueID)
}

func TestService_Issue_invalidReferences(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		nt        ticket.NewTicket
		wantField string
	}{
		{"unknown exam", ticket.NewTicket{ExamID: "nope", VenueID: fix.venueID, StudentID: fix.student.ID}, "exam_id"},
		{"unknown venue", ticket.NewTicket{ExamID: fix.examID, VenueID: "nope", StudentID: fix.student.ID}, "venue_id"},
		{"unknown student", ticket.NewTicket{ExamID: fix.examID, VenueID: fix.venueID, StudentID: "nope"}, "student_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := fix.svc.Issue(ctx, tt.nt)
			flds := fieldErrors(t, err)
			assert.Contains(t, flds, tt.wantField)
		})
	}
}

func TestService_Issue_duplicate(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()
	nt := ticket.NewTicket{ExamID: fix.examID, VenueID: fix.venueID, StudentID: fix.student.ID}

	if _, _, err := fix.svc.Issue(ctx, nt); err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	_, _, err := fix.svc.Issue(ctx, nt)
	flds := fieldErrors(t, err)
	assert.Equal(t, ticket.ErrDuplicateTicket.Error(), flds["exam_id"])

	// a voided ticket frees the slot
	tickets, err := fix.repo.FilterTickets(ctx, ticket.QueryFilter{StudentID: fix.student.ID})
	if err != nil {
		t.Fatalf("FilterTickets() failed: %v", err)
	}
	if _, err = fix.svc.Void(ctx, tickets[0].ID); err != nil {
		t.Fatalf("Void() failed: %v", err)
	}
	if _, _, err = fix.svc.Issue(ctx, nt); err != nil {
		t.Errorf("Issue() after void failed: %v", err)
	}
}

func TestService_Issue_examEnded(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := testutil.CreateExam(t, fix.db, "Old Final", now.Add(-4*time.Hour), now.Add(-time.Hour))

	_, _, err := fix.svc.Issue(ctx, ticket.NewTicket{ExamID: past.ID, VenueID: fix.venueID, StudentID: fix.student.ID})
	flds := fieldErrors(t, err)
	assert.Contains(t, flds, "exam_id")
}

func TestService_Filter_paginationBounds(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	if _, _, err := fix.svc.Issue(ctx, ticket.NewTicket{
		ExamID: fix.examID, VenueID: fix.venueID, StudentID: fix.student.ID,
	}); err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	// bounds arrive straight off the query string; hostile values must
	// clamp, not blow up the request
	tests := []struct {
		name string
		p    core.Pagination
		want int
	}{
		{"negative offset", core.Pagination{Offset: -1}, 1},
		{"negative offset and limit", core.Pagination{Limit: -3, Offset: -3}, 1},
		{"offset beyond the result set", core.Pagination{Offset: 40}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets, err := fix.svc.Filter(ctx, ticket.QueryFilter{Pagination: tt.p})
			if err != nil {
				t.Fatalf("Filter() failed: %v", err)
			}
			assert.Len(t, tickets, tt.want)
		})
	}
}

func TestService_Filter_ordering(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	second := testutil.CreateUser(t, inmemdb.NewUserRepository(fix.db),
		"Juma Bakari", "juma", "juma@test.cd", "", []string{user.RoleStudent}, true)

	now := time.Now().UTC()
	mk := func(studentID string, issuedAt time.Time) ticket.Ticket {
		tkt, err := fix.repo.CreateTicket(ctx, ticket.Ticket{
			ExamID:    fix.examID,
			VenueID:   fix.venueID,
			StudentID: studentID,
			State:     ticket.StateIssued,
			IssuedAt:  issuedAt,
			UpdatedAt: issuedAt,
		})
		if err != nil {
			t.Fatalf("CreateTicket() failed: %v", err)
		}
		return tkt
	}
	older := mk(fix.student.ID, now.Add(-time.Hour))
	newer := mk(second.ID, now)

	// issued_at ascending is the default
	tickets, err := fix.svc.Filter(ctx, ticket.QueryFilter{})
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	if assert.Len(t, tickets, 2) {
		assert.Equal(t, older.ID, tickets[0].ID)
		assert.Equal(t, newer.ID, tickets[1].ID)
	}

	tickets, err = fix.svc.Filter(ctx, ticket.QueryFilter{
		Orderings: []core.DBOrdering{{Field: "issued_at", Ascending: false}},
	})
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	if assert.Len(t, tickets, 2) {
		assert.Equal(t, newer.ID, tickets[0].ID)
		assert.Equal(t, older.ID, tickets[1].ID)
	}

	// unknown fields are ignored, leaving the default order intact
	tickets, err = fix.svc.Filter(ctx, ticket.QueryFilter{
		Orderings: []core.DBOrdering{{Field: "password", Ascending: false}},
	})
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	if assert.Len(t, tickets, 2) {
		assert.Equal(t, older.ID, tickets[0].ID)
	}
}

func TestService_Reissue(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	tkt, oldToken, err := fix.svc.Issue(ctx, ticket.NewTicket{
		ExamID: fix.examID, VenueID: fix.venueID, StudentID: fix.student.ID,
	})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	reissued, newToken, err := fix.svc.Reissue(ctx, tkt.ID)
	if err != nil {
		t.Fatalf("Reissue() failed: %v", err)
	}
	assert.Equal(t, 1, reissued.TokenVersion)
	assert.NotEqual(t, oldToken, newToken)

	// the old token still decodes but carries the superseded version
	oldClaims, err := fix.codec.Decode(oldToken)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	assert.NotEqual(t, reissued.TokenVersion, oldClaims.TokenVersion)
}

func TestService_Void_onlyIssued(t *testing.T) {
	fix := setupIssuer(t)
	ctx := context.Background()

	tkt, _, err := fix.svc.Issue(ctx, ticket.NewTicket{
		ExamID: fix.examID, VenueID: fix.venueID, StudentID: fix.student.ID,
	})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	voided, err := fix.svc.Void(ctx, tkt.ID)
	if err != nil {
		t.Fatalf("Void() failed: %v", err)
	}
	assert.Equal(t, ticket.StateVoid, voided.State)

	// VOID is absorbing
	if _, err = fix.svc.Void(ctx, tkt.ID); err == nil {
		t.Error("Void() on a VOID ticket should fail")
	}
	if _, _, err = fix.svc.Reissue(ctx, tkt.ID); err == nil {
		t.Error("Reissue() on a VOID ticket should fail")
	}
}
