// Package testutil provides shared test fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/exam"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	inmemdb "github.com/icue/varsity/storage/database/inmem"
)

const SecretKey = "test-secret-key"

// NewConfig returns a TEST-mode config with sane check-in windows.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:   "ICUE Varsity",
		Env:       "TEST",
		Debug:     false,
		TestMode:  true,
		SecretKey: SecretKey,
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		CheckIn: core.CheckInConfig{
			GraceWindow: time.Hour,
			CutoffGrace: 0,
		},
	}
}

// OpenDB returns a fresh in-memory database.
func OpenDB(t *testing.T) *inmemdb.DB {
	t.Helper()
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateExam seeds an exam running over the given window.
func CreateExam(t *testing.T, db *inmemdb.DB, name string, startsAt, endsAt time.Time) exam.Exam {
	t.Helper()
	return db.SeedExam(exam.Exam{
		Name:      name,
		StartsAt:  startsAt.UTC(),
		EndsAt:    endsAt.UTC(),
		FeeTZS:    10000,
		CreatedAt: time.Now().UTC(),
	})
}

func CreateVenue(t *testing.T, db *inmemdb.DB, name string) exam.Venue {
	t.Helper()
	return db.SeedVenue(exam.Venue{
		Name:      name,
		Address:   "1 Chuo Kikuu Rd, Dar es Salaam",
		Capacity:  200,
		CreatedAt: time.Now().UTC(),
	})
}

// CreateTicket persists an ISSUED ticket at token version 0.
func CreateTicket(t *testing.T, repo ticket.Repository, examID, venueID, studentID string) ticket.Ticket {
	t.Helper()
	now := time.Now().UTC()
	tkt, err := repo.CreateTicket(context.Background(), ticket.Ticket{
		ExamID:    examID,
		VenueID:   venueID,
		StudentID: studentID,
		State:     ticket.StateIssued,
		IssuedAt:  now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateTicket() failed: %v", err)
	}
	return tkt
}
