// Package inmemdb provides in-memory repository implementations for tests
// and local development without postgres.
package inmemdb

import (
	"sync"

	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/exam"
	"github.com/icue/varsity/core/payment"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
)

type (
	DB struct {
		user    *userTable
		exam    *examTable
		ticket  *ticketTable
		checkin *eventTable
		payment *paymentTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	examTable struct {
		sync.RWMutex
		exams  map[string]*exam.Exam
		venues map[string]*exam.Venue
	}

	ticketTable struct {
		sync.RWMutex
		table map[string]*ticket.Ticket
	}

	eventTable struct {
		sync.RWMutex
		table []checkin.Event
	}

	paymentTable struct {
		sync.RWMutex
		table map[string]*payment.Payment
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		exam:    &examTable{exams: make(map[string]*exam.Exam), venues: make(map[string]*exam.Venue)},
		ticket:  &ticketTable{table: make(map[string]*ticket.Ticket)},
		checkin: &eventTable{},
		payment: &paymentTable{table: make(map[string]*payment.Payment)},
	}
	return db, nil
}
