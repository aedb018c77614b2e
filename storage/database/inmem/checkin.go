package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/ticket"
)

type checkInRepository struct {
	tickets *ticketTable
	events  *eventTable
}

var _ checkin.Repository = (*checkInRepository)(nil) // interface compliance check

func NewCheckInRepository(db *DB) *checkInRepository {
	return &checkInRepository{tickets: db.ticket, events: db.checkin}
}

// CheckInTicket mirrors the postgres transaction: the state flip and the
// ledger append happen under one lock, so concurrent attempts on the same
// ticket serialize and exactly one wins.
func (repo *checkInRepository) CheckInTicket(ctx context.Context, tkt ticket.Ticket, ev checkin.Event) (checkin.Event, bool, error) {
	repo.tickets.Lock()
	defer repo.tickets.Unlock()

	cur, ok := repo.tickets.table[tkt.ID]
	if !ok || cur.State != ticket.StateIssued || cur.TokenVersion != tkt.TokenVersion {
		return checkin.Event{}, false, nil
	}
	cur.State = ticket.StateCheckedIn
	cur.UpdatedAt = ev.Timestamp

	ev.ID = uuid.New().String()
	repo.events.Lock()
	repo.events.table = append(repo.events.table, ev)
	repo.events.Unlock()
	return ev, true, nil
}

func eventMatches(ev checkin.Event, filter checkin.EventFilter) bool {
	if filter.ExamID != "" && ev.ExamID != filter.ExamID {
		return false
	}
	if filter.VenueID != "" && ev.VenueID != filter.VenueID {
		return false
	}
	if filter.TicketID != "" && ev.TicketID != filter.TicketID {
		return false
	}
	return true
}

func (repo *checkInRepository) QueryEvents(ctx context.Context, filter checkin.EventFilter) ([]checkin.Event, error) {
	repo.events.RLock()
	defer repo.events.RUnlock()

	// events are appended in timestamp order already
	var events []checkin.Event
	for _, ev := range repo.events.table {
		if eventMatches(ev, filter) {
			events = append(events, ev)
		}
	}
	lo, hi := filter.Slice(len(events))
	return events[lo:hi], nil
}

func (repo *checkInRepository) CountEvents(ctx context.Context, filter checkin.EventFilter) (int, error) {
	repo.events.RLock()
	defer repo.events.RUnlock()

	var count int
	for _, ev := range repo.events.table {
		if eventMatches(ev, filter) {
			count++
		}
	}
	return count, nil
}
