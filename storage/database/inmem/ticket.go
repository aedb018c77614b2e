package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/ticket"
)

type ticketRepository struct {
	db *ticketTable
}

var _ ticket.Repository = (*ticketRepository)(nil) // interface compliance check

func NewTicketRepository(db *DB) *ticketRepository {
	return &ticketRepository{db: db.ticket}
}

func (repo *ticketRepository) query() []ticket.Ticket {
	tickets := make([]ticket.Ticket, 0, len(repo.db.table))
	for _, t := range repo.db.table {
		tickets = append(tickets, *t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].IssuedAt.Before(tickets[j].IssuedAt) })
	return tickets
}

func matches(tkt ticket.Ticket, filter ticket.QueryFilter) bool {
	if filter.ExamID != "" && tkt.ExamID != filter.ExamID {
		return false
	}
	if filter.VenueID != "" && tkt.VenueID != filter.VenueID {
		return false
	}
	if filter.StudentID != "" && tkt.StudentID != filter.StudentID {
		return false
	}
	if filter.State != "" && tkt.State != filter.State {
		return false
	}
	return true
}

func (repo *ticketRepository) CreateTicket(ctx context.Context, tkt ticket.Ticket) (ticket.Ticket, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// enforce the one-active-ticket rule the partial unique index covers
	for _, t := range repo.db.table {
		if t.StudentID == tkt.StudentID && t.ExamID == tkt.ExamID && t.State.Active() {
			return ticket.Ticket{}, ticket.ErrDuplicateTicket
		}
	}

	tkt.ID = uuid.New().String()
	repo.db.table[tkt.ID] = &tkt
	return tkt, nil
}

func (repo *ticketRepository) GetTicketByID(ctx context.Context, id string) (ticket.Ticket, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if tkt, ok := repo.db.table[id]; ok {
		return *tkt, nil
	}
	return ticket.Ticket{}, ticket.ErrNotFound
}

func (repo *ticketRepository) FindActiveTicket(ctx context.Context, studentID, examID string) (ticket.Ticket, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, tkt := range repo.query() {
		if tkt.StudentID == studentID && tkt.ExamID == examID && tkt.State.Active() {
			return tkt, nil
		}
	}
	return ticket.Ticket{}, ticket.ErrNotFound
}

// ticketLess compares two tickets under the requested orderings; unknown
// fields are skipped, matching the column whitelist on the postgres side.
func ticketLess(a, b ticket.Ticket, orderings []core.DBOrdering) bool {
	for _, ord := range orderings {
		var cmp int
		switch ord.Field {
		case "issued_at":
			cmp = a.IssuedAt.Compare(b.IssuedAt)
		case "updated_at":
			cmp = a.UpdatedAt.Compare(b.UpdatedAt)
		case "state":
			cmp = strings.Compare(string(a.State), string(b.State))
		case "exam_id":
			cmp = strings.Compare(a.ExamID, b.ExamID)
		case "venue_id":
			cmp = strings.Compare(a.VenueID, b.VenueID)
		case "student_id":
			cmp = strings.Compare(a.StudentID, b.StudentID)
		default:
			continue
		}
		if cmp == 0 {
			continue
		}
		if ord.Ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	return false
}

func (repo *ticketRepository) FilterTickets(ctx context.Context, filter ticket.QueryFilter) ([]ticket.Ticket, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var tickets []ticket.Ticket
	for _, tkt := range repo.query() {
		if matches(tkt, filter) {
			tickets = append(tickets, tkt)
		}
	}
	if len(filter.Orderings) > 0 {
		sort.SliceStable(tickets, func(i, j int) bool {
			return ticketLess(tickets[i], tickets[j], filter.Orderings)
		})
	}
	lo, hi := filter.Slice(len(tickets))
	return tickets[lo:hi], nil
}

func (repo *ticketRepository) CountTickets(ctx context.Context, filter ticket.QueryFilter) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, tkt := range repo.query() {
		if matches(tkt, filter) {
			count++
		}
	}
	return count, nil
}

func (repo *ticketRepository) BumpTokenVersion(ctx context.Context, id string, fromVersion int) (ticket.Ticket, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	tkt, ok := repo.db.table[id]
	if !ok || tkt.TokenVersion != fromVersion || tkt.State != ticket.StateIssued {
		return ticket.Ticket{}, ticket.ErrNotFound
	}
	tkt.TokenVersion++
	tkt.UpdatedAt = time.Now().UTC()
	return *tkt, nil
}

func (repo *ticketRepository) TransitionState(ctx context.Context, id string, from, to ticket.State) (ticket.Ticket, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	tkt, ok := repo.db.table[id]
	if !ok {
		return ticket.Ticket{}, false, ticket.ErrNotFound
	}
	if tkt.State != from {
		return *tkt, false, nil
	}
	tkt.State = to
	tkt.UpdatedAt = time.Now().UTC()
	return *tkt, true, nil
}
