package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/ticket"
)

type eventRow struct {
	ID        string    `db:"id"`
	TicketID  string    `db:"ticket_id"`
	ExamID    string    `db:"exam_id"`
	StudentID string    `db:"student_id"`
	VenueID   string    `db:"venue_id"`
	ProctorID string    `db:"proctor_id"`
	Method    string    `db:"method"`
	Timestamp time.Time `db:"timestamp"`
}

func (r eventRow) toCore() checkin.Event {
	return checkin.Event{
		ID:        r.ID,
		TicketID:  r.TicketID,
		ExamID:    r.ExamID,
		StudentID: r.StudentID,
		VenueID:   r.VenueID,
		ProctorID: r.ProctorID,
		Method:    checkin.Method(r.Method),
		Timestamp: r.Timestamp,
	}
}

type checkInRepository struct {
	db *sqlx.DB
}

var _ checkin.Repository = (*checkInRepository)(nil) // interface compliance check

func NewCheckInRepository(db *sqlx.DB) *checkInRepository {
	return &checkInRepository{db: db}
}

// CheckInTicket performs the single atomicity-critical operation of the
// check-in flow: the conditional state flip and the ledger append commit
// or roll back together. The UPDATE guards both state and token version,
// making the transition linearizable per ticket; of N concurrent attempts
// exactly one sees RowsAffected == 1, and a reissue landing between token
// verification and the flip loses the race instead of being admitted.
func (repo checkInRepository) CheckInTicket(ctx context.Context, tkt ticket.Ticket, ev checkin.Event) (checkin.Event, bool, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return checkin.Event{}, false, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE ticket SET state = $2, updated_at = $3
		 WHERE id = $1 AND state = $4 AND token_version = $5`,
		tkt.ID, ticket.StateCheckedIn, ev.Timestamp, ticket.StateIssued, tkt.TokenVersion,
	)
	if err != nil {
		return checkin.Event{}, false, errors.Wrap(err, "updating ticket state")
	}
	won, err := res.RowsAffected()
	if err != nil {
		return checkin.Event{}, false, errors.Wrap(err, "reading rows affected")
	}
	if won == 0 {
		return checkin.Event{}, false, nil
	}

	ev.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkin_event (id, ticket_id, exam_id, student_id, venue_id, proctor_id, method, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.TicketID, ev.ExamID, ev.StudentID, ev.VenueID, ev.ProctorID, ev.Method, ev.Timestamp,
	)
	if err != nil {
		return checkin.Event{}, false, errors.Wrap(err, "inserting check-in event")
	}

	if err = tx.Commit(); err != nil {
		return checkin.Event{}, false, errors.Wrap(err, "committing check-in")
	}
	return ev, true, nil
}

func eventFilterClauses(filter checkin.EventFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.ExamID != "" {
		add("exam_id", filter.ExamID)
	}
	if filter.VenueID != "" {
		add("venue_id", filter.VenueID)
	}
	if filter.TicketID != "" {
		add("ticket_id", filter.TicketID)
	}

	var where string
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

func (repo checkInRepository) QueryEvents(ctx context.Context, filter checkin.EventFilter) ([]checkin.Event, error) {
	where, args := eventFilterClauses(filter)

	q := `SELECT * FROM checkin_event` + where + ` ORDER BY "timestamp" ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying check-in events")
	}
	events := make([]checkin.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toCore())
	}
	return events, nil
}

func (repo checkInRepository) CountEvents(ctx context.Context, filter checkin.EventFilter) (int, error) {
	where, args := eventFilterClauses(filter)

	var count int
	if err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM checkin_event`+where, args...); err != nil {
		return 0, errors.Wrap(err, "counting check-in events")
	}
	return count, nil
}
