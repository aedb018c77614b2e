package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/ticket"
)

type ticketRow struct {
	ID           string    `db:"id"`
	ExamID       string    `db:"exam_id"`
	VenueID      string    `db:"venue_id"`
	StudentID    string    `db:"student_id"`
	State        string    `db:"state"`
	TokenVersion int       `db:"token_version"`
	IssuedAt     time.Time `db:"issued_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r ticketRow) toCore() ticket.Ticket {
	return ticket.Ticket{
		ID:           r.ID,
		ExamID:       r.ExamID,
		VenueID:      r.VenueID,
		StudentID:    r.StudentID,
		State:        ticket.State(r.State),
		TokenVersion: r.TokenVersion,
		IssuedAt:     r.IssuedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type ticketRepository struct {
	db *sqlx.DB
}

var _ ticket.Repository = (*ticketRepository)(nil) // interface compliance check

func NewTicketRepository(db *sqlx.DB) *ticketRepository {
	return &ticketRepository{db: db}
}

func trapTicketNoRows(err error, msg string) error {
	if err == sql.ErrNoRows {
		return ticket.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo ticketRepository) CreateTicket(ctx context.Context, tkt ticket.Ticket) (ticket.Ticket, error) {
	tkt.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO ticket (id, exam_id, venue_id, student_id, state, token_version, issued_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tkt.ID, tkt.ExamID, tkt.VenueID, tkt.StudentID, tkt.State, tkt.TokenVersion, tkt.IssuedAt, tkt.UpdatedAt,
	)
	if err != nil {
		// the partial unique index closes the duplicate-purchase race
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return ticket.Ticket{}, ticket.ErrDuplicateTicket
		}
		return ticket.Ticket{}, errors.Wrap(err, "inserting ticket")
	}
	return tkt, nil
}

func (repo ticketRepository) GetTicketByID(ctx context.Context, id string) (ticket.Ticket, error) {
	var row ticketRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM ticket WHERE id = $1`, id); err != nil {
		return ticket.Ticket{}, trapTicketNoRows(err, "finding ticket by ID")
	}
	return row.toCore(), nil
}

func (repo ticketRepository) FindActiveTicket(ctx context.Context, studentID, examID string) (ticket.Ticket, error) {
	var row ticketRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM ticket
		 WHERE student_id = $1 AND exam_id = $2 AND state IN ($3, $4)
		 LIMIT 1`,
		studentID, examID, ticket.StateIssued, ticket.StateCheckedIn,
	)
	if err != nil {
		return ticket.Ticket{}, trapTicketNoRows(err, "finding active ticket")
	}
	return row.toCore(), nil
}

func ticketFilterClauses(filter ticket.QueryFilter) (string, []interface{}) {
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
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.State != "" {
		add("state", filter.State)
	}

	var where string
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

// ticketOrderColumns whitelists the fields a caller may order by; anything
// else never reaches the query text.
var ticketOrderColumns = map[string]bool{
	"issued_at":  true,
	"updated_at": true,
	"state":      true,
	"exam_id":    true,
	"venue_id":   true,
	"student_id": true,
}

func ticketOrderBy(orderings []core.DBOrdering) string {
	var terms []string
	for _, ord := range orderings {
		if ticketOrderColumns[ord.Field] {
			terms = append(terms, ord.String())
		}
	}
	if len(terms) == 0 {
		return ` ORDER BY issued_at ASC`
	}
	return ` ORDER BY ` + strings.Join(terms, ", ")
}

func (repo ticketRepository) FilterTickets(ctx context.Context, filter ticket.QueryFilter) ([]ticket.Ticket, error) {
	where, args := ticketFilterClauses(filter)

	q := `SELECT * FROM ticket` + where + ticketOrderBy(filter.Orderings)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []ticketRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying tickets")
	}
	tickets := make([]ticket.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toCore())
	}
	return tickets, nil
}

func (repo ticketRepository) CountTickets(ctx context.Context, filter ticket.QueryFilter) (int, error) {
	where, args := ticketFilterClauses(filter)

	var count int
	if err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM ticket`+where, args...); err != nil {
		return 0, errors.Wrap(err, "counting tickets")
	}
	return count, nil
}

func (repo ticketRepository) BumpTokenVersion(ctx context.Context, id string, fromVersion int) (ticket.Ticket, error) {
	var row ticketRow
	err := repo.db.QueryRowxContext(ctx,
		`UPDATE ticket SET token_version = token_version + 1, updated_at = $3
		 WHERE id = $1 AND token_version = $2 AND state = $4
		 RETURNING *`,
		id, fromVersion, time.Now().UTC(), ticket.StateIssued,
	).StructScan(&row)
	if err != nil {
		return ticket.Ticket{}, trapTicketNoRows(err, "bumping token version")
	}
	return row.toCore(), nil
}

// TransitionState is the conditional update closing the race between two
// concurrent mutations of the same ticket: only a ticket still in `from`
// moves, and the caller learns whether it won.
func (repo ticketRepository) TransitionState(ctx context.Context, id string, from, to ticket.State) (ticket.Ticket, bool, error) {
	var row ticketRow
	err := repo.db.QueryRowxContext(ctx,
		`UPDATE ticket SET state = $3, updated_at = $4
		 WHERE id = $1 AND state = $2
		 RETURNING *`,
		id, from, to, time.Now().UTC(),
	).StructScan(&row)
	if err == sql.ErrNoRows {
		// not in `from` (or unknown); report the current record
		cur, getErr := repo.GetTicketByID(ctx, id)
		if getErr != nil {
			return ticket.Ticket{}, false, getErr
		}
		return cur, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, false, errors.Wrap(err, "transitioning ticket state")
	}
	return row.toCore(), true, nil
}
