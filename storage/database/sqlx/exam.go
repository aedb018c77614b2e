package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core/exam"
)

type examRow struct {
	ID        string         `db:"id"`
	CourseID  sql.NullString `db:"course_id"`
	Name      string         `db:"name"`
	StartsAt  time.Time      `db:"starts_at"`
	EndsAt    time.Time      `db:"ends_at"`
	FeeTZS    int64          `db:"fee_tzs"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r examRow) toCore() exam.Exam {
	return exam.Exam{
		ID:        r.ID,
		CourseID:  r.CourseID.String,
		Name:      r.Name,
		StartsAt:  r.StartsAt,
		EndsAt:    r.EndsAt,
		FeeTZS:    r.FeeTZS,
		CreatedAt: r.CreatedAt,
	}
}

type venueRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Address   string    `db:"address"`
	Phone     string    `db:"phone"`
	Capacity  int       `db:"capacity"`
	CreatedAt time.Time `db:"created_at"`
}

func (r venueRow) toCore() exam.Venue {
	return exam.Venue{
		ID:        r.ID,
		Name:      r.Name,
		Address:   r.Address,
		Phone:     r.Phone,
		Capacity:  r.Capacity,
		CreatedAt: r.CreatedAt,
	}
}

type examRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sqlx.DB) *examRepository {
	return &examRepository{db: db}
}

func (repo examRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	var row examRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM exam WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return exam.Exam{}, exam.ErrExamNotFound
		}
		return exam.Exam{}, errors.Wrap(err, "finding exam by ID")
	}
	return row.toCore(), nil
}

func (repo examRepository) GetVenueByID(ctx context.Context, id string) (exam.Venue, error) {
	var row venueRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM venue WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return exam.Venue{}, exam.ErrVenueNotFound
		}
		return exam.Venue{}, errors.Wrap(err, "finding venue by ID")
	}
	return row.toCore(), nil
}
