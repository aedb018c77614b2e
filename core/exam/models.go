// Package exam holds the exam and venue reference data consulted by the
// ticketing and check-in flows. Both records are read-only from those flows'
// perspective; scheduling them is an administrative concern.
package exam

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrExamNotFound  = errors.New("exam not found")
	ErrVenueNotFound = errors.New("venue not found")
)

type Exam struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"starts_at"` // UTC
	EndsAt    time.Time `json:"ends_at"`   // UTC
	FeeTZS    int64     `json:"fee_tzs"`
	CreatedAt time.Time `json:"created_at"`
}

// HasEnded reports whether the exam is past its end time (plus any grace).
func (e Exam) HasEnded(at time.Time, cutoffGrace time.Duration) bool {
	return at.After(e.EndsAt.Add(cutoffGrace))
}

// AdmitsAt reports whether check-in is open: from graceWindow before the
// start until cutoffGrace after the end.
func (e Exam) AdmitsAt(at time.Time, graceWindow, cutoffGrace time.Duration) bool {
	return !at.Before(e.StartsAt.Add(-graceWindow)) && !e.HasEnded(at, cutoffGrace)
}

type Venue struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository interface {
	GetExamByID(ctx context.Context, id string) (Exam, error)
	GetVenueByID(ctx context.Context, id string) (Venue, error)
}
