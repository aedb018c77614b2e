package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/icue/varsity/core/exam"
)

type examRepository struct {
	db *examTable
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *DB) *examRepository {
	return &examRepository{db: db.exam}
}

func (repo *examRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ex, ok := repo.db.exams[id]; ok {
		return *ex, nil
	}
	return exam.Exam{}, exam.ErrExamNotFound
}

func (repo *examRepository) GetVenueByID(ctx context.Context, id string) (exam.Venue, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if v, ok := repo.db.venues[id]; ok {
		return *v, nil
	}
	return exam.Venue{}, exam.ErrVenueNotFound
}

// SeedExam and SeedVenue load fixture data; only tests and local
// development use them.
func (db *DB) SeedExam(ex exam.Exam) exam.Exam {
	db.exam.Lock()
	defer db.exam.Unlock()

	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	db.exam.exams[ex.ID] = &ex
	return ex
}

func (db *DB) SeedVenue(v exam.Venue) exam.Venue {
	db.exam.Lock()
	defer db.exam.Unlock()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	db.exam.venues[v.ID] = &v
	return v
}
