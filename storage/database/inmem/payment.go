package inmemdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/icue/varsity/core/payment"
)

type paymentRepository struct {
	db *paymentTable
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) *paymentRepository {
	return &paymentRepository{db: db.payment}
}

func (repo *paymentRepository) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = uuid.New().String()
	repo.db.table[p.ID] = &p
	return p, nil
}

func (repo *paymentRepository) GetPaymentByExternalRef(ctx context.Context, externalRef string) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.table {
		if p.ExternalRef == externalRef {
			return *p, nil
		}
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) SettlePayment(ctx context.Context, id string, status payment.Status) (payment.Payment, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.table[id]
	if !ok {
		return payment.Payment{}, false, payment.ErrNotFound
	}
	if p.Status != payment.StatusPending {
		return *p, false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return *p, true, nil
}
