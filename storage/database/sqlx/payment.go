package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/icue/varsity/core/payment"
)

type paymentRow struct {
	ID            string    `db:"id"`
	StudentID     string    `db:"student_id"`
	ExamID        string    `db:"exam_id"`
	VenueID       string    `db:"venue_id"`
	Method        string    `db:"method"`
	AmountTZS     int64     `db:"amount_tzs"`
	Phone         string    `db:"phone"`
	ExternalRef   string    `db:"external_ref"`
	TransactionID string    `db:"transaction_id"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r paymentRow) toCore() payment.Payment {
	return payment.Payment{
		ID:            r.ID,
		StudentID:     r.StudentID,
		ExamID:        r.ExamID,
		VenueID:       r.VenueID,
		Method:        payment.Method(r.Method),
		AmountTZS:     r.AmountTZS,
		Phone:         r.Phone,
		ExternalRef:   r.ExternalRef,
		TransactionID: r.TransactionID,
		Status:        payment.Status(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type paymentRepository struct {
	db *sqlx.DB
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *sqlx.DB) *paymentRepository {
	return &paymentRepository{db: db}
}

func (repo paymentRepository) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	p.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO payment (id, student_id, exam_id, venue_id, method, amount_tzs, phone, external_ref, transaction_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.StudentID, p.ExamID, p.VenueID, p.Method, p.AmountTZS, p.Phone, p.ExternalRef, p.TransactionID, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo paymentRepository) GetPaymentByExternalRef(ctx context.Context, externalRef string) (payment.Payment, error) {
	var row paymentRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM payment WHERE external_ref = $1`, externalRef)
	if err != nil {
		if err == sql.ErrNoRows {
			return payment.Payment{}, payment.ErrNotFound
		}
		return payment.Payment{}, errors.Wrap(err, "finding payment by external ref")
	}
	return row.toCore(), nil
}

// SettlePayment conditionally settles a pending payment, mirroring the
// ticket-state CAS: a duplicate gateway callback loses the update and
// cannot trigger a second issuance.
func (repo paymentRepository) SettlePayment(ctx context.Context, id string, status payment.Status) (payment.Payment, bool, error) {
	var row paymentRow
	err := repo.db.QueryRowxContext(ctx,
		`UPDATE payment SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING *`,
		id, status, time.Now().UTC(), payment.StatusPending,
	).StructScan(&row)
	if err == sql.ErrNoRows {
		var cur paymentRow
		if getErr := repo.db.GetContext(ctx, &cur, `SELECT * FROM payment WHERE id = $1`, id); getErr != nil {
			if getErr == sql.ErrNoRows {
				return payment.Payment{}, false, payment.ErrNotFound
			}
			return payment.Payment{}, false, errors.Wrap(getErr, "reloading payment")
		}
		return cur.toCore(), false, nil
	}
	if err != nil {
		return payment.Payment{}, false, errors.Wrap(err, "settling payment")
	}
	return row.toCore(), true, nil
}
