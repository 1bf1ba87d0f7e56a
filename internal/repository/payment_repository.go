package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/SiteGenerator/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, amount, currency, payment_method, transaction_id, COALESCE(payment_reference, ''),
COALESCE(qr_code_data, ''), status, plan, plan_months, created_at, COALESCE(updated_at, created_at)`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.TransactionID, &p.PaymentReference,
		&p.QRCodeData, &p.Status, &p.Plan, &p.PlanMonths, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, amount, currency, payment_method, transaction_id, payment_reference, qr_code_data, status, plan, plan_months)
VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.Amount, payment.Currency, payment.Method,
		payment.TransactionID, payment.PaymentReference, payment.QRCodeData, payment.Status, payment.Plan, payment.PlanMonths)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) FindByTransaction(ctx context.Context, transactionID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = ? LIMIT 1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

// UpdateStatus moves a pending payment to the given status. Returns false when the payment was not pending.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (bool, error) {
	const query = `UPDATE payments SET status = ?, updated_at = NOW() WHERE transaction_id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, status, transactionID)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment status rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.list(ctx, query, userID, limit)
}

func (r *PaymentRepository) List(ctx context.Context, limit, offset int) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, limit, offset)
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment list: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ConfirmResult describes the outcome of Confirm.
type ConfirmResult struct {
	Payment          *models.Payment
	Profile          *models.UserProfile
	AlreadyCompleted bool
}

// Confirm completes a pending payment and applies it to the owner's profile in one transaction.
// Both rows are locked for the duration. A payment that is already completed is returned untouched
// with AlreadyCompleted set. Returns nil when the user has no pending or completed payment under
// that transaction id.
func (r *PaymentRepository) Confirm(ctx context.Context, transactionID string, userID int64, apply func(*models.UserProfile, *models.Payment)) (*ConfirmResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	paymentQuery := `SELECT ` + paymentColumns + `
FROM payments
WHERE transaction_id = ? AND user_id = ? AND status IN ('pending', 'completed')
FOR UPDATE`
	payment, err := scanPayment(tx.QueryRowContext(ctx, paymentQuery, transactionID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	if payment.Status == models.PaymentStatusCompleted {
		return &ConfirmResult{Payment: payment, AlreadyCompleted: true}, nil
	}

	profileQuery := `SELECT ` + profileColumns + `
FROM user_profiles p JOIN users u ON u.id = p.user_id
WHERE p.user_id = ?
FOR UPDATE`
	profile, err := scanProfile(tx.QueryRowContext(ctx, profileQuery, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock profile: %w", err)
	}

	apply(profile, payment)
	if err := updatePlan(ctx, tx, profile); err != nil {
		return nil, err
	}

	const complete = `UPDATE payments SET status = 'completed', updated_at = NOW() WHERE id = ?`
	if _, err := tx.ExecContext(ctx, complete, payment.ID); err != nil {
		return nil, fmt.Errorf("complete payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment tx: %w", err)
	}
	payment.Status = models.PaymentStatusCompleted
	return &ConfirmResult{Payment: payment, Profile: profile}, nil
}
