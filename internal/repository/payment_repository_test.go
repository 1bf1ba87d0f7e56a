package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SiteGenerator/internal/models"
)

var paymentRowColumns = []string{
	"id", "user_id", "amount", "currency", "payment_method", "transaction_id", "payment_reference",
	"qr_code_data", "status", "plan", "plan_months", "created_at", "updated_at",
}

func paymentRow(status models.PaymentStatus, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(paymentRowColumns).
		AddRow(int64(11), int64(2), 199900, "INR", "upi", "ABCDEF123456", "", "upi://pay", string(status), "premium", 1, now, now)
}

func TestPaymentRepository_ConfirmAppliesOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).
		WithArgs("ABCDEF123456", int64(2)).
		WillReturnRows(paymentRow(models.PaymentStatusPending, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles p JOIN users u")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow(int64(2), "free", nil, 1, 3, true, "", nil, 0, true, now, now))
	mock.ExpectExec(regexp.QuoteMeta("SET plan = ?, plan_expires_at = ?")).
		WithArgs(models.PlanPremium, sqlmock.AnyArg(), 50, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'completed'")).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	result, err := repo.Confirm(context.Background(), "ABCDEF123456", 2, func(p *models.UserProfile, pay *models.Payment) {
		calls++
		p.Plan = pay.Plan
		p.FreeCreditsRemaining = 50
		expires := now.AddDate(0, 0, 30)
		p.PlanExpiresAt = &expires
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, calls)
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)
	assert.Equal(t, models.PlanPremium, result.Profile.Plan)
}

func TestPaymentRepository_ConfirmAlreadyCompleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).
		WithArgs("ABCDEF123456", int64(2)).
		WillReturnRows(paymentRow(models.PaymentStatusCompleted, now))
	mock.ExpectRollback()

	result, err := repo.Confirm(context.Background(), "ABCDEF123456", 2, func(*models.UserProfile, *models.Payment) {
		t.Fatal("apply must not run for a completed payment")
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.AlreadyCompleted)
	assert.Nil(t, result.Profile)
}

func TestPaymentRepository_ConfirmUnknownTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).
		WithArgs("NOPE", int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	result, err := repo.Confirm(context.Background(), "NOPE", 2, func(*models.UserProfile, *models.Payment) {})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestPaymentRepository_UpdateStatusOnlyFromPending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("AND status = 'pending'")).
		WithArgs(models.PaymentStatusCancelled, "ABCDEF123456").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), "ABCDEF123456", models.PaymentStatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)
}
