package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SiteGenerator/internal/models"
)

var planRowColumns = []string{
	"id", "code", "title", "currency", "price_minor_units", "duration_days", "is_active", "created_at", "updated_at",
}

func TestPlanRepository_EnsureDefaultsKeepsExisting(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepository(db)

	plans := []models.PricingPlan{
		{Code: models.PlanBasic, Title: "Basic", Currency: "INR", PriceMinorUnits: 99900, DurationDays: 30, IsActive: true},
		{Code: models.PlanPremium, Title: "Premium", Currency: "INR", PriceMinorUnits: 199900, DurationDays: 30, IsActive: true},
	}
	for _, p := range plans {
		mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO pricing_plans")).
			WithArgs(p.Code, p.Title, p.Currency, p.PriceMinorUnits, p.DurationDays, p.IsActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, repo.EnsureDefaults(context.Background(), plans))
}

func TestPlanRepository_GetByCodeMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pricing_plans WHERE code = ?")).
		WithArgs(models.Plan("gold")).
		WillReturnRows(sqlmock.NewRows(planRowColumns))

	plan, err := repo.GetByCode(context.Background(), "gold")
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestPlanRepository_UpdateReturnsFreshRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepository(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pricing_plans")).
		WithArgs("Basic", "INR", 149900, 30, true, models.PlanBasic).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pricing_plans WHERE code = ?")).
		WithArgs(models.PlanBasic).
		WillReturnRows(sqlmock.NewRows(planRowColumns).
			AddRow(int64(1), "basic", "Basic", "INR", 149900, 30, true, now, now))

	plan, err := repo.Update(context.Background(), &models.PricingPlan{
		Code: models.PlanBasic, Title: "Basic", Currency: "INR", PriceMinorUnits: 149900, DurationDays: 30, IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 149900, plan.PriceMinorUnits)
}
