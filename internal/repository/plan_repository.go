package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SiteGenerator/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, code, title, currency, price_minor_units, duration_days, is_active, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := row.Scan(&plan.ID, &plan.Code, &plan.Title, &plan.Currency, &plan.PriceMinorUnits,
		&plan.DurationDays, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.PricingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans ORDER BY price_minor_units ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.PricingPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByCode(ctx context.Context, code models.Plan) (*models.PricingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE code = ?`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// EnsureDefaults inserts catalog rows that are missing. Existing rows keep their edited prices.
func (r *PlanRepository) EnsureDefaults(ctx context.Context, plans []models.PricingPlan) error {
	const query = `
INSERT IGNORE INTO pricing_plans (code, title, currency, price_minor_units, duration_days, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	for _, plan := range plans {
		if _, err := r.db.ExecContext(ctx, query, plan.Code, plan.Title, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.IsActive); err != nil {
			return fmt.Errorf("seed plan %s: %w", plan.Code, err)
		}
	}
	return nil
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.PricingPlan) (*models.PricingPlan, error) {
	const query = `
UPDATE pricing_plans
SET title = ?, currency = ?, price_minor_units = ?, duration_days = ?, is_active = ?, updated_at = NOW()
WHERE code = ?`
	if _, err := r.db.ExecContext(ctx, query, plan.Title, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.IsActive, plan.Code); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return r.GetByCode(ctx, plan.Code)
}
