package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SiteGenerator/internal/config"
	"github.com/digkill/SiteGenerator/internal/models"
)

func TestPlanService_DefaultsAndList(t *testing.T) {
	repo := newMemPlans()
	svc := NewPlanService(config.Config{PaymentCurrency: "INR"}, repo)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaultPlans(ctx))
	price := 149900
	_, err := svc.Update(ctx, models.PlanBasic, UpdatePlanInput{PriceMinorUnits: &price})
	require.NoError(t, err)
	require.NoError(t, svc.EnsureDefaultPlans(ctx))

	plans, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, models.PlanBasic, plans[0].Code)
	assert.Equal(t, 149900, plans[0].PriceMinorUnits)
	assert.Equal(t, 10, plans[0].Generations)
	assert.Equal(t, 199900, plans[1].PriceMinorUnits)
	assert.Equal(t, 50, plans[1].Generations)
	assert.True(t, plans[2].Unlimited)
	assert.Equal(t, 30, plans[2].DurationDays)
}

func TestPlanService_ActiveAndUpdateValidation(t *testing.T) {
	repo := newMemPlans()
	svc := NewPlanService(config.Config{}, repo)
	ctx := context.Background()
	require.NoError(t, svc.EnsureDefaultPlans(ctx))

	inactive := false
	_, err := svc.Update(ctx, models.PlanPremium, UpdatePlanInput{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Active(ctx, models.PlanPremium)
	assert.ErrorIs(t, err, ErrNotFound)

	plan, err := svc.Active(ctx, models.PlanEnterprise)
	require.NoError(t, err)
	assert.Equal(t, "INR", plan.Currency)

	zero := 0
	_, err = svc.Update(ctx, models.PlanBasic, UpdatePlanInput{PriceMinorUnits: &zero})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(ctx, models.Plan("gold"), UpdatePlanInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}
