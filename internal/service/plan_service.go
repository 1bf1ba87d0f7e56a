package service

import (
	"context"
	"fmt"

	"github.com/digkill/SiteGenerator/internal/config"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

// PlanCatalog stores the purchasable plans.
type PlanCatalog interface {
	List(ctx context.Context) ([]models.PricingPlan, error)
	GetByCode(ctx context.Context, code models.Plan) (*models.PricingPlan, error)
	EnsureDefaults(ctx context.Context, plans []models.PricingPlan) error
	Update(ctx context.Context, plan *models.PricingPlan) (*models.PricingPlan, error)
}

var _ PlanCatalog = (*repository.PlanRepository)(nil)

type PlanService struct {
	cfg  config.Config
	repo PlanCatalog
}

type UpdatePlanInput struct {
	Title           *string
	Currency        *string
	PriceMinorUnits *int
	IsActive        *bool
}

// PlanView is a catalog entry together with its fixed allotment.
type PlanView struct {
	models.PricingPlan
	Generations int  `json:"generations"`
	Unlimited   bool `json:"unlimited"`
}

func NewPlanService(cfg config.Config, repo PlanCatalog) *PlanService {
	return &PlanService{cfg: cfg, repo: repo}
}

func (s *PlanService) defaults() []models.PricingPlan {
	currency := s.cfg.PaymentCurrency
	if currency == "" {
		currency = "INR"
	}
	return []models.PricingPlan{
		{Code: models.PlanBasic, Title: "Basic", Currency: currency, PriceMinorUnits: 99900, DurationDays: planPeriodDays, IsActive: true},
		{Code: models.PlanPremium, Title: "Premium", Currency: currency, PriceMinorUnits: 199900, DurationDays: planPeriodDays, IsActive: true},
		{Code: models.PlanEnterprise, Title: "Enterprise", Currency: currency, PriceMinorUnits: 499900, DurationDays: planPeriodDays, IsActive: true},
	}
}

func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	if err := s.repo.EnsureDefaults(ctx, s.defaults()); err != nil {
		return fmt.Errorf("seed pricing plans: %w", err)
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]PlanView, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PlanView, 0, len(plans))
	for _, p := range plans {
		views = append(views, PlanView{
			PricingPlan: p,
			Generations: PlanAllotment(p.Code),
			Unlimited:   p.Code == models.PlanEnterprise,
		})
	}
	return views, nil
}

// Active returns a purchasable plan, or ErrNotFound.
func (s *PlanService) Active(ctx context.Context, code models.Plan) (*models.PricingPlan, error) {
	if !code.Paid() {
		return nil, NewAppError(CodeValidation, "Invalid plan selected.", ErrValidation)
	}
	plan, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, NewAppError(CodeNotFound, "Plan is not available.", ErrNotFound)
	}
	return plan, nil
}

// Update edits price and presentation of a plan. Allotment and period are fixed per code.
func (s *PlanService) Update(ctx context.Context, code models.Plan, input UpdatePlanInput) (*models.PricingPlan, error) {
	existing, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, NewAppError(CodeNotFound, "Plan not found.", ErrNotFound)
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil {
		if *input.PriceMinorUnits <= 0 {
			return nil, NewAppError(CodeValidation, "Price must be positive.", ErrValidation)
		}
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}
