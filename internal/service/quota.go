package service

import (
	"context"
	"time"

	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

// UnlimitedAllotment is the nominal allotment shown for the enterprise plan.
const UnlimitedAllotment = 999

const planPeriodDays = 30

var planAllotments = map[models.Plan]int{
	models.PlanBasic:      10,
	models.PlanPremium:    50,
	models.PlanEnterprise: UnlimitedAllotment,
}

// PlanAllotment returns the fixed monthly allotment of a paid plan, 0 for free.
func PlanAllotment(plan models.Plan) int {
	return planAllotments[plan]
}

// QuotaStore persists quota fields with atomic conditional updates.
type QuotaStore interface {
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	DowngradeExpired(ctx context.Context, userID int64, now time.Time) (bool, error)
	ReserveFreeCredit(ctx context.Context, userID int64) (int64, bool, error)
	RefundFreeCredit(ctx context.Context, userID, version int64) (bool, error)
	IncrementGenerated(ctx context.Context, userID int64) error
	UpdatePlan(ctx context.Context, profile *models.UserProfile) error
}

var _ QuotaStore = (*repository.UserRepository)(nil)

// Remaining is the generation count shown to the user.
type Remaining struct {
	Count     int  `json:"count"`
	Unlimited bool `json:"unlimited"`
}

type QuotaManager struct {
	store QuotaStore
	clock Clock
}

func NewQuotaManager(store QuotaStore, clock Clock) *QuotaManager {
	return &QuotaManager{store: store, clock: clock}
}

// Reconcile downgrades a paid plan whose expiry has passed (or is missing) to free.
// Free credits are left as they are. When the stored plan no longer matches the
// loaded one, the profile is refreshed from the store instead. Reports whether
// the profile's plan changed.
func (q *QuotaManager) Reconcile(ctx context.Context, profile *models.UserProfile) (bool, error) {
	now := q.clock.Now()
	if !q.expired(profile, now) {
		return false, nil
	}
	downgraded, err := q.store.DowngradeExpired(ctx, profile.UserID, now)
	if err != nil {
		return false, err
	}
	if downgraded {
		profile.Plan = models.PlanFree
		return true, nil
	}

	stored, err := q.store.GetProfile(ctx, profile.UserID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	before := profile.Plan
	profile.Plan = stored.Plan
	profile.PlanExpiresAt = stored.PlanExpiresAt
	profile.FreeCreditsRemaining = stored.FreeCreditsRemaining
	return profile.Plan != before, nil
}

func (q *QuotaManager) expired(profile *models.UserProfile, now time.Time) bool {
	if profile.Plan == models.PlanFree {
		return false
	}
	return profile.PlanExpiresAt == nil || !profile.PlanExpiresAt.After(now)
}

// CanGenerate is a pure check; call Reconcile first.
func (q *QuotaManager) CanGenerate(profile *models.UserProfile) bool {
	if profile.Plan != models.PlanFree {
		return !q.expired(profile, q.clock.Now())
	}
	return profile.FreeCreditsRemaining > 0
}

func (q *QuotaManager) Remaining(profile *models.UserProfile) Remaining {
	switch profile.Plan {
	case models.PlanFree:
		return Remaining{Count: profile.FreeCreditsRemaining}
	case models.PlanEnterprise:
		return Remaining{Count: UnlimitedAllotment, Unlimited: true}
	default:
		return Remaining{Count: PlanAllotment(profile.Plan)}
	}
}

// Decrement applies one generation to the in-memory profile.
func (q *QuotaManager) Decrement(profile *models.UserProfile) {
	if profile.Plan == models.PlanFree && profile.FreeCreditsRemaining > 0 {
		profile.FreeCreditsRemaining--
	}
	profile.TotalGenerated++
}

// CreditReservation is a free credit taken ahead of a generation.
type CreditReservation struct {
	UserID  int64
	version int64
}

// Reserve takes a free credit up front so concurrent requests cannot spend the
// same credit twice. Paid plans reserve nothing and get a nil reservation.
// Returns ErrQuotaExceeded when no credit is left.
func (q *QuotaManager) Reserve(ctx context.Context, profile *models.UserProfile) (*CreditReservation, error) {
	if profile.Plan != models.PlanFree {
		return nil, nil
	}
	version, ok, err := q.store.ReserveFreeCredit(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}
	return &CreditReservation{UserID: profile.UserID, version: version}, nil
}

// Refund returns a reserved credit after a failed generation. A payment or
// cancellation applied in the meantime voids the reservation and nothing is
// returned. Reports whether the credit went back.
func (q *QuotaManager) Refund(ctx context.Context, r *CreditReservation) (bool, error) {
	if r == nil {
		return false, nil
	}
	return q.store.RefundFreeCredit(ctx, r.UserID, r.version)
}

// Commit records a successful generation. The free credit itself was already
// taken by Reserve.
func (q *QuotaManager) Commit(ctx context.Context, profile *models.UserProfile) error {
	if err := q.store.IncrementGenerated(ctx, profile.UserID); err != nil {
		return err
	}
	q.Decrement(profile)
	return nil
}

// ApplyPayment switches the profile to the paid plan for the purchased period.
func (q *QuotaManager) ApplyPayment(profile *models.UserProfile, payment *models.Payment) {
	months := payment.PlanMonths
	if months < 1 {
		months = 1
	}
	expires := q.clock.Now().AddDate(0, 0, planPeriodDays*months)
	profile.Plan = payment.Plan
	profile.PlanExpiresAt = &expires
	profile.FreeCreditsRemaining = PlanAllotment(payment.Plan)
}

// Cancel reverts to the free plan with no credits.
func (q *QuotaManager) Cancel(ctx context.Context, profile *models.UserProfile) error {
	profile.Plan = models.PlanFree
	profile.PlanExpiresAt = nil
	profile.FreeCreditsRemaining = 0
	return q.store.UpdatePlan(ctx, profile)
}
