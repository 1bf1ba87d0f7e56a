package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/digkill/SiteGenerator/internal/config"
	"github.com/digkill/SiteGenerator/internal/metrics"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

const (
	recentPaymentsLimit = 5
	qrCodeSize          = 320
	txnIDAttempts       = 3
)

// PaymentStore is the persistence side of the ledger.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByTransaction(ctx context.Context, transactionID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Payment, error)
	List(ctx context.Context, limit, offset int) ([]models.Payment, error)
	Confirm(ctx context.Context, transactionID string, userID int64, apply func(*models.UserProfile, *models.Payment)) (*repository.ConfirmResult, error)
}

// PaymentNotifier receives ledger events, e.g. an operator chat.
type PaymentNotifier interface {
	PaymentOpened(ctx context.Context, user *models.User, payment *models.Payment)
	PaymentAwaitingApproval(ctx context.Context, payment *models.Payment)
	PaymentCompleted(ctx context.Context, payment *models.Payment)
}

// PaymentVerifier decides whether a client confirmation may complete a payment.
type PaymentVerifier interface {
	Verify(ctx context.Context, payment *models.Payment) (bool, error)
}

// TrustVerifier accepts every confirmation.
type TrustVerifier struct{}

func (TrustVerifier) Verify(context.Context, *models.Payment) (bool, error) { return true, nil }

// OperatorVerifier never completes on the client's word; an operator approves
// the payment through the admin API instead.
type OperatorVerifier struct{}

func (OperatorVerifier) Verify(context.Context, *models.Payment) (bool, error) { return false, nil }

func NewPaymentVerifier(mode string) PaymentVerifier {
	if strings.EqualFold(mode, "operator") {
		return OperatorVerifier{}
	}
	return TrustVerifier{}
}

// SiteCounter counts completed generations.
type SiteCounter interface {
	CountCompletedSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	payments PaymentStore
	profiles ProfileStore
	sites    SiteCounter
	plans    *PlanService
	quota    *QuotaManager
	notifier PaymentNotifier
	verifier PaymentVerifier
	metrics  *metrics.Metrics
	clock    Clock
	newTxnID func() string
}

type PaymentDeps struct {
	Payments PaymentStore
	Profiles ProfileStore
	Sites    SiteCounter
	Plans    *PlanService
	Quota    *QuotaManager
	Notifier PaymentNotifier
	Verifier PaymentVerifier
	Metrics  *metrics.Metrics
	Clock    Clock
}

func NewPaymentService(cfg config.Config, log *slog.Logger, deps PaymentDeps) *PaymentService {
	verifier := deps.Verifier
	if verifier == nil {
		verifier = NewPaymentVerifier(cfg.PaymentVerification)
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		payments: deps.Payments,
		profiles: deps.Profiles,
		sites:    deps.Sites,
		plans:    deps.Plans,
		quota:    deps.Quota,
		notifier: deps.Notifier,
		verifier: verifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		newTxnID: newTransactionID,
	}
}

// newTransactionID returns 12 upper-case characters of a random UUID.
func newTransactionID() string {
	return strings.ToUpper(uuid.NewString()[:12])
}

// Checkout is an opened payment with everything the client needs to pay it.
type Checkout struct {
	Payment  *models.Payment     `json:"payment"`
	Plan     *models.PricingPlan `json:"plan"`
	UPIID    string              `json:"upi_id"`
	UPIURI   string              `json:"upi_uri"`
	QRBase64 string              `json:"qr_code_png_base64"`
}

// OpenPayment creates a pending one-month payment for a paid plan at catalog price.
func (s *PaymentService) OpenPayment(ctx context.Context, user *models.User, code models.Plan) (*Checkout, error) {
	plan, err := s.plans.Active(ctx, code)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		UserID:     user.ID,
		Amount:     plan.PriceMinorUnits,
		Currency:   plan.Currency,
		Method:     models.PaymentMethodUPI,
		Status:     models.PaymentStatusPending,
		Plan:       plan.Code,
		PlanMonths: 1,
	}
	for attempt := 1; ; attempt++ {
		payment.TransactionID = s.newTxnID()
		payment.QRCodeData = s.upiURI(plan, payment.TransactionID)
		err = s.payments.Create(ctx, payment)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt == txnIDAttempts {
			return nil, fmt.Errorf("open payment: %w", err)
		}
	}

	png, err := qrcode.Encode(payment.QRCodeData, qrcode.Low, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("render payment qr: %w", err)
	}

	s.log.Info("payment opened", "user_id", user.ID, "plan", plan.Code, "txn", payment.TransactionID)
	s.count("opened", plan.Code)
	s.notifier.PaymentOpened(ctx, user, payment)

	return &Checkout{
		Payment:  payment,
		Plan:     plan,
		UPIID:    s.cfg.UPIID,
		UPIURI:   payment.QRCodeData,
		QRBase64: base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (s *PaymentService) upiURI(plan *models.PricingPlan, txnID string) string {
	params := []string{
		"pa=" + url.QueryEscape(s.cfg.UPIID),
		"pn=" + url.PathEscape(s.cfg.UPIPayeeName),
		"am=" + majorUnits(plan.PriceMinorUnits),
		"cu=" + plan.Currency,
		"tn=" + url.PathEscape(fmt.Sprintf("Payment for %s Plan - %s", plan.Title, txnID)),
	}
	return "upi://pay?" + strings.Join(params, "&")
}

// QRCode renders the stored UPI string of the user's payment as PNG.
func (s *PaymentService) QRCode(ctx context.Context, txnID string, user *models.User) ([]byte, error) {
	payment, err := s.ownPayment(ctx, txnID, user)
	if err != nil {
		return nil, err
	}
	if payment.QRCodeData == "" {
		return nil, NewAppError(CodeNotFound, "Payment has no QR code.", ErrNotFound)
	}
	png, err := qrcode.Encode(payment.QRCodeData, qrcode.Low, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("render payment qr: %w", err)
	}
	return png, nil
}

// Confirmation is the result of confirming a payment.
type Confirmation struct {
	Payment          *models.Payment     `json:"payment"`
	Profile          *models.UserProfile `json:"profile,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
}

// Confirm completes the user's payment and activates the plan. Confirming a
// completed payment succeeds without side effects.
func (s *PaymentService) Confirm(ctx context.Context, txnID string, user *models.User) (*Confirmation, error) {
	payment, err := s.ownPayment(ctx, txnID, user)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusCompleted:
		return s.complete(ctx, payment.TransactionID, user.ID)
	case models.PaymentStatusPending:
	default:
		return nil, NewAppError(CodeNotFound, "Invalid transaction ID.", ErrNotFound)
	}

	ok, err := s.verifier.Verify(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		s.count("awaiting_approval", payment.Plan)
		s.notifier.PaymentAwaitingApproval(ctx, payment)
		return nil, NewAppErrorWithDetails(CodePaymentUnverified,
			"Payment received for review. Your plan will be activated once it is approved.",
			ErrPaymentUnverified, map[string]any{"transaction_id": payment.TransactionID})
	}
	return s.complete(ctx, payment.TransactionID, user.ID)
}

func (s *PaymentService) complete(ctx context.Context, txnID string, userID int64) (*Confirmation, error) {
	res, err := s.payments.Confirm(ctx, txnID, userID, s.quota.ApplyPayment)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, NewAppError(CodeNotFound, "Invalid transaction ID.", ErrNotFound)
	}
	if res.AlreadyCompleted {
		profile, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &Confirmation{Payment: res.Payment, Profile: profile, AlreadyProcessed: true}, nil
	}

	s.log.Info("payment completed", "user_id", userID, "plan", res.Payment.Plan, "txn", txnID)
	s.count("completed", res.Payment.Plan)
	s.notifier.PaymentCompleted(ctx, res.Payment)
	return &Confirmation{Payment: res.Payment, Profile: res.Profile}, nil
}

func (s *PaymentService) ownPayment(ctx context.Context, txnID string, user *models.User) (*models.Payment, error) {
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return nil, NewAppError(CodeValidation, "No transaction ID provided.", ErrValidation)
	}
	payment, err := s.payments.FindByTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.UserID != user.ID {
		return nil, NewAppError(CodeNotFound, "Invalid transaction ID.", ErrNotFound)
	}
	return payment, nil
}

// MarkStatus is the operator action on a payment. Completing goes through the
// same transactional path as a client confirmation.
func (s *PaymentService) MarkStatus(ctx context.Context, txnID string, status models.PaymentStatus) (*models.Payment, error) {
	payment, err := s.payments.FindByTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, NewAppError(CodeNotFound, "Payment not found.", ErrNotFound)
	}

	switch status {
	case models.PaymentStatusCompleted:
		c, err := s.complete(ctx, txnID, payment.UserID)
		if err != nil {
			return nil, err
		}
		return c.Payment, nil
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		ok, err := s.payments.UpdateStatus(ctx, txnID, status)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewAppError(CodeInvalidTransition,
				fmt.Sprintf("Payment is %s and cannot become %s.", payment.Status, status), ErrInvalidTransition)
		}
		payment.Status = status
		s.count(string(status), payment.Plan)
		return payment, nil
	default:
		return nil, NewAppError(CodeValidation, "Unsupported payment status.", ErrValidation)
	}
}

func (s *PaymentService) List(ctx context.Context, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.payments.List(ctx, limit, offset)
}

// SubscriptionOverview summarizes a user's plan, usage and payments.
type SubscriptionOverview struct {
	Profile        *models.UserProfile `json:"profile"`
	Remaining      Remaining           `json:"remaining"`
	Active         bool                `json:"subscription_active"`
	DaysRemaining  int                 `json:"days_remaining"`
	SitesThisMonth int                 `json:"websites_this_month"`
	RecentPayments []models.Payment    `json:"recent_payments"`
}

func (s *PaymentService) Subscription(ctx context.Context, user *models.User) (*SubscriptionOverview, error) {
	profile, err := s.profile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.quota.Reconcile(ctx, profile); err != nil {
		return nil, err
	}

	recent, err := s.payments.ListByUser(ctx, user.ID, recentPaymentsLimit)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	thisMonth, err := s.sites.CountCompletedSince(ctx, user.ID, monthStart)
	if err != nil {
		return nil, err
	}

	overview := &SubscriptionOverview{
		Profile:        profile,
		Remaining:      s.quota.Remaining(profile),
		SitesThisMonth: thisMonth,
		RecentPayments: recent,
	}
	if profile.Plan != models.PlanFree && profile.PlanExpiresAt != nil && profile.PlanExpiresAt.After(now) {
		overview.Active = true
		overview.DaysRemaining = int(profile.PlanExpiresAt.Sub(now).Hours() / 24)
	}
	return overview, nil
}

// CancelSubscription reverts the user to the free plan with no credits left.
func (s *PaymentService) CancelSubscription(ctx context.Context, user *models.User) (*models.UserProfile, error) {
	profile, err := s.profile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.quota.Cancel(ctx, profile); err != nil {
		return nil, err
	}
	s.log.Info("subscription cancelled", "user_id", user.ID)
	return profile, nil
}

func (s *PaymentService) profile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, NewAppError(CodeNotFound, "Profile not found.", ErrNotFound)
	}
	return profile, nil
}

func (s *PaymentService) count(event string, plan models.Plan) {
	if s.metrics != nil {
		s.metrics.PaymentsTotal.WithLabelValues(event, string(plan)).Inc()
	}
}

// majorUnits renders minor units as a decimal amount, 99900 -> "999.00".
func majorUnits(minor int) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
