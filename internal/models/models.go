package models

import "time"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// Paid reports whether the plan can be bought through the payment ledger.
func (p Plan) Paid() bool {
	return p == PlanBasic || p == PlanPremium || p == PlanEnterprise
}

type SiteStatus string

const (
	SiteStatusPending   SiteStatus = "pending"
	SiteStatusCompleted SiteStatus = "completed"
	SiteStatusFailed    SiteStatus = "failed"
)

func (s SiteStatus) Terminal() bool {
	return s == SiteStatusCompleted || s == SiteStatusFailed
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodWallet       PaymentMethod = "wallet"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProfile carries plan, quota and email verification state for one user.
type UserProfile struct {
	UserID               int64      `json:"user_id"`
	Plan                 Plan       `json:"plan"`
	PlanExpiresAt        *time.Time `json:"plan_expires_at,omitempty"`
	FreeCreditsRemaining int        `json:"free_credits_remaining"`
	TotalGenerated       int        `json:"total_generated"`
	EmailVerified        bool       `json:"email_verified"`
	OTPCode              string     `json:"-"`
	OTPCreatedAt         *time.Time `json:"-"`
	OTPAttempts          int        `json:"-"`
	AccountActive        bool       `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type GeneratedSite struct {
	ID              int64      `json:"id"`
	UserID          *int64     `json:"user_id,omitempty"`
	Prompt          string     `json:"prompt"`
	Status          SiteStatus `json:"status"`
	GeneratedCode   string     `json:"-"`
	ArtifactKey     string     `json:"-"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	DownloadCount   int        `json:"download_count"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (s *GeneratedSite) HasArtifact() bool {
	return s.Status == SiteStatusCompleted && s.ArtifactKey != ""
}

type SiteStats struct {
	Total          int `json:"total_sites"`
	Completed      int `json:"completed_sites"`
	TotalDownloads int `json:"total_downloads"`
}

type Payment struct {
	ID               int64         `json:"id"`
	UserID           int64         `json:"user_id"`
	Amount           int           `json:"amount"`
	Currency         string        `json:"currency"`
	Method           PaymentMethod `json:"method"`
	TransactionID    string        `json:"transaction_id"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	QRCodeData       string        `json:"qr_code_data,omitempty"`
	Status           PaymentStatus `json:"status"`
	Plan             Plan          `json:"plan"`
	PlanMonths       int           `json:"plan_months"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type PricingPlan struct {
	ID              int64     `json:"id"`
	Code            Plan      `json:"code"`
	Title           string    `json:"title"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	DurationDays    int       `json:"duration_days"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type SuggestionStatus string

const (
	SuggestionPending     SuggestionStatus = "pending"
	SuggestionInProgress  SuggestionStatus = "in_progress"
	SuggestionImplemented SuggestionStatus = "implemented"
	SuggestionRejected    SuggestionStatus = "rejected"
)

type Suggestion struct {
	ID          int64            `json:"id"`
	UserID      *int64           `json:"user_id,omitempty"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Type        string           `json:"suggestion_type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    string           `json:"priority"`
	Status      SuggestionStatus `json:"status"`
	AdminNotes  string           `json:"admin_notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
