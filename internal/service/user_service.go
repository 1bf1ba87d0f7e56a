package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/SiteGenerator/internal/metrics"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

const minPasswordLength = 8

// UserStore persists accounts.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User, freeCredits int) (*models.User, error)
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
}

// OTPSender delivers verification codes.
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string, validFor time.Duration) error
}

// TokenIssuer creates session tokens.
type TokenIssuer interface {
	Issue(userID int64) (string, time.Time, error)
}

type UserService struct {
	log         *slog.Logger
	users       UserStore
	otp         *OTPVerifier
	mailer      OTPSender
	tokens      TokenIssuer
	metrics     *metrics.Metrics
	freeCredits int
}

func NewUserService(log *slog.Logger, users UserStore, otp *OTPVerifier, mailer OTPSender, tokens TokenIssuer, m *metrics.Metrics, freeCredits int) *UserService {
	return &UserService{
		log:         log,
		users:       users,
		otp:         otp,
		mailer:      mailer,
		tokens:      tokens,
		metrics:     m,
		freeCredits: freeCredits,
	}
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates an inactive account and emails the first verification code.
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, NewAppError(CodeValidation,
			fmt.Sprintf("Password must be at least %d characters.", minPasswordLength), ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, &models.User{Email: email, PasswordHash: string(hash)}, s.freeCredits)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, NewAppError(CodeEmailExists, "An account with this email already exists.", ErrEmailExists)
		}
		return nil, err
	}
	s.log.Info("user registered", "user_id", user.ID)

	if err := s.sendCode(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks credentials of an activated account.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, NewAppError(CodeInvalidCredentials, "Invalid email or password.", ErrInvalidCredentials)
	}
	if !user.IsActive {
		return nil, NewAppError(CodeAccountInactive, "Please verify your email before logging in.", ErrAccountInactive)
	}
	return s.issue(user)
}

// ResendOTP issues a fresh code, subject to the resend interval.
func (s *UserService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.byEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.sendCode(ctx, user)
}

// VerifyOTP activates the account on a correct code and logs the user in.
func (s *UserService) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	user, err := s.byEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	profile, err := s.users.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, NewAppError(CodeNotFound, "Account not found.", ErrNotFound)
	}
	if err := s.otp.Verify(ctx, profile, code); err != nil {
		s.otpEvent(otpEventName(err))
		return nil, err
	}
	s.otpEvent("verified")
	s.log.Info("email verified", "user_id", user.ID)

	user.IsActive = true
	return s.issue(user)
}

// User loads an account by id, or nil when it no longer exists.
func (s *UserService) User(ctx context.Context, id int64) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) byEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NewAppError(CodeNotFound, "Account not found.", ErrNotFound)
	}
	return user, nil
}

func (s *UserService) sendCode(ctx context.Context, user *models.User) error {
	profile, err := s.users.GetProfile(ctx, user.ID)
	if err != nil {
		return err
	}
	if profile == nil {
		return NewAppError(CodeNotFound, "Account not found.", ErrNotFound)
	}
	if profile.EmailVerified {
		return NewAppError(CodeValidation, "Email is already verified.", ErrValidation)
	}

	code, err := s.otp.Issue(ctx, profile)
	if err != nil {
		if errors.Is(err, ErrOTPRateLimited) {
			s.otpEvent("rate_limited")
		}
		return err
	}
	if err := s.mailer.SendOTP(ctx, user.Email, code, OTPValidity); err != nil {
		s.log.Error("send otp email", "user_id", user.ID, "err", err)
		if rerr := s.otp.Revoke(context.WithoutCancel(ctx), profile); rerr != nil {
			s.log.Error("revoke undelivered otp", "user_id", user.ID, "err", rerr)
		}
		return fmt.Errorf("send verification email: %w", err)
	}
	s.otpEvent("issued")
	return nil
}

func (s *UserService) issue(user *models.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expires}, nil
}

func (s *UserService) otpEvent(event string) {
	if s.metrics != nil {
		s.metrics.OTPEvents.WithLabelValues(event).Inc()
	}
}

func otpEventName(err error) string {
	switch {
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return "locked"
	case errors.Is(err, ErrOTPInvalid):
		return "mismatch"
	case errors.Is(err, ErrOTPNotFound):
		return "missing"
	default:
		return "error"
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return "", NewAppError(CodeValidation, "Please enter a valid email address.", ErrValidation)
	}
	return email, nil
}
