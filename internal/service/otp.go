package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

const (
	OTPValidity       = 10 * time.Minute
	OTPResendInterval = 2 * time.Minute
	OTPMaxAttempts    = 5
	otpLength         = 6
)

// OTPStore persists the challenge fields of a user profile.
type OTPStore interface {
	SaveOTP(ctx context.Context, userID int64, codeHash string, createdAt time.Time) error
	ClearOTP(ctx context.Context, userID int64, codeHash string) error
	RecordOTPFailure(ctx context.Context, userID int64, codeHash string, maxAttempts int) (int, bool, error)
	MarkEmailVerified(ctx context.Context, userID int64, codeHash string, maxAttempts int) (bool, error)
}

var _ OTPStore = (*repository.UserRepository)(nil)

// OTPVerifier issues and checks email verification codes. Codes are stored
// as bcrypt hashes; the plain code is only returned for delivery.
type OTPVerifier struct {
	store    OTPStore
	clock    Clock
	hashCost int
	generate func() (string, error)
}

func NewOTPVerifier(store OTPStore, clock Clock) *OTPVerifier {
	return &OTPVerifier{
		store:    store,
		clock:    clock,
		hashCost: bcrypt.DefaultCost,
		generate: func() (string, error) { return generateNumericCode(otpLength) },
	}
}

// Issue creates a new challenge on the profile, superseding any previous one.
func (v *OTPVerifier) Issue(ctx context.Context, profile *models.UserProfile) (string, error) {
	now := v.clock.Now()
	if profile.OTPCreatedAt != nil {
		if wait := OTPResendInterval - now.Sub(*profile.OTPCreatedAt); wait > 0 {
			return "", NewAppErrorWithDetails(CodeOTPRateLimited,
				"Please wait before requesting a new code.", ErrOTPRateLimited,
				map[string]any{"retry_after_seconds": int(wait.Round(time.Second).Seconds())})
		}
	}

	code, err := v.generate()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	if err := v.store.SaveOTP(ctx, profile.UserID, string(hash), now); err != nil {
		return "", err
	}

	profile.OTPCode = string(hash)
	profile.OTPCreatedAt = &now
	profile.OTPAttempts = 0
	return code, nil
}

// Verify checks a submitted code. A code is accepted in [issued, issued+OTPValidity).
// Expired codes stay on the profile until superseded.
func (v *OTPVerifier) Verify(ctx context.Context, profile *models.UserProfile, submitted string) error {
	if profile.OTPCode == "" || profile.OTPCreatedAt == nil {
		return NewAppError(CodeOTPNotFound, "No verification code pending. Please request a new one.", ErrOTPNotFound)
	}
	if v.clock.Now().Sub(*profile.OTPCreatedAt) >= OTPValidity {
		return NewAppError(CodeOTPExpired, "Verification code has expired. Please request a new one.", ErrOTPExpired)
	}
	if profile.OTPAttempts >= OTPMaxAttempts {
		return attemptsExceeded()
	}

	submitted = strings.TrimSpace(submitted)
	if bcrypt.CompareHashAndPassword([]byte(profile.OTPCode), []byte(submitted)) != nil {
		attempts, ok, err := v.store.RecordOTPFailure(ctx, profile.UserID, profile.OTPCode, OTPMaxAttempts)
		if err != nil {
			return err
		}
		if !ok {
			profile.OTPAttempts = OTPMaxAttempts
			return attemptsExceeded()
		}
		profile.OTPAttempts = attempts
		remaining := OTPMaxAttempts - attempts
		return NewAppErrorWithDetails(CodeOTPInvalid,
			fmt.Sprintf("Invalid code. %d attempts remaining.", remaining), ErrOTPInvalid,
			map[string]any{"remaining_attempts": remaining})
	}

	ok, err := v.store.MarkEmailVerified(ctx, profile.UserID, profile.OTPCode, OTPMaxAttempts)
	if err != nil {
		return err
	}
	if !ok {
		return attemptsExceeded()
	}
	profile.EmailVerified = true
	profile.AccountActive = true
	profile.OTPCode = ""
	profile.OTPCreatedAt = nil
	profile.OTPAttempts = 0
	return nil
}

// Revoke drops a challenge that could not be delivered so a new one can be
// issued right away.
func (v *OTPVerifier) Revoke(ctx context.Context, profile *models.UserProfile) error {
	if profile.OTPCode == "" {
		return nil
	}
	if err := v.store.ClearOTP(ctx, profile.UserID, profile.OTPCode); err != nil {
		return err
	}
	profile.OTPCode = ""
	profile.OTPCreatedAt = nil
	profile.OTPAttempts = 0
	return nil
}

func attemptsExceeded() error {
	return NewAppError(CodeOTPAttemptsExceeded, "Too many attempts. Please request a new code.", ErrOTPAttemptsExceeded)
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
