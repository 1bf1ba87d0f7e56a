package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/SiteGenerator/internal/models"
)

func newTestVerifier(accounts *memAccounts, clock Clock) *OTPVerifier {
	v := NewOTPVerifier(accounts, clock)
	v.hashCost = bcrypt.MinCost
	v.generate = func() (string, error) { return "482913", nil }
	return v
}

func TestOTP_IssueStoresHash(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)

	code, err := v.Issue(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	stored := accounts.stored(profile.UserID)
	assert.NotEqual(t, code, stored.OTPCode)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.OTPCode), []byte(code)))
	require.NotNil(t, stored.OTPCreatedAt)
	assert.Equal(t, clock.now, *stored.OTPCreatedAt)
	assert.Equal(t, 0, stored.OTPAttempts)
}

func TestOTP_GeneratedCodeIsSixDigits(t *testing.T) {
	code, err := generateNumericCode(otpLength)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{6}$`, code)
}

func TestOTP_AcceptedJustBeforeExpiry(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	code, err := v.Issue(ctx, profile)
	require.NoError(t, err)

	clock.Advance(OTPValidity - time.Second)
	require.NoError(t, v.Verify(ctx, profile, code))

	stored := accounts.stored(profile.UserID)
	assert.True(t, stored.EmailVerified)
	assert.Empty(t, stored.OTPCode)
	assert.Nil(t, stored.OTPCreatedAt)
	assert.True(t, profile.AccountActive)
}

func TestOTP_ExpiredRegardlessOfCorrectness(t *testing.T) {
	for _, elapsed := range []time.Duration{OTPValidity, OTPValidity + time.Second} {
		clock := newClock()
		accounts := newMemAccounts()
		_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
		v := newTestVerifier(accounts, clock)
		ctx := context.Background()

		code, err := v.Issue(ctx, profile)
		require.NoError(t, err)

		clock.Advance(elapsed)
		err = v.Verify(ctx, profile, code)
		assert.ErrorIs(t, err, ErrOTPExpired, "elapsed %s", elapsed)
		assert.Equal(t, 410, AsAppError(err).HTTPStatus())

		stored := accounts.stored(profile.UserID)
		assert.False(t, stored.EmailVerified)
		assert.NotEmpty(t, stored.OTPCode)
	}
}

func TestOTP_AttemptsLockout(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	code, err := v.Issue(ctx, profile)
	require.NoError(t, err)

	for i := 1; i <= OTPMaxAttempts; i++ {
		err := v.Verify(ctx, profile, "000000")
		require.ErrorIs(t, err, ErrOTPInvalid)
		appErr := AsAppError(err)
		assert.Equal(t, OTPMaxAttempts-i, appErr.Details["remaining_attempts"])
	}
	assert.Equal(t, OTPMaxAttempts, accounts.stored(profile.UserID).OTPAttempts)

	err = v.Verify(ctx, profile, code)
	assert.ErrorIs(t, err, ErrOTPAttemptsExceeded)
	assert.False(t, accounts.stored(profile.UserID).EmailVerified)
}

func TestOTP_AttemptLimitHoldsAcrossStaleProfiles(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	code, err := v.Issue(ctx, profile)
	require.NoError(t, err)

	// Every request loads the profile before any guess is recorded.
	snapshots := make([]*models.UserProfile, 10)
	for i := range snapshots {
		snapshots[i], err = accounts.GetProfile(ctx, profile.UserID)
		require.NoError(t, err)
	}

	var invalid, locked int
	for _, p := range snapshots {
		err := v.Verify(ctx, p, "000000")
		switch {
		case errors.Is(err, ErrOTPInvalid):
			invalid++
		case errors.Is(err, ErrOTPAttemptsExceeded):
			locked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, OTPMaxAttempts, invalid)
	assert.Equal(t, 10-OTPMaxAttempts, locked)
	assert.Equal(t, OTPMaxAttempts, accounts.stored(profile.UserID).OTPAttempts)

	stale, err := accounts.GetProfile(ctx, profile.UserID)
	require.NoError(t, err)
	stale.OTPAttempts = 0
	assert.ErrorIs(t, v.Verify(ctx, stale, code), ErrOTPAttemptsExceeded)
	assert.False(t, accounts.stored(profile.UserID).EmailVerified)
}

func TestOTP_RevokeAllowsImmediateReissue(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	_, err := v.Issue(ctx, profile)
	require.NoError(t, err)
	require.NoError(t, v.Revoke(ctx, profile))
	assert.Empty(t, accounts.stored(profile.UserID).OTPCode)

	_, err = v.Issue(ctx, profile)
	assert.NoError(t, err)
}

func TestOTP_NoPendingCode(t *testing.T) {
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, newClock())

	err := v.Verify(context.Background(), profile, "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Equal(t, 404, AsAppError(err).HTTPStatus())
}

func TestOTP_ResendThrottle(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	_, err := v.Issue(ctx, profile)
	require.NoError(t, err)

	clock.Advance(OTPResendInterval - time.Second)
	_, err = v.Issue(ctx, profile)
	require.ErrorIs(t, err, ErrOTPRateLimited)
	assert.Equal(t, 1, AsAppError(err).Details["retry_after_seconds"])

	clock.Advance(time.Second)
	_, err = v.Issue(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, clock.now, *accounts.stored(profile.UserID).OTPCreatedAt)
}

func TestOTP_ReissueResetsAttempts(t *testing.T) {
	clock := newClock()
	accounts := newMemAccounts()
	_, profile := accounts.seed(models.UserProfile{Plan: models.PlanFree})
	v := newTestVerifier(accounts, clock)
	ctx := context.Background()

	_, err := v.Issue(ctx, profile)
	require.NoError(t, err)
	for i := 0; i < OTPMaxAttempts; i++ {
		_ = v.Verify(ctx, profile, "000000")
	}

	clock.Advance(OTPResendInterval)
	code, err := v.Issue(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.OTPAttempts)
	assert.NoError(t, v.Verify(ctx, profile, code))
}
