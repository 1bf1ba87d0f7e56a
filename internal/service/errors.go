package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrQuotaExceeded       = errors.New("generation quota exceeded")
	ErrUpstreamGeneration  = errors.New("upstream generation failed")
	ErrNotFound            = errors.New("not found")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPRateLimited      = errors.New("otp requested too recently")
	ErrPermissionDenied    = errors.New("permission denied")

	ErrOTPNotFound        = errors.New("no pending otp")
	ErrOTPInvalid         = errors.New("otp mismatch")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account not active")
	ErrEmailExists        = errors.New("email already registered")
	ErrPaymentUnverified  = errors.New("payment awaiting verification")
	ErrRateLimited        = errors.New("too many requests")
)

// ErrorCode categorizes an AppError; the prefix decides the HTTP status.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation_failed"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeUpstreamGeneration  ErrorCode = "upstream_generation_failed"
	CodeNotFound            ErrorCode = "not_found"
	CodeOTPNotFound         ErrorCode = "not_found_otp"
	CodeOTPExpired          ErrorCode = "otp_expired"
	CodeOTPAttemptsExceeded ErrorCode = "otp_attempts_exceeded"
	CodeOTPRateLimited      ErrorCode = "otp_rate_limited"
	CodeOTPInvalid          ErrorCode = "validation_otp_invalid"
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodeInvalidCredentials  ErrorCode = "auth_invalid_credentials"
	CodeAccountInactive     ErrorCode = "permission_account_inactive"
	CodeEmailExists         ErrorCode = "conflict_email_exists"
	CodeInvalidTransition   ErrorCode = "conflict_invalid_transition"
	CodePaymentUnverified   ErrorCode = "payment_unverified"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeInternal            ErrorCode = "internal_error"
)

func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "quota_"), strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "not_found"):
		return http.StatusNotFound
	case c == CodeOTPExpired:
		return http.StatusGone
	case c == CodeOTPAttemptsExceeded, c == CodeOTPRateLimited, c == CodeRateLimited:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == CodePaymentUnverified:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the error shape returned to API clients.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrQuotaExceeded, CodeQuotaExceeded},
	{ErrUpstreamGeneration, CodeUpstreamGeneration},
	{ErrNotFound, CodeNotFound},
	{ErrOTPNotFound, CodeOTPNotFound},
	{ErrOTPExpired, CodeOTPExpired},
	{ErrOTPAttemptsExceeded, CodeOTPAttemptsExceeded},
	{ErrOTPRateLimited, CodeOTPRateLimited},
	{ErrOTPInvalid, CodeOTPInvalid},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountInactive, CodeAccountInactive},
	{ErrEmailExists, CodeEmailExists},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrPaymentUnverified, CodePaymentUnverified},
	{ErrRateLimited, CodeRateLimited},
}

// AsAppError converts any error into an AppError. Known sentinels keep their
// message; anything else becomes an opaque internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return NewAppError(sc.code, sc.err.Error(), err)
		}
	}
	return NewAppError(CodeInternal, "internal error", err)
}
