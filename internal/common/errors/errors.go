package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind groups error codes by how the caller should react to them.
type Kind string

const (
	// KindValidation is bad user input; always recoverable by re-prompting.
	KindValidation Kind = "validation"
	// KindNotFound is a missing entity reference.
	KindNotFound Kind = "not_found"
	// KindStateConflict is an invalid transition for the current state.
	KindStateConflict Kind = "state_conflict"
	// KindExternalUnavailable is a collaborator outage; retryable, no state was changed.
	KindExternalUnavailable Kind = "external_unavailable"
	// KindPermission means the actor lacks the required role or ownership.
	KindPermission Kind = "permission"
	KindInternal   Kind = "internal"
)

// ErrorCode identifies a concrete failure.
type ErrorCode string

const (
	// Generic
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Entities
	ErrCodeUserNotFound     ErrorCode = "USER_NOT_FOUND"
	ErrCodeCampaignNotFound ErrorCode = "CAMPAIGN_NOT_FOUND"
	ErrCodeProjectNotFound  ErrorCode = "PROJECT_NOT_FOUND"
	ErrCodePayoutNotFound   ErrorCode = "PAYOUT_NOT_FOUND"

	// Campaigns and participation
	ErrCodeCampaignNotActive   ErrorCode = "CAMPAIGN_NOT_ACTIVE"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeQuotaExhausted      ErrorCode = "QUOTA_EXHAUSTED"
	ErrCodeAlreadyJoined       ErrorCode = "ALREADY_JOINED"
	ErrCodeNotJoined           ErrorCode = "NOT_JOINED"
	ErrCodeNotInvited          ErrorCode = "NOT_INVITED"
	ErrCodeAccountNotVerified  ErrorCode = "ACCOUNT_NOT_VERIFIED"
	ErrCodeEngagementNotFound  ErrorCode = "ENGAGEMENT_NOT_FOUND"
	ErrCodeRewardAlreadyGiven  ErrorCode = "REWARD_ALREADY_GRANTED"
	ErrCodeNotParticipated     ErrorCode = "NOT_PARTICIPATED"
	ErrCodeVerificationOffline ErrorCode = "VERIFICATION_UNAVAILABLE"

	// Verification gate
	ErrCodeDuplicateHandle   ErrorCode = "DUPLICATE_HANDLE"
	ErrCodeChallengeNotFound ErrorCode = "CHALLENGE_NOT_FOUND"
	ErrCodeChallengeExpired  ErrorCode = "CHALLENGE_EXPIRED"
	ErrCodeChallengeNoMatch  ErrorCode = "CHALLENGE_NO_MATCH"

	// Ledger
	ErrCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrCodeBelowMinimum        ErrorCode = "BELOW_MINIMUM"
	ErrCodeNotVerified         ErrorCode = "NOT_VERIFIED"
	ErrCodePayoutSettled       ErrorCode = "PAYOUT_ALREADY_SETTLED"

	// Payments
	ErrCodeInvalidSignature   ErrorCode = "INVALID_SIGNATURE"
	ErrCodePaymentUnavailable ErrorCode = "PAYMENT_UNAVAILABLE"
)

var kinds = map[ErrorCode]Kind{
	ErrCodeValidation:          KindValidation,
	ErrCodeInvalidSignature:    KindValidation,
	ErrCodeNotFound:            KindNotFound,
	ErrCodeUserNotFound:        KindNotFound,
	ErrCodeCampaignNotFound:    KindNotFound,
	ErrCodeProjectNotFound:     KindNotFound,
	ErrCodePayoutNotFound:      KindNotFound,
	ErrCodeChallengeNotFound:   KindNotFound,
	ErrCodeUnauthorized:        KindPermission,
	ErrCodeForbidden:           KindPermission,
	ErrCodeNotInvited:          KindPermission,
	ErrCodeConflict:            KindStateConflict,
	ErrCodeCampaignNotActive:   KindStateConflict,
	ErrCodeInvalidTransition:   KindStateConflict,
	ErrCodeQuotaExhausted:      KindStateConflict,
	ErrCodeAlreadyJoined:       KindStateConflict,
	ErrCodeNotJoined:           KindStateConflict,
	ErrCodeAccountNotVerified:  KindStateConflict,
	ErrCodeEngagementNotFound:  KindStateConflict,
	ErrCodeRewardAlreadyGiven:  KindStateConflict,
	ErrCodeNotParticipated:     KindStateConflict,
	ErrCodeDuplicateHandle:     KindStateConflict,
	ErrCodeChallengeExpired:    KindStateConflict,
	ErrCodeChallengeNoMatch:    KindStateConflict,
	ErrCodeInsufficientCredits: KindStateConflict,
	ErrCodeBelowMinimum:        KindStateConflict,
	ErrCodeNotVerified:         KindStateConflict,
	ErrCodePayoutSettled:       KindStateConflict,
	ErrCodeVerificationOffline: KindExternalUnavailable,
	ErrCodePaymentUnavailable:  KindExternalUnavailable,
	ErrCodeRateLimit:           KindExternalUnavailable,
}

// AppError is a typed application error.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Stack     []string               `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code so callers can use errors.Is with a template error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Kind returns the category of the error code; unknown codes are internal.
func (e *AppError) Kind() Kind {
	if k, ok := kinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// Retryable reports whether retrying the same call later may succeed.
func (e *AppError) Retryable() bool {
	return e.Kind() == KindExternalUnavailable
}

// WithContext adds request-scoped context to the error.
func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds a machine-readable detail.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithUserID(userID int64) *AppError {
	e.UserID = userID
	return e
}

// WithStack captures the call stack.
func (e *AppError) WithStack() *AppError {
	e.Stack = getStackTrace()
	return e
}

// New creates an application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates an application error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr.WithStack()
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("%s: %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// NewNotFoundError creates a generic not-found error.
func NewNotFoundError(resource string, id interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// NewForbiddenError creates a permission error.
func NewForbiddenError(reason string) *AppError {
	return New(ErrCodeForbidden, fmt.Sprintf("forbidden: %s", reason)).
		WithDetail("reason", reason)
}

// NewDatabaseError wraps a storage failure.
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabase, fmt.Sprintf("database operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// AsAppError extracts an *AppError from the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil {
		return nil, false
	}
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// KindOf returns the kind of err; non-application errors are internal.
func KindOf(err error) Kind {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Kind()
	}
	return KindInternal
}
