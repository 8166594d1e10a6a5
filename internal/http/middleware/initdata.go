package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
)

// Context keys to store Telegram init-data derived fields.
const (
	UserIdCtxParam    = "user_id"
	FirstNameCtxParam = "first_name"
	UsernameCtxParam  = "username"
	IsPremiumCtxParam = "is_premium"
)

// InitData validates Telegram Mini Apps init-data and stores the caller in the gin context.
// It expects init-data in one of the following places (checked in order):
//  1. Header: "X-Telegram-Init-Data"
//  2. Query:  "init_data" (raw string)
//
// An empty token rejects every request instead of skipping validation.
func InitData(token string, expIn time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Abort(c, apperrors.New(apperrors.ErrCodeInternal, "init-data validation is not configured"))
			return
		}

		raw := c.GetHeader("X-Telegram-Init-Data")
		if raw == "" {
			raw = c.Query("init_data")
		}
		if raw == "" {
			Abort(c, apperrors.New(apperrors.ErrCodeUnauthorized, "missing init_data"))
			return
		}

		// expIn==0 disables the TTL check as per library contract
		if err := initdata.Validate(raw, token, expIn); err != nil {
			Abort(c, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid init_data"))
			return
		}
		parsed, err := initdata.Parse(raw)
		if err != nil || parsed.User.ID == 0 {
			Abort(c, apperrors.NewValidationError("init_data", "user is missing"))
			return
		}

		c.Set(UserIdCtxParam, parsed.User.ID)
		c.Set(FirstNameCtxParam, parsed.User.FirstName)
		c.Set(UsernameCtxParam, parsed.User.Username)
		c.Set(IsPremiumCtxParam, parsed.User.IsPremium)
		c.Next()
	}
}

// UserID returns the authenticated Telegram user id, zero when absent.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(UserIdCtxParam)
}

// RequireAdmin lets through only callers accepted by isAdmin.
func RequireAdmin(isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(UserID(c)) {
			Abort(c, apperrors.NewForbiddenError("admin only"))
			return
		}
		c.Next()
	}
}

// statusFor maps an application error to the HTTP status returned to dashboard clients.
func statusFor(appErr *apperrors.AppError) int {
	switch appErr.Code {
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	}
	switch appErr.Kind() {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindPermission:
		return http.StatusForbidden
	case apperrors.KindStateConflict:
		return http.StatusConflict
	case apperrors.KindExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
