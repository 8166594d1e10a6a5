package http

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
)

// bindJSON decodes and validates the request body, aborting with a VALIDATION_ERROR on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		mw.Abort(c, apperrors.NewValidationError(strings.ToLower(fe.Field()), "failed '"+fe.Tag()+"' check"))
		return false
	}
	mw.Abort(c, apperrors.NewValidationError("body", "invalid json"))
	return false
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
