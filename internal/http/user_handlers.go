package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"
)

// UserHandlers exposes the caller's profile and social account verification.
type UserHandlers struct {
	users        *usersvc.Service
	verification *verification.Service
}

func NewUserHandlers(users *usersvc.Service, verification *verification.Service) *UserHandlers {
	return &UserHandlers{users: users, verification: verification}
}

func (h *UserHandlers) Register(r gin.IRouter) {
	r.GET("/me", h.getMe)
	r.POST("/me/referrer", h.attachReferrer)
	r.POST("/me/accounts/:platform/challenge", h.requestChallenge)
	r.POST("/me/accounts/:platform/verify", h.confirmChallenge)
	r.DELETE("/me/accounts/:platform", h.unlink)
}

type referrerRequest struct {
	Code string `json:"code" binding:"required,len=8,hexadecimal"`
}

type challengeRequest struct {
	Handle string `json:"handle" binding:"required,max=64"`
}

// ChallengeResponse tells the user what to post and until when.
type ChallengeResponse struct {
	Platform  user.Platform `json:"platform"`
	Code      string        `json:"code"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// @Summary Get current user
// @Description Creates the user on first contact and refreshes the Telegram profile.
// @Tags users
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} user.User
// @Failure 401 {object} middleware.ErrorResponse
// @Router /me [get]
func (h *UserHandlers) getMe(c *gin.Context) {
	u, err := h.users.Touch(c.Request.Context(), mw.UserID(c), c.GetString(mw.UsernameCtxParam), c.GetString(mw.FirstNameCtxParam))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// @Summary Attach referrer
// @Tags users
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param body body referrerRequest true "Referral code"
// @Success 200 {object} map[string]int64
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /me/referrer [post]
func (h *UserHandlers) attachReferrer(c *gin.Context) {
	var req referrerRequest
	if !bindJSON(c, &req) {
		return
	}
	ref, err := h.users.AttachReferrer(c.Request.Context(), mw.UserID(c), req.Code)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrer_id": ref.ID})
}

func platformParam(c *gin.Context) (user.Platform, bool) {
	p, ok := user.ParsePlatform(c.Param("platform"))
	if !ok {
		mw.Abort(c, apperrors.NewValidationError("platform", "must be x, discord or telegram"))
	}
	return p, ok
}

// @Summary Request verification challenge
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param platform path string true "x, discord or telegram"
// @Param body body challengeRequest true "Handle to link"
// @Success 201 {object} ChallengeResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /me/accounts/{platform}/challenge [post]
func (h *UserHandlers) requestChallenge(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	var req challengeRequest
	if !bindJSON(c, &req) {
		return
	}
	code, expires, err := h.verification.RequestChallenge(c.Request.Context(), mw.UserID(c), p, req.Handle)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, ChallengeResponse{Platform: p, Code: code, ExpiresAt: expires})
}

// @Summary Confirm verification challenge
// @Tags accounts
// @Produce json
// @Security TelegramInitData
// @Param platform path string true "x, discord or telegram"
// @Success 200 {object} user.SocialAccount
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse
// @Router /me/accounts/{platform}/verify [post]
func (h *UserHandlers) confirmChallenge(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	acc, err := h.verification.ConfirmChallenge(c.Request.Context(), mw.UserID(c), p)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// @Summary Unlink social account
// @Tags accounts
// @Security TelegramInitData
// @Param platform path string true "x, discord or telegram"
// @Success 204
// @Failure 404 {object} middleware.ErrorResponse
// @Router /me/accounts/{platform} [delete]
func (h *UserHandlers) unlink(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	if err := h.verification.Unlink(c.Request.Context(), mw.UserID(c), p); err != nil {
		mw.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
