package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	"github.com/open-builders/campaign-bot/internal/service/payments"
)

const maxWebhookBody = 64 << 10

// PaymentHandlers starts checkouts for premium and project plans.
type PaymentHandlers struct {
	payments *payments.Service
}

func NewPaymentHandlers(svc *payments.Service) *PaymentHandlers {
	return &PaymentHandlers{payments: svc}
}

func (h *PaymentHandlers) Register(r gin.IRouter) {
	r.POST("/payments/premium/checkout", h.checkoutPremium)
	r.POST("/payments/plans/checkout", h.checkoutPlan)
}

type planCheckoutRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	PlanID    string `json:"plan_id" binding:"required"`
}

// CheckoutResponse carries the hosted checkout page to redirect to.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// @Summary Buy premium
// @Tags payments
// @Produce json
// @Security TelegramInitData
// @Success 201 {object} CheckoutResponse
// @Failure 503 {object} middleware.ErrorResponse
// @Router /payments/premium/checkout [post]
func (h *PaymentHandlers) checkoutPremium(c *gin.Context) {
	url, err := h.payments.CheckoutPremium(c.Request.Context(), mw.UserID(c))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, CheckoutResponse{URL: url})
}

// @Summary Buy project plan
// @Tags payments
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param body body planCheckoutRequest true "Plan"
// @Success 201 {object} CheckoutResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse
// @Router /payments/plans/checkout [post]
func (h *PaymentHandlers) checkoutPlan(c *gin.Context) {
	var req planCheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	url, err := h.payments.CheckoutPlan(c.Request.Context(), mw.UserID(c), req.ProjectID, req.PlanID)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, CheckoutResponse{URL: url})
}

// WebhookHandlers receives provider callbacks. They are authenticated by signature, not init-data.
type WebhookHandlers struct {
	payments *payments.Service
}

func NewWebhookHandlers(svc *payments.Service) *WebhookHandlers {
	return &WebhookHandlers{payments: svc}
}

func (h *WebhookHandlers) Register(r gin.IRouter) {
	r.POST("/stripe", h.stripe)
}

// @Summary Stripe webhook
// @Tags payments
// @Accept json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200
// @Failure 400 {object} middleware.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandlers) stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		mw.Abort(c, apperrors.NewValidationError("body", "unreadable payload"))
		return
	}
	if err := h.payments.AcceptWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		mw.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}
