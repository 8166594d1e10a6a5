package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "github.com/open-builders/campaign-bot/internal/common/errors"
	dl "github.com/open-builders/campaign-bot/internal/domain/ledger"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
)

// LedgerHandlers exposes balances, history, cashouts and payout settlement.
type LedgerHandlers struct {
	ledger  *ledgersvc.Service
	isAdmin func(int64) bool
}

func NewLedgerHandlers(ledger *ledgersvc.Service, isAdmin func(int64) bool) *LedgerHandlers {
	return &LedgerHandlers{ledger: ledger, isAdmin: isAdmin}
}

func (h *LedgerHandlers) Register(r gin.IRouter) {
	r.GET("/ledger/balance", h.balance)
	r.GET("/ledger/history", h.history)
	r.GET("/ledger/quote", h.quote)
	r.POST("/cashouts", h.cashout)

	admin := r.Group("/admin")
	admin.Use(mw.RequireAdmin(h.isAdmin))
	admin.POST("/payouts/:id/settle", h.settle)
}

type cashoutRequest struct {
	Credits     int64            `json:"credits" binding:"required,gt=0"`
	Method      dl.PaymentMethod `json:"method" binding:"required,oneof=paypal ton"`
	Destination string           `json:"destination" binding:"required"`
}

type settleRequest struct {
	Paid *bool `json:"paid" binding:"required"`
}

// QuoteResponse is the USD breakdown of a prospective cashout.
type QuoteResponse struct {
	Credits     int64           `json:"credits"`
	USDValue    decimal.Decimal `json:"usd_value"`
	Commission  decimal.Decimal `json:"commission"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// @Summary Get balance
// @Tags ledger
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} map[string]int64
// @Router /ledger/balance [get]
func (h *LedgerHandlers) balance(c *gin.Context) {
	credits, err := h.ledger.Balance(c.Request.Context(), mw.UserID(c))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

// @Summary Ledger history
// @Tags ledger
// @Produce json
// @Security TelegramInitData
// @Param limit query int false "Max entries" default(50)
// @Success 200 {array} ledger.Entry
// @Router /ledger/history [get]
func (h *LedgerHandlers) history(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	out, err := h.ledger.History(c.Request.Context(), mw.UserID(c), limit)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Quote cashout
// @Tags ledger
// @Produce json
// @Security TelegramInitData
// @Param credits query int true "Credits to cash out"
// @Success 200 {object} QuoteResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /ledger/quote [get]
func (h *LedgerHandlers) quote(c *gin.Context) {
	credits, err := strconv.ParseInt(c.Query("credits"), 10, 64)
	if err != nil || credits <= 0 {
		mw.Abort(c, apperrors.NewValidationError("credits", "must be a positive integer"))
		return
	}
	usd, commission, final := h.ledger.Quote(credits)
	c.JSON(http.StatusOK, QuoteResponse{Credits: credits, USDValue: usd, Commission: commission, FinalAmount: final})
}

// @Summary Request cashout
// @Description Debits the credits immediately and records a pending payout.
// @Tags ledger
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param body body cashoutRequest true "Cashout"
// @Success 201 {object} ledger.Payout
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /cashouts [post]
func (h *LedgerHandlers) cashout(c *gin.Context) {
	var req cashoutRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.ledger.Cashout(c.Request.Context(), mw.UserID(c), req.Credits, req.Method, req.Destination)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Settle payout
// @Description Admin only. A failed payout refunds the credits.
// @Tags admin
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Payout ID"
// @Param body body settleRequest true "Outcome"
// @Success 200 {object} ledger.Payout
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /admin/payouts/{id}/settle [post]
func (h *LedgerHandlers) settle(c *gin.Context) {
	var req settleRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.ledger.SettlePayout(c.Request.Context(), c.Param("id"), *req.Paid)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
