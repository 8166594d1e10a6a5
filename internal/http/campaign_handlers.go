package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	redisp "github.com/open-builders/campaign-bot/internal/platform/redis"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/participation"
)

const eligibleCacheTTL = 15 * time.Second

// CampaignHandlers exposes campaign management and the participation flow.
type CampaignHandlers struct {
	campaigns     *campaignsvc.Service
	participation *participation.Service
	ledger        *ledgersvc.Service
	rdb           *redisp.Client
}

func NewCampaignHandlers(campaigns *campaignsvc.Service, p *participation.Service, ledger *ledgersvc.Service, rdb *redisp.Client) *CampaignHandlers {
	return &CampaignHandlers{campaigns: campaigns, participation: p, ledger: ledger, rdb: rdb}
}

func (h *CampaignHandlers) Register(r gin.IRouter) {
	g := r.Group("/campaigns")
	if h.rdb != nil {
		g.GET("/eligible", mw.RedisCache(h.rdb, eligibleCacheTTL), h.listEligible)
	} else {
		g.GET("/eligible", h.listEligible)
	}
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/status", h.changeStatus)
	g.POST("/:id/invites", h.invite)
	g.POST("/:id/join", h.join)
	g.POST("/:id/confirm", h.confirm)
	g.POST("/:id/claim", h.claim)
}

type rewardRequest struct {
	Type        dc.RewardType `json:"type" binding:"required,oneof=credits whitelist token custom"`
	Description string        `json:"description" binding:"required"`
	Requirement string        `json:"requirement"`
	Credits     int64         `json:"credits" binding:"gte=0"`
}

type createCampaignRequest struct {
	ProjectID          string          `json:"project_id" binding:"required"`
	Name               string          `json:"name" binding:"required"`
	Description        string          `json:"description" binding:"required"`
	TargetPostURL      string          `json:"target_post_url" binding:"required,url"`
	DurationDays       int             `json:"duration_days" binding:"required,min=1,max=30"`
	TargetParticipants int             `json:"target_participants" binding:"required,min=1"`
	Rewards            []rewardRequest `json:"rewards" binding:"required,min=1,max=10,dive"`
	Visibility         dc.Visibility   `json:"visibility" binding:"omitempty,oneof=public private"`
}

type statusRequest struct {
	Status dc.Status `json:"status" binding:"required"`
}

type inviteRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// CampaignView is a campaign as seen by one caller. Other participants are summarized.
type CampaignView struct {
	*dc.Campaign
	Participants []dc.Participant    `json:"participants,omitempty"`
	JoinedCount  int                 `json:"joined_count"`
	State        dc.ParticipantState `json:"state"`
}

func viewOf(c *dc.Campaign, userID int64) CampaignView {
	p, _ := c.Participant(userID)
	return CampaignView{Campaign: c, JoinedCount: c.JoinedCount(), State: p.State()}
}

// @Summary List eligible campaigns
// @Description Active campaigns that are public or list the caller as invited.
// @Tags campaigns
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} campaign.Campaign
// @Router /campaigns/eligible [get]
func (h *CampaignHandlers) listEligible(c *gin.Context) {
	list, err := h.campaigns.FindEligible(c.Request.Context(), mw.UserID(c))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	for i := range list {
		list[i].Participants = nil
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Create campaign
// @Description Consumes one unit of the project's plan quota.
// @Tags campaigns
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param body body createCampaignRequest true "Campaign"
// @Success 201 {object} campaign.Campaign
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Quota exhausted"
// @Router /campaigns [post]
func (h *CampaignHandlers) create(c *gin.Context) {
	var req createCampaignRequest
	if !bindJSON(c, &req) {
		return
	}
	in := campaignsvc.CreateInput{
		ProjectID:          req.ProjectID,
		Name:               req.Name,
		Description:        req.Description,
		TargetPostURL:      req.TargetPostURL,
		DurationDays:       req.DurationDays,
		TargetParticipants: req.TargetParticipants,
		Visibility:         req.Visibility,
	}
	for _, r := range req.Rewards {
		in.Rewards = append(in.Rewards, dc.Reward{Type: r.Type, Description: r.Description, Requirement: r.Requirement, Credits: r.Credits})
	}
	created, err := h.campaigns.Create(c.Request.Context(), mw.UserID(c), in)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// @Summary Get campaign
// @Tags campaigns
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Success 200 {object} CampaignView
// @Failure 404 {object} middleware.ErrorResponse
// @Router /campaigns/{id} [get]
func (h *CampaignHandlers) get(c *gin.Context) {
	found, err := h.campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(found, mw.UserID(c)))
}

// @Summary Change campaign status
// @Description draft -> active -> completed|cancelled; project owner or admin only.
// @Tags campaigns
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Param body body statusRequest true "Target status"
// @Success 200 {object} campaign.Campaign
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /campaigns/{id}/status [post]
func (h *CampaignHandlers) changeStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.campaigns.ChangeStatus(c.Request.Context(), mw.UserID(c), c.Param("id"), req.Status)
	if err != nil {
		mw.Abort(c, err)
		return
	}
	updated.Participants = nil
	c.JSON(http.StatusOK, updated)
}

// @Summary Invite user to a private campaign
// @Tags campaigns
// @Accept json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Param body body inviteRequest true "Invitee"
// @Success 204
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /campaigns/{id}/invites [post]
func (h *CampaignHandlers) invite(c *gin.Context) {
	var req inviteRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.campaigns.Invite(c.Request.Context(), mw.UserID(c), c.Param("id"), req.UserID); err != nil {
		mw.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Join campaign
// @Tags participation
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Success 200 {object} campaign.Participant
// @Failure 403 {object} middleware.ErrorResponse "Not invited"
// @Failure 409 {object} middleware.ErrorResponse
// @Router /campaigns/{id}/join [post]
func (h *CampaignHandlers) join(c *gin.Context) {
	p, err := h.participation.Join(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Confirm engagement
// @Description Checks the target post for the caller's like and repost.
// @Tags participation
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Success 200 {object} campaign.Participant
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse "Verification unavailable"
// @Router /campaigns/{id}/confirm [post]
func (h *CampaignHandlers) confirm(c *gin.Context) {
	p, err := h.participation.ConfirmParticipation(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Claim reward
// @Tags participation
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Campaign ID"
// @Success 201 {object} ledger.Entry
// @Failure 409 {object} middleware.ErrorResponse
// @Router /campaigns/{id}/claim [post]
func (h *CampaignHandlers) claim(c *gin.Context) {
	entry, err := h.ledger.GrantReward(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
