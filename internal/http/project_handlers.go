package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
)

// ProjectHandlers exposes project management for owners and admins.
type ProjectHandlers struct {
	projects  *projectsvc.Service
	campaigns *campaignsvc.Service
}

func NewProjectHandlers(projects *projectsvc.Service, campaigns *campaignsvc.Service) *ProjectHandlers {
	return &ProjectHandlers{projects: projects, campaigns: campaigns}
}

func (h *ProjectHandlers) Register(r gin.IRouter) {
	g := r.Group("/projects")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/members", h.addMember)
	g.GET("/:id/campaigns", h.listCampaigns)
}

type createProjectRequest struct {
	Name                  string          `json:"name" binding:"required"`
	Description           string          `json:"description" binding:"max=500"`
	Platforms             []user.Platform `json:"platforms" binding:"dive,oneof=x discord telegram"`
	ReminderIntervalHours int             `json:"reminder_interval_hours" binding:"gte=0"`
	DefaultDurationDays   int             `json:"default_duration_days" binding:"gte=0,lte=30"`
}

type memberRequest struct {
	UserID int64   `json:"user_id" binding:"required,gt=0"`
	Role   dp.Role `json:"role" binding:"required,oneof=admin member"`
}

// @Summary List managed projects
// @Tags projects
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} project.Project
// @Router /projects [get]
func (h *ProjectHandlers) list(c *gin.Context) {
	out, err := h.projects.ListManaged(c.Request.Context(), mw.UserID(c))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Create project
// @Description New projects have no active plan until one is purchased.
// @Tags projects
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param body body createProjectRequest true "Project"
// @Success 201 {object} project.Project
// @Failure 400 {object} middleware.ErrorResponse
// @Router /projects [post]
func (h *ProjectHandlers) create(c *gin.Context) {
	var req createProjectRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.projects.Create(c.Request.Context(), mw.UserID(c), projectsvc.CreateInput{
		Name:                  req.Name,
		Description:           req.Description,
		Platforms:             req.Platforms,
		ReminderIntervalHours: req.ReminderIntervalHours,
		DefaultDurationDays:   req.DefaultDurationDays,
	})
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get project
// @Tags projects
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Project ID"
// @Success 200 {object} project.Project
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /projects/{id} [get]
func (h *ProjectHandlers) get(c *gin.Context) {
	p, err := h.projects.GetManaged(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Add project member
// @Description Only the owner may add admins.
// @Tags projects
// @Accept json
// @Security TelegramInitData
// @Param id path string true "Project ID"
// @Param body body memberRequest true "Member"
// @Success 204
// @Failure 403 {object} middleware.ErrorResponse
// @Router /projects/{id}/members [post]
func (h *ProjectHandlers) addMember(c *gin.Context) {
	var req memberRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.projects.AddMember(c.Request.Context(), mw.UserID(c), c.Param("id"), dp.Member{UserID: req.UserID, Role: req.Role})
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List project campaigns
// @Tags projects
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Project ID"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {array} campaign.Campaign
// @Router /projects/{id}/campaigns [get]
func (h *ProjectHandlers) listCampaigns(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	out, err := h.campaigns.ListByProject(c.Request.Context(), mw.UserID(c), c.Param("id"), limit, queryInt(c, "offset", 0))
	if err != nil {
		mw.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
