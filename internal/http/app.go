package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/open-builders/campaign-bot/internal/config"
	mw "github.com/open-builders/campaign-bot/internal/http/middleware"
	redisp "github.com/open-builders/campaign-bot/internal/platform/redis"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/participation"
	"github.com/open-builders/campaign-bot/internal/service/payments"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"

	_ "github.com/open-builders/campaign-bot/docs"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Users         *usersvc.Service
	Verification  *verification.Service
	Projects      *projectsvc.Service
	Campaigns     *campaignsvc.Service
	Participation *participation.Service
	Ledger        *ledgersvc.Service
	Payments      *payments.Service
	// Probes are readiness checks keyed by dependency name.
	Probes map[string]func(ctx context.Context) error
}

// NewApp builds the gin engine with routes and middlewares wired.
func NewApp(cfg *config.Config, rdb *redisp.Client, svc Services) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.RequestID(), mw.Logger(), mw.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.Server.Origin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Telegram-Init-Data"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "X-Cache"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC(), "service": "campaign-bot"})
	})
	r.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ready", readiness(svc.Probes))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if svc.Payments != nil {
		NewWebhookHandlers(svc.Payments).Register(r.Group("/webhooks"))
	}

	api := r.Group("/api/v1")
	api.Use(mw.InitData(cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL))

	NewUserHandlers(svc.Users, svc.Verification).Register(api)
	NewProjectHandlers(svc.Projects, svc.Campaigns).Register(api)
	NewCampaignHandlers(svc.Campaigns, svc.Participation, svc.Ledger, rdb).Register(api)
	NewLedgerHandlers(svc.Ledger, cfg.IsAdmin).Register(api)
	if svc.Payments != nil {
		NewPaymentHandlers(svc.Payments).Register(api)
	}
	return r
}

func readiness(probes map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready", "error": name + " unavailable", "details": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now().UTC()})
	}
}
