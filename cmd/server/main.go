package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/open-builders/campaign-bot/internal/bot"
	rcache "github.com/open-builders/campaign-bot/internal/cache/redis"
	"github.com/open-builders/campaign-bot/internal/common/logger"
	"github.com/open-builders/campaign-bot/internal/config"
	dc "github.com/open-builders/campaign-bot/internal/domain/campaign"
	dl "github.com/open-builders/campaign-bot/internal/domain/ledger"
	dp "github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
	apphttp "github.com/open-builders/campaign-bot/internal/http"
	"github.com/open-builders/campaign-bot/internal/platform/db"
	"github.com/open-builders/campaign-bot/internal/platform/discord"
	redisplatform "github.com/open-builders/campaign-bot/internal/platform/redis"
	stripeplatform "github.com/open-builders/campaign-bot/internal/platform/stripe"
	"github.com/open-builders/campaign-bot/internal/platform/telegram"
	"github.com/open-builders/campaign-bot/internal/platform/xapi"
	"github.com/open-builders/campaign-bot/internal/repository/memory"
	pgrepo "github.com/open-builders/campaign-bot/internal/repository/postgres"
	campaignsvc "github.com/open-builders/campaign-bot/internal/service/campaign"
	ledgersvc "github.com/open-builders/campaign-bot/internal/service/ledger"
	"github.com/open-builders/campaign-bot/internal/service/notifications"
	"github.com/open-builders/campaign-bot/internal/service/participation"
	"github.com/open-builders/campaign-bot/internal/service/payments"
	projectsvc "github.com/open-builders/campaign-bot/internal/service/project"
	usersvc "github.com/open-builders/campaign-bot/internal/service/user"
	"github.com/open-builders/campaign-bot/internal/service/verification"
	"github.com/open-builders/campaign-bot/internal/service/wizard"
	"github.com/open-builders/campaign-bot/internal/workers"
)

// @title           Campaign Bot API
// @version         1.0
// @description     Dashboard API for the campaign bot. All /api/v1 endpoints require Telegram init-data.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey TelegramInitData
// @in header
// @name X-Telegram-Init-Data
// @description Telegram Mini App init_data string for authentication

// @tag.name campaigns
// @tag.description Campaign creation, lookup and status changes

// @tag.name participation
// @tag.description Join, engagement confirmation and reward claims

// @tag.name ledger
// @tag.description Balances, history and cashouts

const userCacheTTL = 5 * time.Minute

type storage struct {
	users     user.Repository
	projects  dp.Repository
	campaigns dc.Repository
	ledger    dl.Repository
	probe     func(ctx context.Context) error
	close     func() error
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		m := memory.NewStore()
		return &storage{
			users: m.Users(), projects: m.Projects(), campaigns: m.Campaigns(), ledger: m.Ledger(),
			probe: func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil
	}

	pg, err := db.Open(ctx, cfg.Postgres.DSN, db.Pool{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.AutoMigrate {
		if err := pgrepo.Migrate(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, err
		}
		log.Info().Msg("database schema applied")
	}
	return &storage{
		users:     pgrepo.NewUserRepository(pg),
		projects:  pgrepo.NewProjectRepository(pg),
		campaigns: pgrepo.NewCampaignRepository(pg),
		ledger:    pgrepo.NewLedgerRepository(pg),
		probe:     pg.PingContext,
		close:     pg.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	logger.Init("campaign-bot", cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("storage open")
	}
	defer store.close()

	rdb, err := redisplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("redis open")
	}
	defer rdb.Close()

	tg, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram bot")
	}
	log.Info().Str("bot", tg.Username()).Msg("telegram bot authorized")

	notifier := notifications.NewService(tg, cfg.Server.Origin)
	users := usersvc.NewService(store.users, rcache.NewUserCache(rdb, userCacheTTL))
	projects := projectsvc.NewService(store.projects)
	campaigns := campaignsvc.NewService(store.campaigns, store.projects, notifier)

	x := xapi.NewClient(cfg.X.BaseURL, cfg.X.BearerToken, cfg.X.RPS, cfg.X.Burst)
	inbox := verification.NewInbox(rdb)
	checkers := map[user.Platform]verification.ChallengeChecker{
		user.PlatformX:        x,
		user.PlatformTelegram: inbox,
	}
	if cfg.Discord.BotToken != "" {
		checkers[user.PlatformDiscord] = discord.NewClient(cfg.Discord.BaseURL, cfg.Discord.BotToken, cfg.Discord.VerificationChannelID)
	} else {
		log.Warn().Msg("DISCORD_BOT_TOKEN not set; discord verification disabled")
	}
	verifier := verification.NewService(store.users, checkers, rdb, notifier, users)
	engine := participation.NewService(store.campaigns, store.users, x)
	ledger := ledgersvc.NewService(store.ledger, store.users, store.campaigns, notifier, users, ledgersvc.Rates{
		PremiumMultiplierPercent: cfg.Rewards.PremiumMultiplierPercent,
		ReferralBonusPercent:     cfg.Rewards.ReferralBonusPercent,
		MinCashoutCredits:        cfg.Rewards.MinCashoutCredits,
		CommissionPercent:        cfg.Rewards.CommissionPercent,
		CreditsPerUSD:            cfg.Rewards.CreditsPerUSD,
	})

	var provider payments.Provider
	if cfg.Stripe.SecretKey != "" {
		provider = stripeplatform.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; payments disabled")
	}
	paymentsSvc := payments.NewService(provider, rdb, cfg.Workers.PaymentsStream, users, projects, notifier, payments.Catalog{
		PremiumPrice:  cfg.Stripe.PremiumPrice,
		PremiumPeriod: cfg.Stripe.PremiumPeriod,
		PlanPrices:    cfg.Stripe.PlanPrices,
		PlanQuotas:    cfg.Stripe.PlanQuotas,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})

	wiz := wizard.NewService(wizard.NewSessionStore(rdb, cfg.Wizard.SessionTTL), projects, campaigns)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := logger.Component(name)
			l.Info().Msg("started")
			fn(ctx)
			l.Info().Msg("stopped")
		}()
	}

	sweeper := workers.NewSweeper(rdb, verifier, campaigns, cfg.Workers.SweepInterval, cfg.Workers.SweepLockTTL)
	run("sweeper", sweeper.Start)
	paymentWorker := workers.NewRedisStreamWorker(rdb, paymentsSvc, workers.StreamConfig{
		Stream:   cfg.Workers.PaymentsStream,
		Group:    cfg.Workers.PaymentsGroup,
		Consumer: cfg.Workers.PaymentsWorker,
	})
	run("payments", paymentWorker.Start)

	handler := bot.NewHandler(tg, bot.Deps{
		Users:         users,
		Verification:  verifier,
		Inbox:         inbox,
		Wizard:        wiz,
		Campaigns:     campaigns,
		Participation: engine,
		Ledger:        ledger,
	}, tg.Username())
	updates := tg.Updates(60)
	run("bot", func(ctx context.Context) { handler.Run(ctx, updates) })

	app := apphttp.NewApp(cfg, rdb, apphttp.Services{
		Users:         users,
		Verification:  verifier,
		Projects:      projects,
		Campaigns:     campaigns,
		Participation: engine,
		Ledger:        ledger,
		Payments:      paymentsSvc,
		Probes: map[string]func(context.Context) error{
			"storage": store.probe,
			"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	tg.Bot().StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("server exited")
}

