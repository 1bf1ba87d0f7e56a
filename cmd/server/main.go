package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/SiteGenerator/internal/admin"
	"github.com/digkill/SiteGenerator/internal/ai"
	"github.com/digkill/SiteGenerator/internal/api"
	"github.com/digkill/SiteGenerator/internal/auth"
	"github.com/digkill/SiteGenerator/internal/config"
	"github.com/digkill/SiteGenerator/internal/database"
	"github.com/digkill/SiteGenerator/internal/mailer"
	"github.com/digkill/SiteGenerator/internal/metrics"
	"github.com/digkill/SiteGenerator/internal/ratelimit"
	"github.com/digkill/SiteGenerator/internal/repository"
	"github.com/digkill/SiteGenerator/internal/service"
	"github.com/digkill/SiteGenerator/internal/storage"
	"github.com/digkill/SiteGenerator/internal/telegram"
	"github.com/digkill/SiteGenerator/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	m := metrics.Get()
	clock := service.RealClock{}

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
		Prefix:       cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	otpMailer := newMailer(ctx, cfg, logr)
	notifier := newNotifier(cfg, logr)
	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	quota := service.NewQuotaManager(userRepo, clock)
	planService := service.NewPlanService(cfg, planRepo)
	userService := service.NewUserService(logr, userRepo, service.NewOTPVerifier(userRepo, clock), otpMailer, tokens, m, cfg.FreeCreditsOnSignup)
	generationService := service.NewGenerationService(logr, service.GenerationDeps{
		Tracker:   service.NewTracker(generationRepo, clock),
		Quota:     quota,
		Profiles:  userRepo,
		Sites:     generationRepo,
		Generator: ai.NewClient(cfg, logr),
		Archives:  uploader,
		Clock:     clock,
		Metrics:   m,
	}, cfg.PromptMinLength, cfg.PendingTimeout)
	paymentService := service.NewPaymentService(cfg, logr, service.PaymentDeps{
		Payments: paymentRepo,
		Profiles: userRepo,
		Sites:    generationRepo,
		Plans:    planService,
		Quota:    quota,
		Notifier: notifier,
		Metrics:  m,
		Clock:    clock,
	})
	suggestionService := service.NewSuggestionService(suggestionRepo)

	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	deps := api.Deps{
		Accounts:     userService,
		Sites:        generationService,
		Billing:      paymentService,
		Catalog:      planService,
		Feedback:     suggestionService,
		Tokens:       tokens,
		DB:           db,
		Metrics:      m,
		Log:          logr,
		WriteTimeout: cfg.AIRequestTimeout + 30*time.Second,
	}
	if limiter := newLimiter(cfg, logr); limiter != nil {
		deps.Limiter = limiter
	}
	publicServer := api.NewServer(cfg.PublicListenAddr, deps)
	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr,
		planService, paymentService, generationService, suggestionService, userRepo)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publicServer.Run(gctx) })
	g.Go(func() error { return adminServer.Run(gctx) })
	g.Go(func() error { return sweepLoop(gctx, logr, generationService, cfg.SweepInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}

func sweepLoop(ctx context.Context, logr *slog.Logger, sites *service.GenerationService, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sites.SweepAbandoned(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("sweep abandoned generations", "err", err)
			}
		}
	}
}

func newMailer(ctx context.Context, cfg config.Config, logr *slog.Logger) service.OTPSender {
	if !cfg.SESEnabled {
		logr.Warn("SES disabled, verification codes are written to the log")
		return mailer.NewLogMailer(logr)
	}
	ses, err := mailer.NewSESMailer(ctx, mailer.Config{
		Region:        cfg.SESRegion,
		FromAddress:   cfg.SESFromAddress,
		FromName:      cfg.SESFromName,
		ConfigSetName: cfg.SESConfigSetName,
	}, logr)
	if err != nil {
		log.Fatalf("ses mailer: %v", err)
	}
	return ses
}

func newNotifier(cfg config.Config, logr *slog.Logger) service.PaymentNotifier {
	if cfg.TelegramBotToken == "" {
		return telegram.Noop{}
	}
	n, err := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramOperatorChatID, logr)
	if err != nil {
		logr.Error("telegram notifier disabled", "err", err)
		return telegram.Noop{}
	}
	return n
}

// newLimiter returns nil when Redis is not configured.
func newLimiter(cfg config.Config, logr *slog.Logger) *ratelimit.FixedWindowLimiter {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "sitegen:generate", cfg.GenerateRatePerMin, time.Minute)
	if err != nil {
		logr.Error("rate limiter disabled", "err", err)
		return nil
	}
	return limiter
}
