package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/app"
	"github.com/pactform/pactform/internal/authenticity"
	"github.com/pactform/pactform/internal/filestore"
	"github.com/pactform/pactform/internal/finalize"
	"github.com/pactform/pactform/internal/hashchain"
	"github.com/pactform/pactform/internal/identity"
	"github.com/pactform/pactform/internal/messaging"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/observability"
	"github.com/pactform/pactform/internal/payment"
	"github.com/pactform/pactform/internal/platform/cache"
	"github.com/pactform/pactform/internal/platform/db"
	"github.com/pactform/pactform/internal/pricing"
	"github.com/pactform/pactform/internal/render"
	"github.com/pactform/pactform/internal/shared"
	"github.com/pactform/pactform/internal/wallet"
	"github.com/pactform/pactform/jobs"
)

// directoryAdapter exposes identity lookups to the agreement service.
type directoryAdapter struct {
	repo *identity.Repository
}

func (d directoryAdapter) ResolvePrincipal(ctx context.Context, ref shared.Ref) (string, error) {
	p, err := d.repo.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	notifier := notify.NewRedisNotifier(redisClient, logger)
	files := filestore.NewDiskStore(cfg.UploadDir, logger)
	chain := hashchain.NewPostgresChain(dbpool)

	var oracle authenticity.Oracle = authenticity.StaticOracle{Verdict: true}
	if cfg.AuthenticityURL != "" {
		oracle = authenticity.NewHTTPOracle(cfg.AuthenticityURL)
	}

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo, redisClient, cfg.TokenTTL)
	authHandler := identity.NewHandler(logger, identityService)

	pricingRepo := pricing.NewRepository(dbpool)
	pricingService := pricing.NewService(pricingRepo)
	pricingHandler := pricing.NewHandler(logger, pricingService)

	walletRepo := wallet.NewRepository(dbpool)
	walletService := wallet.NewService(walletRepo)
	walletHandler := wallet.NewHandler(logger, walletService)

	agreementRepo := agreement.NewRepository(dbpool)
	agreementService := agreement.NewService(agreementRepo, pricingService,
		directoryAdapter{repo: identityRepo}, files, notifier, logger)

	paymentRepo := payment.NewRepository(dbpool)
	paymentService := payment.NewService(paymentRepo, agreementRepo, walletService, notifier)
	paymentHandler := payment.NewHandler(logger, paymentService)

	messageRepo := messaging.NewRepository(dbpool)
	messageService := messaging.NewService(messageRepo, directoryAdapter{repo: identityRepo}, notifier)
	messageHandler := messaging.NewHandler(logger, messageService)

	taskClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()

	renderer := render.NewClient(cfg.GotenbergURL)
	if err := renderer.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}

	pipeline := finalize.NewPipeline(agreementRepo, paymentService, oracle, files,
		renderer, chain, taskClient, logger)
	documentHandler := agreement.NewHandler(logger, agreementService, pipeline, metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Verifier:        identityService,
		AuthHandler:     authHandler,
		DocumentHandler: documentHandler,
		PricingHandler:  pricingHandler,
		PaymentHandler:  paymentHandler,
		WalletHandler:   walletHandler,
		MessageHandler:  messageHandler,
		Chain:           chain,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
