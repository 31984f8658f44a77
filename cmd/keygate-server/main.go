// Package main is the entrypoint for the keygate server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/keygate/internal/api"
	"github.com/MacJediWizard/keygate/internal/audit"
	"github.com/MacJediWizard/keygate/internal/auth"
	"github.com/MacJediWizard/keygate/internal/billing"
	"github.com/MacJediWizard/keygate/internal/cache"
	"github.com/MacJediWizard/keygate/internal/config"
	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/MacJediWizard/keygate/internal/db"
	"github.com/MacJediWizard/keygate/internal/httpclient"
	"github.com/MacJediWizard/keygate/internal/jobs"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/maintenance"
	"github.com/MacJediWizard/keygate/internal/metrics"
	"github.com/MacJediWizard/keygate/internal/shutdown"
	"github.com/MacJediWizard/keygate/internal/updates"
	"github.com/MacJediWizard/keygate/internal/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting keygate server")

	// Load configuration
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	applied, err := database.Migrate(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}
	logger.Info().Int("applied", applied).Msg("Database migrations complete")

	// Initialize crypto key manager
	masterKey, err := crypto.ParseMasterKey(cfg.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to decode ENCRYPTION_KEY")
		return 1
	}
	keyManager, err := crypto.NewKeyManager(masterKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize key manager")
		return 1
	}
	appKey := []byte(cfg.AppKey)

	// Optional redis for shared rate limit counters
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to redis")
			return 1
		}
		defer redisClient.Close()
		logger.Info().Msg("Redis connected; rate limits are shared")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}
	if err := registry.Register(metrics.NewInventoryCollector(database, logger)); err != nil {
		logger.Error().Err(err).Msg("Failed to register inventory collector")
		return 1
	}

	// Background task runner for webhook deliveries
	runnerCfg := jobs.DefaultConfig()
	runnerCfg.Workers = cfg.WebhookWorkers
	runnerCfg.TaskTimeout = cfg.WebhookTimeout + 5*time.Second
	runner := jobs.NewRunner(runnerCfg, logger)
	if err := runner.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start task runner")
		return 1
	}
	defer runner.Stop()

	webhookClient, err := httpclient.New(httpclient.Options{
		Timeout:     cfg.WebhookTimeout,
		ProxyConfig: &cfg.Proxy,
		UserAgent:   "keygate-webhooks/" + Version,
		NoRedirects: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create webhook HTTP client")
		return 1
	}
	if cfg.Proxy.HasProxy() {
		logger.Info().Str("proxy", httpclient.ProxyInfo(&cfg.Proxy)).Msg("Outbound proxy configured")
	}

	dispatcherCfg := webhooks.DefaultConfig()
	dispatcherCfg.MaxAttempts = cfg.WebhookMaxAttempts
	dispatcherCfg.Backoff = cfg.WebhookBackoff
	dispatcher := webhooks.NewDispatcher(database, keyManager, runner, webhookClient, dispatcherCfg, logger)
	dispatcher.SetObserver(m)

	// License core
	recorder := audit.NewRecorder(database, logger)
	pool := license.NewPool(database, license.ParseDevDomainPolicy(cfg.DevDomainPolicy))
	licenses := license.NewService(database, pool, recorder, dispatcher, logger)

	// Billing
	ledger := billing.NewLedger(database)
	processor := billing.NewProcessor(ledger, database, licenses, dispatcher, logger)
	processor.SetObserver(m)
	stripeVerifier := billing.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.SignatureTolerance)
	if cfg.StripeWebhookSecret == "" {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; billing webhooks will be rejected")
	}

	// Updates and downloads
	signer, err := updates.NewURLSigner(appKey, cfg.PublicURL, cfg.DownloadURLTTL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize download URL signer")
		return 1
	}
	var presigner updates.ArtifactPresigner
	if cfg.ReleasesBucket != "" {
		s3Presigner, err := updates.NewS3Presigner(ctx, updates.S3Config{
			Bucket:          cfg.ReleasesBucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize release storage")
			return 1
		}
		presigner = s3Presigner
	} else {
		logger.Warn().Msg("RELEASES_BUCKET not set; downloads are disabled")
	}
	checker := updates.NewChecker(database, licenses, signer, presigner, 0, logger)

	// Maintenance jobs
	maintCfg := maintenance.DefaultConfig()
	maintCfg.EventRetentionDays = cfg.EventRetentionDays
	maintCfg.WebhookLogRetentionDays = cfg.WebhookLogRetentionDays
	maintCfg.ExpirySweepEnabled = cfg.ExpirySweepEnabled
	retention := maintenance.NewRetention(ledger, database, maintCfg, logger)
	sweeper := maintenance.NewExpirySweeper(database, licenses, maintCfg.ExpirySweepBatchSize, logger)
	scheduler := maintenance.NewScheduler(maintCfg, retention, sweeper, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start maintenance scheduler")
		return 1
	}
	defer scheduler.Stop()

	shutdownMgr := shutdown.NewManager(shutdown.DefaultConfig(), logger)

	// HTTP API
	routerCfg := api.DefaultConfig()
	routerCfg.AdminToken = cfg.AdminToken
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate

	router, err := api.NewRouter(routerCfg, database, api.Services{
		Licenses:       licenses,
		Updates:        checker,
		BillingParser:  stripeVerifier,
		Billing:        processor,
		Redeliverer:    dispatcher,
		Auditor:        recorder,
		Encrypter:      keyManager,
		PluginVerifier: auth.NewPluginVerifier(cfg.SignatureTolerance, cfg.SignatureRequired()),
		SigningSecrets: auth.NewLicenseSecrets(database, keyManager, appKey),
		Metrics:        m,
		Gatherer:       registry,
		Redis:          redisClient,
		Shutdown:       shutdownMgr,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create router")
		return 1
	}
	if cfg.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN not set; admin API is disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("env", string(cfg.Environment)).
			Str("signature_mode", cfg.PluginSignatureMode).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Resume deliveries interrupted by the last shutdown
	resumed, err := dispatcher.Resume(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resume pending webhook deliveries")
	} else if resumed > 0 {
		logger.Info().Int("count", resumed).Msg("Resumed pending webhook deliveries")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server failed")
		exitCode = 1
	}

	// Graceful shutdown: fail health checks, stop taking requests, then stop
	// background work so in-flight deliveries record their outcome.
	shutdownMgr.Register("http_server", srv.Shutdown)
	shutdownMgr.Register("maintenance_scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdownMgr.Register("task_runner", func(context.Context) error {
		runner.Stop()
		return nil
	})

	if err := shutdownMgr.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return exitCode
}
