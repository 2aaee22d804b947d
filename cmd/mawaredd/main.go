package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/api"
	"mawared-attendance-backend/internal/attendance"
	"mawared-attendance-backend/internal/credential"
	"mawared-attendance-backend/internal/db"
	"mawared-attendance-backend/internal/gate"
	"mawared-attendance-backend/internal/logger"
	"mawared-attendance-backend/internal/mawared"
	"mawared-attendance-backend/internal/metrics"
	"mawared-attendance-backend/internal/notification"
	"mawared-attendance-backend/internal/schedule"
	"mawared-attendance-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Configuration loaded", zap.String("path", configPath))

	if err := run(cfg, log); err != nil {
		log.Fatal("Service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Database initialized", zap.Bool("sqlite", db.IsSQLite(cfg.Database.DSN)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, cfg.Auto.NoticeRetention)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(reg)

	// Notification channels
	var senders []notification.Sender
	if cfg.Telegram.Configured() {
		senders = append(senders, notification.NewTelegramSender(cfg.Telegram))
	} else {
		log.Warn("Telegram is not configured, notices go to web push only")
	}
	var webpushOptions *webpush.Options
	if cfg.Push.Configured() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		senders = append(senders, notification.NewWebPushSender(gormDB, webpushOptions, log))
	}
	pool := notification.NewWorkerPool(cfg.Notification.Workers, cfg.Notification.QueueSize, log, senders...)
	pool.Start(ctx)

	resolver := credential.NewResolver(cfg.Credential, log)
	client := mawared.NewClient(cfg.API, log)
	service := attendance.NewService(client, appStore, cfg.API, cfg.Auto.Location, nil, log)

	generator, err := schedule.NewGenerator(cfg.Auto, nil)
	if err != nil {
		return fmt.Errorf("invalid auto configuration: %w", err)
	}
	automation := gate.New(gate.Deps{
		Store:       appStore,
		Generator:   generator,
		Credentials: resolver,
		Submitter:   service,
		Notifier:    pool,
		Metrics:     recorder,
		Logger:      log,
	}, gate.Options{
		AutoDefault:   cfg.Auto.Enabled,
		Lease:         cfg.Auto.Lease,
		SubmitTimeout: cfg.API.Timeout,
	})

	bootstrapEmployee(ctx, resolver, service, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(api.Deps{
		Store:       appStore,
		Automation:  automation,
		Credentials: resolver,
		Employees:   service,
		Notifier:    pool,
		Config:      cfg,
		WebPush:     webpushOptions,
		Gatherer:    reg,
		Logger:      log,
	}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("Shutdown signal received, stopping services")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	cancel()
	pool.Wait()
	log.Info("Server gracefully stopped")
	return nil
}

// bootstrapEmployee loads the employee identity at startup when a credential
// is already present. Failures are logged; the first action retries it.
func bootstrapEmployee(ctx context.Context, resolver *credential.Resolver, service *attendance.Service, log *zap.Logger) {
	cred, err := resolver.Resolve()
	if err != nil {
		log.Warn("No credential at startup", zap.Error(err))
		return
	}
	log.Info("Credential found at startup", zap.String("source", string(cred.Source)), zap.String("credential", cred.Masked()))

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := service.EnsureEmployee(initCtx, cred.Value); err != nil {
		log.Warn("Employee bootstrap at startup failed", zap.Error(err))
	}
}
