package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/automation"
	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/database"
	"github.com/waveline/waveline/internal/handlers"
	"github.com/waveline/waveline/internal/lock"
	"github.com/waveline/waveline/internal/middleware"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/internal/preflight"
	"github.com/waveline/waveline/internal/queue"
	"github.com/waveline/waveline/internal/ratelimit"
	"github.com/waveline/waveline/internal/router"
	"github.com/waveline/waveline/internal/scheduler"
	"github.com/waveline/waveline/internal/webhooks"
	"github.com/waveline/waveline/internal/worker"
	"github.com/waveline/waveline/pkg/whatsapp"
)

var (
	configPath = flag.String("config", "config.toml", "Path to config file")
	migrate    = flag.Bool("migrate", false, "Run database migrations")
	seedAdmin  = flag.Bool("seed-admin", false, "Seed the bootstrap admin from WAVELINE_ADMIN_EMAIL/WAVELINE_ADMIN_PASSWORD")
)

func main() {
	flag.Parse()

	// Initialize logger
	lo := logf.New(logf.Opts{
		EnableColor:     true,
		Level:           logf.DebugLevel,
		EnableCaller:    true,
		TimestampFormat: "2006-01-02 15:04:05",
		DefaultFields:   []any{"app", "waveline"},
	})

	lo.Info("Starting Waveline server...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		lo.Fatal("Failed to load config", "error", err)
	}

	// Set log level based on environment
	if cfg.App.Environment == "production" {
		lo = logf.New(logf.Opts{
			Level:           logf.InfoLevel,
			TimestampFormat: "2006-01-02 15:04:05",
			DefaultFields:   []any{"app", "waveline"},
		})
	}

	// Connect to PostgreSQL
	db, err := database.NewPostgres(&cfg.Database, cfg.App.Debug)
	if err != nil {
		lo.Fatal("Failed to connect to database", "error", err)
	}
	lo.Info("Connected to PostgreSQL")

	// Run migrations if requested
	if *migrate {
		lo.Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			lo.Fatal("Failed to run migrations", "error", err)
		}
		if err := database.CreateIndexes(db); err != nil {
			lo.Fatal("Failed to create indexes", "error", err)
		}
		lo.Info("Migrations completed successfully")
	}

	if *seedAdmin {
		if err := seedBootstrapAdmin(db, lo); err != nil {
			lo.Fatal("Failed to seed admin", "error", err)
		}
	}

	// Connect to Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		lo.Fatal("Failed to connect to Redis", "error", err)
	}
	lo.Info("Connected to Redis")

	// Provider client and core services
	waClient := whatsapp.NewWithBaseURL(lo, cfg.WhatsApp.BaseURL)
	locks := lock.New(rdb, lo)
	limiter := ratelimit.New(rdb, cfg, lo)
	validator := preflight.New(db, limiter, cfg, lo)
	publisher := queue.NewPublisher(rdb, lo)
	campaignSvc := campaigns.New(db, rdb, locks, validator, publisher, cfg, lo)
	pipe := pipeline.New(db, waClient, cfg, lo)
	rt := router.New(db, rdb, cfg, lo)
	engine := automation.New(db, pipe, waClient, cfg, lo)
	ingester := webhooks.New(db, rt, campaignSvc, engine, lo)

	// Background execution: job consumer and the scheduled-campaign sweep
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	jobHandler := worker.New(db, campaignSvc, pipe, limiter, publisher, engine, cfg, lo)
	consumer := queue.NewConsumer(rdb, publisher, lo, cfg.Campaigns.WorkerConcurrency, cfg.Campaigns.MaxJobsPerSecond)
	go func() {
		if err := consumer.Run(workerCtx, jobHandler); err != nil && workerCtx.Err() == nil {
			lo.Error("Queue consumer stopped", "error", err)
		}
	}()
	go func() {
		_ = scheduler.New(db, publisher, lo).Run(workerCtx)
	}()

	// Initialize Fastglue
	g := fastglue.NewGlue()

	app := &handlers.App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Log:       lo,
		Campaigns: campaignSvc,
		Pipeline:  pipe,
		Preflight: validator,
		Router:    rt,
		Ingester:  ingester,
		Locks:     locks,
	}

	// Setup middleware
	allowedOrigins := middleware.ParseAllowedOrigins(cfg.Server.AllowedOrigins)
	g.Before(middleware.RequestLogger(lo))
	g.Before(middleware.CORS(allowedOrigins))
	g.Before(middleware.SecurityHeaders())
	g.Before(middleware.Recovery(lo))

	// Setup routes
	setupRoutes(g, app)

	// Create server
	server := &fasthttp.Server{
		Handler:      g.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Name:         "Waveline",
	}

	// Start server in goroutine
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		lo.Info("Server listening", "address", addr)
		if err := server.ListenAndServe(addr); err != nil {
			lo.Fatal("Server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lo.Info("Shutting down server...")
	if err := server.Shutdown(); err != nil {
		lo.Error("Server shutdown error", "error", err)
	}
	stopWorkers()
	app.WaitForBackgroundTasks()
	lo.Info("Server stopped")
}

func setupRoutes(g *fastglue.Fastglue, app *handlers.App) {
	// Health check
	g.GET("/health", app.HealthCheck)
	g.GET("/ready", app.ReadyCheck)

	// Auth routes (public)
	g.POST("/api/auth/login", app.Login)

	// Webhook routes (public - for Meta)
	g.GET("/api/webhook", app.WebhookVerify)
	g.POST("/api/webhook", app.WebhookHandler)

	// For protected routes, we'll use a path-based middleware approach.
	// Apply auth middleware globally but check path in the middleware.
	g.Before(func(r *fastglue.Request) *fastglue.Request {
		path := string(r.RequestCtx.Path())
		// Skip auth for public routes
		if path == "/health" || path == "/ready" ||
			path == "/api/auth/login" || path == "/api/webhook" {
			return r
		}
		// Apply auth for all other /api routes
		if len(path) > 4 && path[:4] == "/api" {
			return middleware.Auth(app.Config.JWT.Secret)(r)
		}
		return r
	})

	g.GET("/api/auth/me", app.Me)

	// Campaigns
	g.GET("/api/campaigns", app.ListCampaigns)
	g.POST("/api/campaigns", app.CreateCampaign)
	g.GET("/api/campaigns/summary", app.GetCampaignSummary)
	g.GET("/api/campaigns/{id}", app.GetCampaign)
	g.PUT("/api/campaigns/{id}", app.UpdateCampaign)
	g.DELETE("/api/campaigns/{id}", app.DeleteCampaign)
	g.POST("/api/campaigns/{id}/start", app.StartCampaign)
	g.POST("/api/campaigns/{id}/pause", app.PauseCampaign)
	g.POST("/api/campaigns/{id}/resume", app.ResumeCampaign)
	g.GET("/api/campaigns/{id}/progress", app.GetCampaignProgress)
	g.GET("/api/campaigns/{id}/messages", app.GetCampaignMessages)
	g.POST("/api/campaigns/{id}/preflight", app.PreflightCampaign)

	// Template sends
	g.POST("/api/messages/template", app.SendTemplateMessage)
	g.POST("/api/messages/template/bulk", app.SendBulkTemplateMessages)
	g.POST("/api/messages/template/preview", app.PreviewTemplateMessage)

	// Templates
	g.GET("/api/templates/sendable", app.ListSendableTemplates)
	g.GET("/api/templates/{id}", app.GetTemplateInfo)

	// Admin
	g.GET("/api/admin/kill-switch", app.GetKillSwitch)
	g.POST("/api/admin/kill-switch", app.SetKillSwitch)
	g.GET("/api/admin/locks", app.ListLocks)
	g.POST("/api/admin/locks/{id}/release", app.ForceReleaseLock)
	g.POST("/api/admin/phones/assign", app.AssignPhone)
	g.POST("/api/admin/phones/unassign", app.UnassignPhone)
	g.POST("/api/admin/workspaces/sync-status", app.SyncWorkspaceStatus)
}

// seedBootstrapAdmin creates the first platform admin (and a workspace
// for it) from environment credentials. A no-op when the user exists.
func seedBootstrapAdmin(db *gorm.DB, lo logf.Logger) error {
	email := os.Getenv("WAVELINE_ADMIN_EMAIL")
	password := os.Getenv("WAVELINE_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("WAVELINE_ADMIN_EMAIL and WAVELINE_ADMIN_PASSWORD must be set")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		lo.Info("Admin already exists, skipping seed", "email", email)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	ws := models.Workspace{Name: "Platform", Plan: models.PlanEnterprise}
	if err := db.Create(&ws).Error; err != nil {
		return err
	}
	user := models.User{
		WorkspaceID:  ws.ID,
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Admin",
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}

	lo.Info("Bootstrap admin seeded", "email", email)
	return nil
}
