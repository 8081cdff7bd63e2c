package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/handlers"
	"github.com/guildgate/backend/internal/middleware"
	"github.com/guildgate/backend/internal/models"
	"github.com/guildgate/backend/internal/services"
	"github.com/guildgate/backend/internal/signature"
	"github.com/guildgate/backend/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Interaction signature verifier
	verifier, err := signature.New(cfg.DiscordPublicKey, cfg.SignatureMaxSkew, time.Now)
	if err != nil {
		log.Fatalf("Failed to initialize signature verifier: %v", err)
	}

	// Session and cooldown storage
	redisStore := store.NewRedisStore(redisClient, cfg.RateLimitRecordTTL)

	// Initialize services
	authService := services.NewAuthService(db, redisClient, cfg)
	guildService := services.NewGuildService(db, cfg)
	suppressionService := services.NewSuppressionService(db)
	emailService := services.NewEmailService(cfg)
	roleService := services.NewRoleService(cfg)
	auditService := services.NewAuditService(db)
	qrService := services.NewQRService(cfg)
	verificationService := services.NewVerificationService(
		redisStore, redisStore, guildService, suppressionService, emailService, cfg)

	var backupService *services.BackupService
	if cfg.BackupEnabled {
		s3Service, err := services.NewS3Service(cfg)
		if err != nil {
			log.Fatalf("Failed to init S3 service: %v", err)
		}
		backupService = services.NewBackupService(auditService, cfg, s3Service)
	}

	// Create admin user if not exists
	if err := authService.CreateDefaultAdmin(); err != nil {
		log.Printf("Failed to create default admin: %v", err)
	}

	// Nightly audit export
	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if backupService != nil {
		go backupService.RunDaily(rootCtx)
	}

	// Periodic cleanup of expired refresh tokens
	go func() {
		for {
			if err := authService.CleanupExpiredTokens(); err != nil {
				log.Printf("Refresh token cleanup error: %v", err)
			}
			select {
			case <-rootCtx.Done():
				return
			case <-time.After(time.Hour):
			}
		}
	}()

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))

	// Initialize handlers
	interactionHandler := handlers.NewInteractionHandler(verifier, verificationService, roleService, auditService)
	emailEventsHandler := handlers.NewEmailEventsHandler(suppressionService, auditService, cfg)
	authHandler := handlers.NewAuthHandler(authService)
	adminHandler := handlers.NewAdminHandler(guildService, suppressionService, auditService, backupService, qrService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Webhook endpoints authenticate themselves (signature / shared
	// secret), so they sit outside the admin rate limiter
	router.POST("/interactions", interactionHandler.HandleInteraction)
	router.POST("/email/events", emailEventsHandler.HandleWebhook)

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimiter(redisClient, cfg))
	{
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(authService))
		{
			// Guild configuration
			admin.GET("/guilds", adminHandler.ListGuilds)
			admin.PUT("/guilds", adminHandler.UpsertGuild)
			admin.GET("/guilds/:guildId", adminHandler.GetGuild)
			admin.DELETE("/guilds/:guildId", adminHandler.DeleteGuild)
			admin.GET("/guilds/:guildId/qr.pdf", adminHandler.DownloadGuildQR)

			// Suppression list
			admin.GET("/suppressed", adminHandler.ListSuppressed)
			admin.POST("/suppressed", adminHandler.AddSuppressed)
			admin.DELETE("/suppressed", adminHandler.RemoveSuppressed)

			// Audit trail
			admin.GET("/audit/logs", adminHandler.ListAuditEvents)
			admin.GET("/audit/stats", adminHandler.GetAuditStats)

			// Audit export management
			admin.GET("/backups", adminHandler.ListBackups)
			admin.POST("/backups/export", adminHandler.TriggerBackup)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
