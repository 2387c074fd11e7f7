package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/djcrm/crm/internal/config"
	"github.com/djcrm/crm/internal/database"
	"github.com/djcrm/crm/internal/handlers"
	"github.com/djcrm/crm/internal/mail"
	"github.com/djcrm/crm/internal/middleware"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	mailer, err := mail.New(context.Background(), cfg.Mail)
	if err != nil {
		log.Fatalf("mailer initialization failed: %v", err)
	}

	auditService := services.NewAuditService(db, cfg.Audit.QueueSize)
	visibilityService := services.NewVisibilityService(db)

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.CORSOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	handlers.Register(app, handlers.Dependencies{
		DB:         db,
		Storage:    storageClient,
		Visibility: visibilityService,
		Users:      services.NewUserService(db, visibilityService, mailer),
		Tiers:      services.NewTierService(db),
		CaseFields: services.NewCaseFieldService(db),
		Audit:      auditService,
		URLExpiry:  cfg.MinIO.URLExpiry,
	})

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":         cfg.Server.Port,
		"address":      listenAddr,
		"body_limit":   fmt.Sprintf("%dMB", cfg.Server.BodyLimitMB),
		"mail_enabled": cfg.Mail.Enabled,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	auditService.Close()
}
