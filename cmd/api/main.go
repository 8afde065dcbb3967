package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/crypto/bcrypt"

	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/filepolicy"
	"github.com/docuflow/backend/internal/handlers"
	"github.com/docuflow/backend/internal/middleware"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/services"
	"github.com/docuflow/backend/internal/storage"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user if not exists
	seedAdminUser()

	// Object storage broker for presigned URLs
	broker, err := storage.NewBroker(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	// Start daily link expiry sweep
	emailService := services.NewEmailService(cfg)
	expiryService := services.NewLinkExpiryService(emailService, cfg.ExpirySweepHour)
	expiryService.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "DocuFlow API v1.0",
		ServerHeader: "DocuFlow",
		BodyLimit:    int(filepolicy.MaxFileSize),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "docuflow-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg)
	uploadLinkHandler := handlers.NewUploadLinkHandler(cfg, broker)
	intakeHandler := handlers.NewIntakeHandler(cfg, broker)
	clientHandler := handlers.NewClientHandler()

	// API routes
	api := app.Group("/api")

	// Apply rate limiting to API routes (100 requests per minute by default)
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Public routes
	api.Post("/auth/login", authHandler.Login)

	// Public intake surface, authenticated by the link token
	intakeRoutes := api.Group("/intake", middleware.LinkAuth(cfg))
	intakeRoutes.Get("/verify", intakeHandler.Verify)
	intakeRoutes.Post("/presigned-url", intakeHandler.PresignedURL)
	intakeRoutes.Patch("/uploads/:id/metadata", intakeHandler.UpdateMetadata)
	intakeRoutes.Post("/complete", intakeHandler.Complete)

	// Protected admin routes
	protected := api.Group("", middleware.AuthRequired(cfg))

	// Auth routes
	protected.Get("/auth/me", authHandler.Me)

	// Upload link routes
	uploadLinks := protected.Group("/upload-links")
	uploadLinks.Get("/", uploadLinkHandler.List)
	uploadLinks.Get("/:id", uploadLinkHandler.Get)
	uploadLinks.Post("/", uploadLinkHandler.Create)
	uploadLinks.Post("/:id/deactivate", uploadLinkHandler.Deactivate)

	// Document type reference table
	protected.Get("/document-types", uploadLinkHandler.ListDocumentTypes)

	// Upload download (presigned GET)
	protected.Get("/uploads/:id/download", uploadLinkHandler.Download)

	// Client routes
	clients := protected.Group("/clients")
	clients.Get("/", clientHandler.List)
	clients.Post("/", clientHandler.Create)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		expiryService.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting DocuFlow API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedAdminUser() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)

	if count == 0 {
		log.Println("Creating default admin user...")

		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)

		admin := models.User{
			Username: "admin",
			Password: string(hashedPassword),
			Email:    "admin@docuflow.local",
			FullName: "System Administrator",
			IsActive: true,
		}

		if err := database.DB.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created successfully (username: admin, password: admin123)")
		}
	}
}
