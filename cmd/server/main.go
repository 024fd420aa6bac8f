package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"senderos_booking/internal/config"
	"senderos_booking/internal/handlers"
	"senderos_booking/internal/middleware"
	"senderos_booking/internal/repository"
	"senderos_booking/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional; without it the bank list is fetched every time
	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
		}
	}

	// Payment gateway
	wompi := services.NewWompiService(services.WompiConfig{
		BaseURL:         cfg.WompiBaseURL,
		PublicKey:       cfg.WompiPublicKey,
		PrivateKey:      cfg.WompiPrivateKey,
		IntegritySecret: cfg.WompiIntegritySecret,
		TokenTTL:        time.Duration(cfg.WompiTokenTTLMinutes) * time.Minute,
		RequestTimeout:  time.Duration(cfg.WompiTimeoutSeconds) * time.Second,
	})

	// Repositories and services
	routeRepo := repository.NewRouteRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	paymentService := services.NewPaymentService(routeRepo, paymentRepo, wompi, cache)

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	routeHandler := handlers.NewRouteHandler(routeRepo)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Validator = handlers.NewRequestValidator()
	e.HTTPErrorHandler = middleware.HTTPErrorHandler

	// Gateway-facing webhook sink, no auth
	e.POST("/webhooks/wompi", paymentHandler.ReceiveWompiWebhook)

	// Authenticated API
	api := e.Group("/api", middleware.RequireAuth(cfg.JWTSecret))

	api.GET("/routes", routeHandler.ListRoutes)
	api.GET("/routes/:id", routeHandler.GetRoute)
	api.GET("/routes/:id/availability", routeHandler.GetAvailability)

	api.POST("/payments", paymentHandler.ProcessPayment)
	api.GET("/payments", paymentHandler.ListMyPayments)
	api.GET("/payments/:id/status", paymentHandler.GetPaymentStatus)
	api.GET("/payments/financial-institutions", paymentHandler.ListFinancialInstitutions)

	log.Printf("Server starting on port %s", cfg.Port)
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
