package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/techfix/backend/docs"
	"github.com/techfix/backend/internal/database"
	"github.com/techfix/backend/internal/handlers"
	mW "github.com/techfix/backend/internal/middleware"
	"github.com/techfix/backend/internal/processor"
	"github.com/techfix/backend/internal/services"
	"github.com/techfix/backend/internal/sweeper"
)

// @title TechFix Escrow Backend API
// @version 1.0
// @description Escrow payment API for the TechFix technician marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("escrow.holding_window", "ESCROW_HOLDING_WINDOW")
	viper.BindEnv("escrow.sweep_interval", "ESCROW_SWEEP_INTERVAL")
	viper.BindEnv("escrow.operator_role", "ESCROW_OPERATOR_ROLE")
	viper.BindEnv("processor.base_url", "PROCESSOR_BASE_URL")
	viper.BindEnv("processor.api_key", "PROCESSOR_API_KEY")
	viper.BindEnv("processor.webhook_secret", "PROCESSOR_WEBHOOK_SECRET")
	viper.BindEnv("pix.key", "PIX_KEY")
	viper.BindEnv("settlement.institution_bic", "SETTLEMENT_INSTITUTION_BIC")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("escrow.operator_role", "operator")

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "TechFix Escrow Backend API"
	docs.SwaggerInfo.Description = "Escrow payment API for the TechFix technician marketplace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	processorClient := processor.NewClient()

	escrowService := services.NewEscrowService(db, redisClient, processorClient)
	pixService := services.NewPixService(redisClient)
	paymentHandler := handlers.NewPaymentHandler(escrowService, pixService)
	disputeHandler := handlers.NewDisputeHandler(escrowService)
	webhookHandler := handlers.NewWebhookHandler(escrowService)
	sweepHandler := handlers.NewSweepHandler(escrowService)

	operatorRole := viper.GetString("escrow.operator_role")

	// Start the automatic release scheduler
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweeper.New(escrowService).Run(sweepCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Processor webhook (HMAC-verified, no session auth)
		r.Post("/webhooks/processor", webhookHandler.ProcessorEvent)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/payments", paymentHandler.ListTransactions)
			r.Get("/payments/{txId}", paymentHandler.GetTransaction)
			r.Post("/payments", paymentHandler.CreatePayment)
			r.Post("/payments/{txId}/release", paymentHandler.ReleasePayment)
			r.Post("/payments/{txId}/dispute", disputeHandler.OpenDispute)

			// Operator-only endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(operatorRole))

				r.Post("/payments/{txId}/dispute/resolve", disputeHandler.ResolveDispute)
				r.Post("/sweep/run", sweepHandler.RunSweep)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
