package main

import (
	"context"
	"log"
	"time"

	aws_pkg "payment-service/aws"
	"payment-service/config"
	"payment-service/controllers"
	"payment-service/database"
	"payment-service/events"
	"payment-service/gateway"
	"payment-service/models"
	"payment-service/repository"
	"payment-service/routes"
	"payment-service/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[PaymentService] No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[PaymentService] Failed to load config:", err)
	}

	if err := database.Connect(cfg); err != nil {
		log.Fatal("[PaymentService] Failed to connect to DB:", err)
	}
	if err := database.DB.AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.WebhookEvent{}); err != nil {
		log.Fatal("[PaymentService] Failed to migrate models:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("[PaymentService] Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ledger := repository.NewGormOrderLedger(database.DB)
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, logger)

	var snsClient aws_pkg.SNSPublisher
	if cfg.FulfillmentSNSTopicARN != "" {
		awsCfg, err := aws_pkg.LoadAWSConfig(context.Background())
		if err != nil {
			log.Fatal("[PaymentService] Failed to load AWS config:", err)
		}
		snsClient = aws_pkg.NewSNSClient(awsCfg)
	}

	producer := events.NewFulfillmentProducer(cfg.KafkaBrokers, cfg.FulfillmentTopic, snsClient, cfg.FulfillmentSNSTopicARN, logger)
	defer producer.Close()

	orchestrator := services.NewPaymentOrchestrator(
		ledger,
		gatewayClient,
		producer,
		cfg.GatewayKeyID,
		cfg.GatewayKeySecret,
		cfg.MaxOrderAmount,
		logger,
	)
	webhooks := services.NewWebhookProcessor(ledger, producer, cfg.GatewayWebhookSecret, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	pc := controllers.NewPaymentController(orchestrator, webhooks, logger)
	routes.RegisterPaymentRoutes(r, pc)

	logger.Info("Payment service running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("[PaymentService] Server failed:", err)
	}
}
