package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Config is read once at process start and treated as immutable. Gateway
// credentials are injected into the client and verifier constructors rather
// than looked up ambiently, so tests can run with fake secrets.
type Config struct {
	Port             string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	GatewayBaseURL       string
	GatewayKeyID         string
	GatewayKeySecret     string
	GatewayWebhookSecret string
	MaxOrderAmount       decimal.Decimal // major units

	KafkaBrokers           []string
	FulfillmentTopic       string
	FulfillmentSNSTopicARN string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8087"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.gateway.example.com"),
		GatewayKeyID:         os.Getenv("GATEWAY_KEY_ID"),
		GatewayKeySecret:     os.Getenv("GATEWAY_KEY_SECRET"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),

		KafkaBrokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		FulfillmentTopic:       getEnv("FULFILLMENT_TOPIC", "order-fulfillment"),
		FulfillmentSNSTopicARN: os.Getenv("FULFILLMENT_SNS_TOPIC_ARN"),
	}

	maxAmount := getEnv("MAX_ORDER_AMOUNT", "1000000")
	parsed, err := decimal.NewFromString(maxAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ORDER_AMOUNT %q: %w", maxAmount, err)
	}
	cfg.MaxOrderAmount = parsed

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" || cfg.PostgresHost == "" ||
		cfg.GatewayKeyID == "" || cfg.GatewayKeySecret == "" || cfg.GatewayWebhookSecret == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
