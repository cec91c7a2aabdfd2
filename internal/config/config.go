package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	AppURL      string

	OTLPEndpoint string

	DBType            string
	DatabaseURL       string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Stripe    StripeConfig
	RateLimit RateLimitConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// WebhookClaimLease bounds how long an unfinished delivery blocks redeliveries.
	WebhookClaimLease time.Duration
	// Prices maps "<tier>_<interval>" (and "single_project") to a Stripe price id.
	Prices map[string]string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CheckoutRate    float64
	CheckoutBurst   int
	CheckoutLockTTL time.Duration
}

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	PriceKeySingleProject = "single_project"
)

var (
	subscriptionTiers = []string{"starter_team", "team", "unlimited_team"}
	billingIntervals  = []string{"monthly", "yearly"}
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "corates-billing"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       strings.ToLower(strings.TrimSpace(getenv("ENVIRONMENT", EnvDevelopment))),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AppURL:            strings.TrimRight(getenv("APP_URL", "http://localhost:5173"), "/"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "corates"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Stripe: StripeConfig{
			SecretKey:         strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:     strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookClaimLease: time.Duration(getenvInt("STRIPE_WEBHOOK_CLAIM_LEASE_SECONDS", 300)) * time.Second,
			Prices:            loadPrices(),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:       strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword:   strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:         getenvInt("REDIS_DB", 0),
			CheckoutRate:    getenvFloat("RATE_LIMIT_CHECKOUT_RATE", 0.2),
			CheckoutBurst:   getenvInt("RATE_LIMIT_CHECKOUT_BURST", 5),
			CheckoutLockTTL: time.Duration(getenvInt("RATE_LIMIT_CHECKOUT_LOCK_SECONDS", 15)) * time.Second,
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvProduction)
}

// PriceID returns the configured Stripe price for a tier and interval.
func (c Config) PriceID(tier, interval string) (string, bool) {
	key := priceKey(tier, interval)
	if interval == "" {
		key = strings.ToLower(strings.TrimSpace(tier))
	}
	id, ok := c.Stripe.Prices[key]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// PriceTier is the reverse of PriceID. It is used when a webhook carries a price but no tier metadata.
func (c Config) PriceTier(priceID string) (tier string, interval string, ok bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", "", false
	}
	for key, id := range c.Stripe.Prices {
		if id != priceID {
			continue
		}
		if key == PriceKeySingleProject {
			return PriceKeySingleProject, "", true
		}
		for _, iv := range billingIntervals {
			suffix := "_" + iv
			if strings.HasSuffix(key, suffix) {
				return strings.TrimSuffix(key, suffix), iv, true
			}
		}
	}
	return "", "", false
}

func loadPrices() map[string]string {
	prices := make(map[string]string)
	for _, tier := range subscriptionTiers {
		for _, interval := range billingIntervals {
			env := "STRIPE_PRICE_" + strings.ToUpper(tier) + "_" + strings.ToUpper(interval)
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				prices[priceKey(tier, interval)] = v
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("STRIPE_PRICE_SINGLE_PROJECT")); v != "" {
		prices[PriceKeySingleProject] = v
	}
	return prices
}

func priceKey(tier, interval string) string {
	return strings.ToLower(strings.TrimSpace(tier)) + "_" + strings.ToLower(strings.TrimSpace(interval))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
