package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DBType            string
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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway Gateway
	Points  Points

	WebhookRate  float64
	WebhookBurst int
}

// Gateway configures the external payment gateway client.
type Gateway struct {
	BaseURL        string
	APISecret      string
	TimeoutSeconds int
}

// Points configures point accrual and membership evaluation.
type Points struct {
	// EarnRate is the fraction of the paid amount accrued as points.
	EarnRate decimal.Decimal
	// VIPThreshold and VVIPThreshold are cumulative paid-amount tier bounds.
	VIPThreshold  decimal.Decimal
	VVIPThreshold decimal.Decimal
}

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	earnRate, err := getenvDecimal("POINT_EARN_RATE", "0.01")
	if err != nil {
		return Config{}, err
	}
	vip, err := getenvDecimal("MEMBERSHIP_VIP_THRESHOLD", "100000")
	if err != nil {
		return Config{}, err
	}
	vvip, err := getenvDecimal("MEMBERSHIP_VVIP_THRESHOLD", "150000")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "payments"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payments"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 4),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 32),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Gateway: Gateway{
			BaseURL:        strings.TrimRight(getenv("GATEWAY_API_URL", "https://api.portone.io"), "/"),
			APISecret:      strings.TrimSpace(getenv("GATEWAY_API_SECRET", "")),
			TimeoutSeconds: getenvInt("GATEWAY_TIMEOUT_SECONDS", 10),
		},
		Points: Points{
			EarnRate:      earnRate,
			VIPThreshold:  vip,
			VVIPThreshold: vvip,
		},

		WebhookRate:  getenvFloat("WEBHOOK_RATE_PER_SECOND", 20),
		WebhookBurst: getenvInt("WEBHOOK_BURST", 40),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Points.EarnRate.IsNegative() || c.Points.EarnRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("POINT_EARN_RATE must be within [0, 1], got %s", c.Points.EarnRate)
	}
	if c.Points.VIPThreshold.IsNegative() {
		return fmt.Errorf("MEMBERSHIP_VIP_THRESHOLD must not be negative")
	}
	if !c.Points.VVIPThreshold.GreaterThan(c.Points.VIPThreshold) {
		return fmt.Errorf("MEMBERSHIP_VVIP_THRESHOLD (%s) must exceed MEMBERSHIP_VIP_THRESHOLD (%s)",
			c.Points.VVIPThreshold, c.Points.VIPThreshold)
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT_SECONDS must be positive")
	}
	return ValidateMethodTable()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDecimal(key, def string) (decimal.Decimal, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		value = def
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)
