package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the loaded configuration to the fx graph.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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

	Switch    SwitchConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
}

// RateLimitConfig throttles CDR intake per account when enabled.
type RateLimitConfig struct {
	Enabled        bool
	CDRIntakeRate  float64
	CDRIntakeBurst int
}

// SwitchConfig configures the event-socket connection to the telephony switch.
type SwitchConfig struct {
	Host     string
	Port     string
	Password string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMultiplier  float64
	ReconnectMaxAttempts int
}

// BillingConfig carries rating defaults applied when a subscription has no plan.
type BillingConfig struct {
	// HomeCountryCode is the dialing prefix stripped before call-type
	// classification, e.g. "91".
	HomeCountryCode string
	// DefaultRatePerMinute applies when no rate plan is resolvable.
	DefaultRatePerMinute float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "voxbill"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "voxbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Switch: SwitchConfig{
			Host:                 getenv("SWITCH_HOST", "localhost"),
			Port:                 getenv("SWITCH_PORT", "8021"),
			Password:             getenv("SWITCH_PASSWORD", "ClueCon"),
			ReconnectBaseDelay:   getenvDuration("SWITCH_RECONNECT_BASE_DELAY", 2*time.Second),
			ReconnectMaxDelay:    getenvDuration("SWITCH_RECONNECT_MAX_DELAY", time.Minute),
			ReconnectMultiplier:  getenvFloat("SWITCH_RECONNECT_MULTIPLIER", 2.0),
			ReconnectMaxAttempts: getenvInt("SWITCH_RECONNECT_MAX_ATTEMPTS", 10),
		},
		Billing: BillingConfig{
			HomeCountryCode:      strings.TrimPrefix(getenv("BILLING_HOME_COUNTRY_CODE", "91"), "+"),
			DefaultRatePerMinute: getenvFloat("BILLING_DEFAULT_RATE_PER_MINUTE", 1.0),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			CDRIntakeRate:  getenvFloat("RATE_LIMIT_CDR_INTAKE_RATE", 50),
			CDRIntakeBurst: getenvInt("RATE_LIMIT_CDR_INTAKE_BURST", 100),
		},
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid bool for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("config: invalid float for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid duration for %s: %q", key, raw)
		return fallback
	}
	return value
}
