package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"aside/apps/funding/internal/schedule"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DbURL   string
	APIPort int

	MergeTimes    []schedule.TimeOfDay
	MergeLocation *time.Location
	JoinWindow    time.Duration
	CancelCutoff  time.Duration

	ProofDeadline        time.Duration
	ConfirmationDeadline time.Duration
	ExtensionDuration    time.Duration

	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	Currencies []string

	RequireOptIn        bool
	PoolFallbackEnabled bool
	CycleHorizonDays    int
	SweepInterval       time.Duration
	ProofRetentionDays  int

	KafkaBroker string
	KafkaTopic  string
	RedisURL    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ProofLocalDir  string
}

// NewConfig loads configuration from environment variables and exits on invalid input.
func NewConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// Load reads an optional .env file followed by the environment.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		DbURL:   l.getEnvOrError("DB_URL"),
		APIPort: l.getEnvInt("API_PORT", 8080),

		JoinWindow:   l.getEnvDuration("JOIN_WINDOW", 5*time.Minute),
		CancelCutoff: l.getEnvDuration("CANCEL_CUTOFF", 10*time.Minute),

		ProofDeadline:        l.getEnvDuration("PROOF_DEADLINE", 4*time.Hour),
		ConfirmationDeadline: l.getEnvDuration("CONFIRMATION_DEADLINE", 4*time.Hour),
		ExtensionDuration:    l.getEnvDuration("EXTENSION_DURATION", time.Hour),

		MinAmount:  l.getEnvDecimal("MIN_AMOUNT", decimal.NewFromInt(1000)),
		MaxAmount:  l.getEnvDecimal("MAX_AMOUNT", decimal.NewFromInt(10000000)),
		Currencies: l.getEnvList("CURRENCIES", "NAIRA,USDT"),

		RequireOptIn:        l.getEnvBool("REQUIRE_OPT_IN", false),
		PoolFallbackEnabled: l.getEnvBool("POOL_FALLBACK_ENABLED", true),
		CycleHorizonDays:    l.getEnvInt("CYCLE_HORIZON_DAYS", 7),
		SweepInterval:       l.getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ProofRetentionDays:  l.getEnvInt("PROOF_RETENTION_DAYS", 7),

		KafkaBroker: getEnv("KAFKA_BROKER", ""),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "settlement-events"),
		RedisURL:    getEnv("REDIS_URL", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "payment-proofs"),
		MinioUseSSL:    l.getEnvBool("MINIO_USE_SSL", false),
		ProofLocalDir:  getEnv("PROOF_LOCAL_DIR", "uploads/payment_proofs"),
	}

	times, err := schedule.ParseTimes(getEnv("MERGE_TIMES", "09:00,15:00,21:00"))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("MERGE_TIMES: %w", err))
	}
	cfg.MergeTimes = times

	loc, err := time.LoadLocation(getEnv("MERGE_TIMEZONE", "Africa/Lagos"))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("MERGE_TIMEZONE: %w", err))
	}
	cfg.MergeLocation = loc

	if err := cfg.validate(); err != nil {
		l.errs = append(l.errs, err)
	}
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if !c.MinAmount.IsPositive() || c.MaxAmount.LessThan(c.MinAmount) {
		errs = append(errs, fmt.Errorf("amount bounds must satisfy 0 < MIN_AMOUNT <= MAX_AMOUNT"))
	}
	if len(c.Currencies) == 0 {
		errs = append(errs, fmt.Errorf("CURRENCIES must list at least one currency"))
	}
	if c.JoinWindow <= 0 || c.ProofDeadline <= 0 || c.ConfirmationDeadline <= 0 || c.ExtensionDuration <= 0 {
		errs = append(errs, fmt.Errorf("window and deadline durations must be positive"))
	}
	if c.CancelCutoff < 0 {
		errs = append(errs, fmt.Errorf("CANCEL_CUTOFF must not be negative"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive"))
	}
	if c.CycleHorizonDays < 1 || c.ProofRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("CYCLE_HORIZON_DAYS and PROOF_RETENTION_DAYS must be at least 1"))
	}
	return errors.Join(errs...)
}

// Calendar builds the merge window calculator from the schedule settings.
func (c *Config) Calendar() *schedule.Calendar {
	return schedule.NewCalendar(c.MergeLocation, c.MergeTimes, c.JoinWindow, c.CancelCutoff)
}

// SupportsCurrency reports whether currency is configured, ignoring case.
func (c *Config) SupportsCurrency(currency string) (string, bool) {
	for _, cur := range c.Currencies {
		if strings.EqualFold(cur, currency) {
			return cur, true
		}
	}
	return "", false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loader collects every invalid value instead of stopping at the first one.
type loader struct {
	errs []error
}

func (l *loader) getEnvOrError(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	l.errs = append(l.errs, fmt.Errorf("environment variable %s not set", key))
	return ""
}

func (l *loader) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
