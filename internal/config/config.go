package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config aggregates runtime configuration for the API, admin panel and supporting services.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	PublicListenAddr string `envconfig:"PUBLIC_LISTEN_ADDR" default:":8000"`
	PublicBaseURL    string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8000" validate:"url"`
	AdminListenAddr  string `envconfig:"ADMIN_LISTEN_ADDR" default:":8080"`
	AdminUsername    string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword    string `envconfig:"ADMIN_PASSWORD" validate:"required"`

	MySQLDSN          string `envconfig:"MYSQL_DSN" validate:"required"`
	MySQLMaxOpenConns int    `envconfig:"MYSQL_MAX_OPEN_CONNS" default:"10" validate:"min=1"`
	MySQLMaxIdleConns int    `envconfig:"MYSQL_MAX_IDLE_CONNS" default:"5" validate:"min=0"`

	JWTSecret string        `envconfig:"JWT_SECRET" validate:"required,min=32"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	AIAPIKey         string        `envconfig:"AI_API_KEY" validate:"required"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel          string        `envconfig:"AI_MODEL" default:"gpt-4o-mini" validate:"required"`
	AIRequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"90s"`
	AIMaxTokens      int           `envconfig:"AI_MAX_TOKENS" default:"4000" validate:"min=256"`

	FreeCreditsOnSignup int           `envconfig:"FREE_CREDITS_ON_SIGNUP" default:"2" validate:"min=0"`
	PromptMinLength     int           `envconfig:"PROMPT_MIN_LENGTH" default:"10" validate:"min=1"`
	PendingTimeout      time.Duration `envconfig:"PENDING_TIMEOUT" default:"15m"`
	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`

	PaymentCurrency     string `envconfig:"PAYMENT_CURRENCY" default:"INR"`
	PaymentVerification string `envconfig:"PAYMENT_VERIFICATION" default:"trust" validate:"oneof=trust operator"`
	UPIID               string `envconfig:"UPI_ID" validate:"required"`
	UPIPayeeName        string `envconfig:"UPI_PAYEE_NAME" default:"AI Website Generator"`

	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3Region       string `envconfig:"S3_REGION" validate:"required"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY" validate:"required"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY" validate:"required"`
	S3Bucket       string `envconfig:"S3_BUCKET" validate:"required"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"sites"`

	SESEnabled       bool   `envconfig:"SES_ENABLED" default:"false"`
	SESRegion        string `envconfig:"SES_REGION" validate:"required_if=SESEnabled true"`
	SESFromAddress   string `envconfig:"SES_FROM_ADDRESS" validate:"required_if=SESEnabled true"`
	SESFromName      string `envconfig:"SES_FROM_NAME" default:"AI Website Generator"`
	SESConfigSetName string `envconfig:"SES_CONFIG_SET"`

	TelegramBotToken       string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramOperatorChatID int64  `envconfig:"TELEGRAM_OPERATOR_CHAT_ID" validate:"required_with=TelegramBotToken"`

	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	GenerateRatePerMin int    `envconfig:"GENERATE_RATE_PER_MINUTE" default:"5" validate:"min=1"`
}

// Load reads configuration from the environment (after an optional .env file) and validates it.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	const defaultAIBaseURL = "https://api.openai.com/v1"
	cfg.AIBaseURL = normalizeBaseURL(cfg.AIBaseURL, defaultAIBaseURL)
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.PaymentCurrency = strings.ToUpper(strings.TrimSpace(cfg.PaymentCurrency))
	cfg.PaymentVerification = strings.ToLower(strings.TrimSpace(cfg.PaymentVerification))

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// normalizeBaseURL fills in a missing scheme and strips trailing slashes so endpoint
// paths can be appended safely.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		host, path, _ := strings.Cut(parsed.Path, "/")
		parsed.Host = host
		parsed.Path = ""
		if path != "" {
			parsed.Path = "/" + path
		}
	}

	return strings.TrimRight(parsed.String(), "/")
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Containers pass configuration through the real environment only.
	return nil
}
