// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Supabase SupabaseConfig
	Solana   SolanaConfig
	Redis    RedisConfig
	Circle   CircleConfig
	Wise     WiseConfig
	Jupiter  JupiterConfig
	Gemini   GeminiConfig
	OpenAI   OpenAIConfig
	Auth     AuthConfig

	// DemoMode auto-confirms payments and simulates BRL payouts.
	DemoMode bool `env:"DEMO_MODE,default=false"`
}

type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=10s"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=json"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=solpos"`
}

// DatabaseConfig selects the persistence backend: memory, postgres or supabase.
type DatabaseConfig struct {
	Backend        string `env:"STORE_BACKEND,default=memory"`
	DSN            string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE,default=false"`
	MaxOpenConns   int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	ServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret  string `env:"SUPABASE_JWT_SECRET"`
	// Realtime forwards invoice row changes made by other writers.
	Realtime   bool   `env:"SUPABASE_REALTIME,default=false"`
	LogoBucket string `env:"SUPABASE_LOGO_BUCKET,default=merchant-logos"`
}

// Enabled reports whether the project URL and service key are both set.
func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.ServiceKey != ""
}

type SolanaConfig struct {
	RPCURL            string        `env:"SOLANA_RPC_URL,default=https://api.devnet.solana.com"`
	Cluster           string        `env:"SOLANA_CLUSTER,default=devnet"`
	MerchantRecipient string        `env:"MERCHANT_RECIPIENT"`
	TokensFile        string        `env:"TOKENS_FILE"`
	PaymentTimeout    time.Duration `env:"PAYMENT_TIMEOUT,default=10m"`
	PollInterval      time.Duration `env:"PAYMENT_POLL_INTERVAL,default=5s"`
	WatchConcurrency  int           `env:"PAYMENT_WATCH_CONCURRENCY,default=8"`
	ExpirySchedule    string        `env:"PAYMENT_EXPIRY_SCHEDULE,default=@every 1m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type CircleConfig struct {
	APIKey   string `env:"CIRCLE_API_KEY"`
	BaseURL  string `env:"CIRCLE_BASE_URL,default=https://api-sandbox.circle.com"`
	WalletID string `env:"CIRCLE_WALLET_ID"`
}

type WiseConfig struct {
	APIToken    string `env:"WISE_API_TOKEN"`
	BaseURL     string `env:"WISE_BASE_URL,default=https://api.sandbox.transferwise.tech"`
	ProfileID   string `env:"WISE_PROFILE_ID"`
	RecipientID string `env:"WISE_RECIPIENT_ID"`
}

type JupiterConfig struct {
	BaseURL     string        `env:"JUPITER_BASE_URL,default=https://quote-api.jup.ag/v6"`
	SlippageBps int           `env:"JUPITER_SLIPPAGE_BPS,default=50"`
	QuoteTTL    time.Duration `env:"JUPITER_QUOTE_TTL,default=10s"`
}

type GeminiConfig struct {
	APIKey  string `env:"GEMINI_API_KEY"`
	Model   string `env:"GEMINI_MODEL,default=gemini-2.0-flash-exp"`
	BaseURL string `env:"GEMINI_BASE_URL,default=https://generativelanguage.googleapis.com/v1beta"`
}

type OpenAIConfig struct {
	APIKey        string `env:"OPENAI_API_KEY"`
	BaseURL       string `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	RealtimeModel string `env:"OPENAI_REALTIME_MODEL,default=gpt-4o-realtime-preview-2024-12-17"`
	Voice         string `env:"OPENAI_REALTIME_VOICE,default=alloy"`
}

type AuthConfig struct {
	// CORSOrigins is a comma separated allow list; "*" allows any origin.
	CORSOrigins  string  `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimitRPS float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateBurst    int     `env:"RATE_LIMIT_BURST,default=20"`
}

// Origins splits CORSOrigins.
func (a AuthConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(a.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads an optional .env file (ENV_FILE overrides the path) and decodes
// the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv decodes the process environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "supabase":
		if !c.Supabase.Enabled() {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Database.Backend)
	}
	switch c.Solana.Cluster {
	case "devnet", "mainnet", "mainnet-beta":
	default:
		return fmt.Errorf("unknown SOLANA_CLUSTER %q", c.Solana.Cluster)
	}
	if c.Solana.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	return nil
}
