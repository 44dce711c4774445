package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port               string        `mapstructure:"PORT"`
	Environment        string        `mapstructure:"ENVIRONMENT"`
	BaseURL            string        `mapstructure:"BASE_URL"`
	FrontendURL        string        `mapstructure:"FRONTEND_URL"`
	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	MaxUploadMB        int64         `mapstructure:"MAX_UPLOAD_MB"`
	OutboundTimeout    time.Duration `mapstructure:"OUTBOUND_TIMEOUT"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Database
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Supabase
	SupabaseURL            string        `mapstructure:"SUPABASE_URL"`
	SupabaseServiceRoleKey string        `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string        `mapstructure:"SUPABASE_JWT_SECRET"`
	SupabaseStorageBucket  string        `mapstructure:"SUPABASE_STORAGE_BUCKET"`
	SignedURLTTL           time.Duration `mapstructure:"SIGNED_URL_TTL"`

	// GPU worker
	RunPodAPIBaseURL     string `mapstructure:"RUNPOD_API_BASE_URL"`
	RunPodAPIKey         string `mapstructure:"RUNPOD_API_KEY"`
	RunPodEndpointID     string `mapstructure:"RUNPOD_ENDPOINT_ID"`
	WorkerCallbackSecret string `mapstructure:"WORKER_CALLBACK_SECRET"`

	// Stripe
	StripeSecretKey          string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret      string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePriceStarter       string `mapstructure:"STRIPE_PRICE_STARTER"`
	StripePricePro           string `mapstructure:"STRIPE_PRICE_PRO"`
	StripePriceStudio        string `mapstructure:"STRIPE_PRICE_STUDIO"`
	StripePriceCreditsSmall  string `mapstructure:"STRIPE_PRICE_CREDITS_SMALL"`
	StripePriceCreditsMedium string `mapstructure:"STRIPE_PRICE_CREDITS_MEDIUM"`
	StripePriceCreditsLarge  string `mapstructure:"STRIPE_PRICE_CREDITS_LARGE"`

	// Email
	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	EmailFrom    string `mapstructure:"EMAIL_FROM"`

	// Credits
	StartingCredits int `mapstructure:"STARTING_CREDITS"`
	MinLyricsLength int `mapstructure:"MIN_LYRICS_LENGTH"`
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"ENVIRONMENT":             "development",
	"BASE_URL":                "http://localhost:8080",
	"FRONTEND_URL":            "http://localhost:3000",
	"CORS_ALLOWED_ORIGINS":    "http://localhost:3000",
	"MAX_UPLOAD_MB":           100,
	"OUTBOUND_TIMEOUT":        "30s",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "auto",
	"SUPABASE_STORAGE_BUCKET": "karaoke",
	"SIGNED_URL_TTL":          "1h",
	"RUNPOD_API_BASE_URL":     "https://api.runpod.ai/v2",
	"EMAIL_FROM":              "Karatrack <noreply@karatrack.app>",
	"STARTING_CREDITS":        5,
	"MIN_LYRICS_LENGTH":       50,
}

var keys = []string{
	"DATABASE_URL", "SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_JWT_SECRET",
	"RUNPOD_API_KEY", "RUNPOD_ENDPOINT_ID", "WORKER_CALLBACK_SECRET",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"STRIPE_PRICE_STARTER", "STRIPE_PRICE_PRO", "STRIPE_PRICE_STUDIO",
	"STRIPE_PRICE_CREDITS_SMALL", "STRIPE_PRICE_CREDITS_MEDIUM", "STRIPE_PRICE_CREDITS_LARGE",
	"RESEND_API_KEY",
}

// Load reads configuration from the environment, after loading envFiles (a
// missing file is not an error).
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks required settings. Outside production the server can run
// against in-memory storage and logging email, so only the auth secret is
// mandatory there.
func (c *Config) Validate() error {
	if c.SupabaseJWTSecret == "" {
		return errors.New("SUPABASE_JWT_SECRET is required")
	}
	if c.MinLyricsLength < 0 {
		return errors.New("MIN_LYRICS_LENGTH must not be negative")
	}
	if c.StartingCredits < 0 {
		return errors.New("STARTING_CREDITS must not be negative")
	}
	if c.OutboundTimeout <= 0 {
		return errors.New("OUTBOUND_TIMEOUT must be positive")
	}
	if !c.IsProduction() {
		return nil
	}

	required := map[string]string{
		"DATABASE_URL":              c.DatabaseURL,
		"SUPABASE_URL":              c.SupabaseURL,
		"SUPABASE_SERVICE_ROLE_KEY": c.SupabaseServiceRoleKey,
		"RUNPOD_API_KEY":            c.RunPodAPIKey,
		"RUNPOD_ENDPOINT_ID":        c.RunPodEndpointID,
		"WORKER_CALLBACK_SECRET":    c.WorkerCallbackSecret,
		"STRIPE_SECRET_KEY":         c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET":     c.StripeWebhookSecret,
		"RESEND_API_KEY":            c.ResendAPIKey,
	}
	for _, name := range keys {
		if val, ok := required[name]; ok && val == "" {
			return fmt.Errorf("%s is required in production", name)
		}
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
