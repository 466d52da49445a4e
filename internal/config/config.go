package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	Timezone                  string `mapstructure:"TIMEZONE"`
	TimezoneFallbackOffsetMin int    `mapstructure:"TIMEZONE_FALLBACK_OFFSET_MIN"`

	MinMinutesPerPatient   int  `mapstructure:"MIN_MINUTES_PER_PATIENT"`
	PendingPaymentTTLHours int  `mapstructure:"PENDING_PAYMENT_TTL_HOURS"`
	FullApprovalFlow       bool `mapstructure:"FULL_APPROVAL_FLOW"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	InvoiceDir   string `mapstructure:"INVOICE_DIR"`
	BusinessName string `mapstructure:"BUSINESS_NAME"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TIMEZONE", "Asia/Dhaka")
	v.SetDefault("TIMEZONE_FALLBACK_OFFSET_MIN", 360)
	v.SetDefault("MIN_MINUTES_PER_PATIENT", 10)
	v.SetDefault("PENDING_PAYMENT_TTL_HOURS", 24)
	v.SetDefault("FULL_APPROVAL_FLOW", false)
	v.SetDefault("JWT_ISSUER", "telemed")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("BUSINESS_NAME", "Telemed Appointments")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"TIMEZONE", "TIMEZONE_FALLBACK_OFFSET_MIN",
		"MIN_MINUTES_PER_PATIENT", "PENDING_PAYMENT_TTL_HOURS", "FULL_APPROVAL_FLOW",
		"JWT_SECRET", "JWT_ISSUER", "PAYMENT_WEBHOOK_SECRET",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
		"INVOICE_DIR", "BUSINESS_NAME",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPConfigured reports whether outbound email can be sent at all.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// Validate checks that the configuration is safe to run. Production refuses
// to start without real secrets.
func (c *Config) Validate() error {
	if c.JWTSecret == "" && !c.IsDev() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.PaymentWebhookSecret == "" && !c.IsDev() {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required outside development")
	}
	if c.MinMinutesPerPatient <= 0 {
		return fmt.Errorf("MIN_MINUTES_PER_PATIENT must be positive, got %d", c.MinMinutesPerPatient)
	}
	if c.PendingPaymentTTLHours <= 0 {
		return fmt.Errorf("PENDING_PAYMENT_TTL_HOURS must be positive, got %d", c.PendingPaymentTTLHours)
	}
	return nil
}
