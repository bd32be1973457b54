package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Kharon-pay-mini/user-management-server/pkg/config"
)

const minSecretLength = 32

// Config holds all configuration for the service. It is loaded once at
// startup and shared read-only by pointer.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server
	HTTPPort           int      `env:"PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://127.0.0.1:3000" envSeparator:","`
	RateLimitRPS       float64  `env:"RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst     int      `env:"RATE_LIMIT_BURST" envDefault:"5"`

	// Peers allowed to set X-Forwarded-For / X-Real-IP; empty trusts none
	TrustedProxies []string `env:"TRUSTED_PROXIES" envDefault:"127.0.0.0/8,::1/128,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,fc00::/7" envSeparator:","`

	// PostgreSQL
	DatabaseURL          string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	SlowQueryThresholdMs int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis geo cache; an empty address disables caching
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	GeoCacheTTL   time.Duration `env:"GEO_CACHE_TTL" envDefault:"24h"`
	GeoTimeout    time.Duration `env:"GEO_TIMEOUT" envDefault:"3s"`

	// Session tokens
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// ipinfo.io
	IPInfoToken   string `env:"IP_INFO_TOKEN"`
	IPInfoBaseURL string `env:"IPINFO_BASE_URL" envDefault:"https://ipinfo.io"`

	// SMTP
	SMTPHost     string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM" envDefault:"no-reply@kharon.app"`

	// Flutterwave
	FlutterwaveSecretKey string `env:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveBaseURL   string `env:"FLUTTERWAVE_BASE_URL" envDefault:"https://api.flutterwave.com/v3"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Security event pipeline
	SecurityWorkers   int `env:"SECURITY_WORKERS" envDefault:"4"`
	SecurityQueueSize int `env:"SECURITY_QUEUE_SIZE" envDefault:"1024"`

	// OpenTelemetry; an empty endpoint disables export
	OTELEndpoint   string  `env:"OTEL_ENDPOINT"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SecurityWorkers < 1 {
		return fmt.Errorf("SECURITY_WORKERS must be at least 1, got %d", c.SecurityWorkers)
	}
	if c.SecurityQueueSize < 1 {
		return fmt.Errorf("SECURITY_QUEUE_SIZE must be at least 1, got %d", c.SecurityQueueSize)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must be positive, got rps=%v burst=%d", c.RateLimitRPS, c.RateLimitBurst)
	}

	if c.IsDevelopment() {
		return nil
	}
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTSecret))
	}
	if c.IPInfoToken == "" {
		return fmt.Errorf("IP_INFO_TOKEN must be set in %q mode", c.Environment)
	}
	return nil
}
