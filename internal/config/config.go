// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the settings of the
// edge-state service: HTTP server timeouts, logging, the shared Redis
// connection and its key layout, rate-limit budgets, the activity pipeline,
// token signing, one-time codes, the summarizer client, and observability.
package config

import (
	"encoding/hex"
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-edge-state")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig describes the shared cache every worker talks to.
type RedisConfig struct {
	URL                    string        // REDIS_URL, redis:// or rediss://
	PoolSize               int           // REDIS_POOL_SIZE, 0 keeps the driver default
	DialTimeout            time.Duration // REDIS_DIAL_TIMEOUT
	ConfigureNotifications bool          // REDIS_CONFIGURE_NOTIFICATIONS
}

// KeysConfig holds the key prefixes of the three cache protocols.
type KeysConfig struct {
	RateNamespace  string // KEY_RATE_NAMESPACE
	ActivityPrefix string // KEY_ACTIVITY_PREFIX
	OTPPrefix      string // KEY_OTP_PREFIX
}

// RateConfig holds the per-dimension sliding-window budgets.
type RateConfig struct {
	Window       time.Duration
	VisitorLimit int
	InstallLimit int
	IPLimit      int
	EmailLimit   int

	// Process-local token bucket in front of POST /audit/batch, per IP bucket.
	BatchRPS   float64
	BatchBurst int
}

// ActivityConfig tunes buffering, flushing and the expiry watcher.
type ActivityConfig struct {
	InactivityWindow time.Duration
	SummaryMaxEvents int
	FlushConcurrency int
	ReconnectFloor   time.Duration
	ReconnectCeil    time.Duration
	InteractionsDir  string
	SweepInterval    time.Duration // 0 disables the sweeper
	MaxBatch         int
}

// SummarizerConfig configures the OpenRouter chat-completions client.
// An empty APIKey disables the client and every flush uses the fallback.
type SummarizerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	AppName string
	Timeout time.Duration
}

// MailConfig configures the SendGrid mailer used for one-time codes. An
// empty APIKey makes the service log codes instead of sending them.
type MailConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	ReplyTo   string
	Timeout   time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev
	LogRedact bool   // scrub cookies and PII from access logs

	// Cache
	Redis RedisConfig
	Keys  KeysConfig

	// Protocols
	Rate     RateConfig
	Activity ActivityConfig
	TokenKey []byte        // decoded TOKEN_HMAC_KEY
	OTPTTL   time.Duration // lifetime of a one-time code

	// Collaborators
	Summarizer SummarizerConfig
	Mail       MailConfig
	DBPath     string // SQLite path for flush records; empty disables the DB sink

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
		LogRedact: getbool("LOG_REDACT", true),

		// Cache
		Redis: RedisConfig{
			URL:                    strings.TrimSpace(getenv("REDIS_URL", "")),
			PoolSize:               getint("REDIS_POOL_SIZE", 0),
			DialTimeout:            getdur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ConfigureNotifications: getbool("REDIS_CONFIGURE_NOTIFICATIONS", false),
		},
		Keys: KeysConfig{
			RateNamespace:  trimColons(getenv("KEY_RATE_NAMESPACE", "rl:prep:v1")),
			ActivityPrefix: trimColons(getenv("KEY_ACTIVITY_PREFIX", "audit")),
			OTPPrefix:      trimColons(getenv("KEY_OTP_PREFIX", "otp:with_email:v1")),
		},

		// Protocols
		Rate: RateConfig{
			Window:       getdur("RATE_WINDOW", 60*time.Second),
			VisitorLimit: getint("RATE_VISITOR_LIMIT", 10),
			InstallLimit: getint("RATE_INSTALL_LIMIT", 10),
			IPLimit:      getint("RATE_IP_LIMIT", 100),
			EmailLimit:   getint("RATE_EMAIL_LIMIT", 5),
			BatchRPS:     getfloat("RATE_BATCH_RPS", 20),
			BatchBurst:   getint("RATE_BATCH_BURST", 40),
		},
		Activity: ActivityConfig{
			InactivityWindow: getdur("ACTIVITY_INACTIVITY_WINDOW", 60*time.Second),
			SummaryMaxEvents: getint("ACTIVITY_SUMMARY_MAX_EVENTS", 200),
			FlushConcurrency: getint("ACTIVITY_FLUSH_CONCURRENCY", 32),
			ReconnectFloor:   getdur("ACTIVITY_RECONNECT_FLOOR", 100*time.Millisecond),
			ReconnectCeil:    getdur("ACTIVITY_RECONNECT_CEIL", 10*time.Second),
			InteractionsDir:  getenv("ACTIVITY_INTERACTIONS_DIR", "interactions"),
			SweepInterval:    getdur("ACTIVITY_SWEEP_INTERVAL", 0),
			MaxBatch:         getint("ACTIVITY_MAX_BATCH", 500),
		},
		OTPTTL: getdur("OTP_TTL", 10*time.Minute),

		// Collaborators
		Summarizer: SummarizerConfig{
			APIKey:  getenv("OPENROUTER_API_KEY", ""),
			BaseURL: strings.TrimRight(getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			Model:   getenv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
			AppName: getenv("OPENROUTER_APP_NAME", "go-edge-state"),
			Timeout: getdur("OPENROUTER_TIMEOUT", 20*time.Second),
		},
		Mail: MailConfig{
			APIKey:    getenv("SENDGRID_API_KEY", ""),
			BaseURL:   strings.TrimRight(getenv("SENDGRID_BASE_URL", "https://api.sendgrid.com"), "/"),
			FromEmail: getenv("FROM_EMAIL", ""),
			FromName:  getenv("FROM_NAME", "go-edge-state"),
			ReplyTo:   getenv("REPLY_TO_EMAIL", ""),
			Timeout:   getdur("SENDGRID_TIMEOUT", 10*time.Second),
		},
		DBPath: strings.TrimSpace(os.Getenv("DB_PATH")),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-edge-state"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if err := validateRedisURL(cfg.Redis.URL); err != nil {
		return cfg, err
	}
	if cfg.Redis.PoolSize < 0 {
		return cfg, errors.New("REDIS_POOL_SIZE must be >= 0")
	}
	if cfg.Redis.DialTimeout <= 0 {
		return cfg, errors.New("REDIS_DIAL_TIMEOUT must be > 0")
	}
	if cfg.Keys.RateNamespace == "" || cfg.Keys.ActivityPrefix == "" || cfg.Keys.OTPPrefix == "" {
		return cfg, errors.New("KEY_RATE_NAMESPACE, KEY_ACTIVITY_PREFIX and KEY_OTP_PREFIX must not be empty")
	}
	if cfg.Rate.Window <= 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.Rate.VisitorLimit < 1 || cfg.Rate.InstallLimit < 1 || cfg.Rate.IPLimit < 1 || cfg.Rate.EmailLimit < 1 {
		return cfg, errors.New("RATE_*_LIMIT values must be >= 1")
	}
	if cfg.Rate.BatchRPS <= 0 || cfg.Rate.BatchBurst < 1 {
		return cfg, errors.New("RATE_BATCH_RPS must be > 0 and RATE_BATCH_BURST >= 1")
	}
	if cfg.Activity.InactivityWindow <= 0 {
		return cfg, errors.New("ACTIVITY_INACTIVITY_WINDOW must be > 0")
	}
	if cfg.Activity.SummaryMaxEvents < 1 {
		return cfg, errors.New("ACTIVITY_SUMMARY_MAX_EVENTS must be >= 1")
	}
	if cfg.Activity.FlushConcurrency < 1 {
		return cfg, errors.New("ACTIVITY_FLUSH_CONCURRENCY must be >= 1")
	}
	if cfg.Activity.ReconnectFloor <= 0 || cfg.Activity.ReconnectCeil < cfg.Activity.ReconnectFloor {
		return cfg, errors.New("ACTIVITY_RECONNECT_FLOOR must be > 0 and <= ACTIVITY_RECONNECT_CEIL")
	}
	if strings.TrimSpace(cfg.Activity.InteractionsDir) == "" {
		return cfg, errors.New("ACTIVITY_INTERACTIONS_DIR must not be empty")
	}
	if cfg.Activity.SweepInterval < 0 {
		return cfg, errors.New("ACTIVITY_SWEEP_INTERVAL must be >= 0")
	}
	if cfg.Activity.MaxBatch < 1 {
		return cfg, errors.New("ACTIVITY_MAX_BATCH must be >= 1")
	}
	key, err := decodeTokenKey(getenv("TOKEN_HMAC_KEY", ""))
	if err != nil {
		return cfg, err
	}
	cfg.TokenKey = key
	if cfg.OTPTTL <= 0 {
		return cfg, errors.New("OTP_TTL must be > 0")
	}
	if cfg.Summarizer.Timeout <= 0 {
		return cfg, errors.New("OPENROUTER_TIMEOUT must be > 0")
	}
	if cfg.MailerEnabled() && cfg.Mail.FromEmail == "" {
		return cfg, errors.New("FROM_EMAIL is required when SENDGRID_API_KEY is set")
	}
	if cfg.Mail.Timeout <= 0 {
		return cfg, errors.New("SENDGRID_TIMEOUT must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// SummarizerEnabled reports whether flushes should call the remote summarizer.
func (c Config) SummarizerEnabled() bool { return strings.TrimSpace(c.Summarizer.APIKey) != "" }

// MailerEnabled reports whether one-time codes are sent through SendGrid.
func (c Config) MailerEnabled() bool { return strings.TrimSpace(c.Mail.APIKey) != "" }

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// trimColons strips surrounding whitespace and ':' so prefixes join cleanly.
func trimColons(s string) string {
	return strings.Trim(strings.TrimSpace(s), ":")
}

func validateRedisURL(raw string) error {
	if raw == "" {
		return errors.New("REDIS_URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errors.New("REDIS_URL must be a valid redis:// or rediss:// URL")
	}
	switch u.Scheme {
	case "redis", "rediss":
		return nil
	default:
		return errors.New("REDIS_URL must be a valid redis:// or rediss:// URL")
	}
}

// minTokenKeyBytes is the smallest HMAC key accepted (openssl rand -hex 32).
const minTokenKeyBytes = 32

func decodeTokenKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("TOKEN_HMAC_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.New("TOKEN_HMAC_KEY must be hex encoded")
	}
	if len(key) < minTokenKeyBytes {
		return nil, errors.New("TOKEN_HMAC_KEY must decode to at least 32 bytes")
	}
	return key, nil
}
