// Package config provides configuration management for keygate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Plugin signature modes.
const (
	SignatureModeOptional = "optional"
	SignatureModeRequired = "required"
)

// ConfigFileEnv names the environment variable holding the optional YAML file path.
const ConfigFileEnv = "KEYGATE_CONFIG"

// ProxyConfig holds outbound proxy settings.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy"`
	HTTPSProxy  string `yaml:"https_proxy"`
	SOCKS5Proxy string `yaml:"socks5_proxy"`
	NoProxy     string `yaml:"no_proxy"`
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

// ServerConfig holds server-level configuration. Values come from the optional
// YAML file first and are then overridden by environment variables.
type ServerConfig struct {
	Environment Environment `yaml:"env"`
	ListenAddr  string      `yaml:"listen_addr"`
	DatabaseURL string      `yaml:"database_url"`

	// EncryptionKey is the hex or base64 AES-256 key for secrets at rest.
	EncryptionKey string `yaml:"encryption_key"`
	// AppKey is the server key mixed into default license secrets and download URL signatures.
	AppKey              string `yaml:"app_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
	AdminToken          string `yaml:"admin_token"`

	PluginSignatureMode string        `yaml:"plugin_signature_mode"`
	SignatureTolerance  time.Duration `yaml:"signature_tolerance"`
	DevDomainPolicy     string        `yaml:"dev_domain_policy"`

	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitPeriod   time.Duration `yaml:"rate_limit_period"`
	RedisURL          string        `yaml:"redis_url"`

	WebhookWorkers     int             `yaml:"webhook_workers"`
	WebhookTimeout     time.Duration   `yaml:"webhook_timeout"`
	WebhookMaxAttempts int             `yaml:"webhook_max_attempts"`
	WebhookBackoff     []time.Duration `yaml:"webhook_backoff"`

	EventRetentionDays      int  `yaml:"event_retention_days"`
	WebhookLogRetentionDays int  `yaml:"webhook_log_retention_days"`
	ExpirySweepEnabled      bool `yaml:"expiry_sweep_enabled"`

	DownloadURLTTL    time.Duration `yaml:"download_url_ttl"`
	PublicURL         string        `yaml:"public_url"`
	ReleasesBucket    string        `yaml:"releases_bucket"`
	AWSRegion         string        `yaml:"aws_region"`
	S3Endpoint        string        `yaml:"s3_endpoint"`
	S3AccessKeyID     string        `yaml:"s3_access_key_id"`
	S3SecretAccessKey string        `yaml:"s3_secret_access_key"`

	Proxy ProxyConfig `yaml:"proxy"`
}

// DefaultServerConfig returns the configuration used when nothing is set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Environment:             EnvDevelopment,
		ListenAddr:              ":8080",
		PluginSignatureMode:     SignatureModeOptional,
		SignatureTolerance:      300 * time.Second,
		DevDomainPolicy:         "allow",
		RateLimitRequests:       60,
		RateLimitPeriod:         time.Minute,
		WebhookWorkers:          5,
		WebhookTimeout:          30 * time.Second,
		WebhookMaxAttempts:      3,
		WebhookBackoff:          []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		EventRetentionDays:      30,
		WebhookLogRetentionDays: 90,
		DownloadURLTTL:          time.Hour,
		PublicURL:               "http://localhost:8080",
		AWSRegion:               "us-east-1",
	}
}

// LoadServerConfig reads the YAML file named by KEYGATE_CONFIG, if any, and
// applies environment overrides.
func LoadServerConfig() (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *ServerConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *ServerConfig) applyEnv() {
	c.Environment = Environment(getEnvString("ENV", string(c.Environment)))
	c.ListenAddr = getEnvString("LISTEN_ADDR", c.ListenAddr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LISTEN_ADDR") == "" {
		c.ListenAddr = ":" + port
	}
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.EncryptionKey = getEnvString("ENCRYPTION_KEY", c.EncryptionKey)
	c.AppKey = getEnvString("APP_KEY", c.AppKey)
	c.StripeWebhookSecret = getEnvString("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	c.AdminToken = getEnvString("ADMIN_TOKEN", c.AdminToken)

	c.PluginSignatureMode = getEnvString("PLUGIN_SIGNATURE_MODE", c.PluginSignatureMode)
	c.SignatureTolerance = getEnvDuration("SIGNATURE_TOLERANCE", c.SignatureTolerance)
	c.DevDomainPolicy = getEnvString("DEV_DOMAIN_POLICY", c.DevDomainPolicy)

	c.RateLimitRequests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitPeriod = getEnvDuration("RATE_LIMIT_PERIOD", c.RateLimitPeriod)
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)

	c.WebhookWorkers = getEnvInt("WEBHOOK_WORKERS", c.WebhookWorkers)
	c.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", c.WebhookTimeout)
	c.WebhookMaxAttempts = getEnvInt("WEBHOOK_MAX_ATTEMPTS", c.WebhookMaxAttempts)
	c.WebhookBackoff = getEnvDurations("WEBHOOK_BACKOFF", c.WebhookBackoff)

	c.EventRetentionDays = getEnvInt("EVENT_RETENTION_DAYS", c.EventRetentionDays)
	c.WebhookLogRetentionDays = getEnvInt("WEBHOOK_LOG_RETENTION_DAYS", c.WebhookLogRetentionDays)
	c.ExpirySweepEnabled = getEnvBool("EXPIRY_SWEEP_ENABLED", c.ExpirySweepEnabled)

	c.DownloadURLTTL = getEnvDuration("DOWNLOAD_URL_TTL", c.DownloadURLTTL)
	c.PublicURL = getEnvString("PUBLIC_URL", c.PublicURL)
	c.ReleasesBucket = getEnvString("RELEASES_BUCKET", c.ReleasesBucket)
	c.AWSRegion = getEnvString("AWS_REGION", c.AWSRegion)
	c.S3Endpoint = getEnvString("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKeyID = getEnvString("S3_ACCESS_KEY_ID", c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnvString("S3_SECRET_ACCESS_KEY", c.S3SecretAccessKey)

	if proxy := os.Getenv("OUTBOUND_PROXY"); proxy != "" {
		if strings.HasPrefix(strings.ToLower(proxy), "socks5://") {
			c.Proxy.SOCKS5Proxy = proxy
		} else {
			c.Proxy.HTTPProxy = proxy
			c.Proxy.HTTPSProxy = proxy
		}
	}
	c.Proxy.NoProxy = getEnvString("NO_PROXY", c.Proxy.NoProxy)
}

// normalize replaces out-of-range values with defaults.
func (c *ServerConfig) normalize() {
	def := DefaultServerConfig()

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		c.Environment = EnvDevelopment
	}

	c.PluginSignatureMode = strings.ToLower(strings.TrimSpace(c.PluginSignatureMode))
	if c.PluginSignatureMode != SignatureModeRequired {
		c.PluginSignatureMode = SignatureModeOptional
	}
	if c.SignatureTolerance <= 0 {
		c.SignatureTolerance = def.SignatureTolerance
	}
	if c.RateLimitRequests <= 0 {
		c.RateLimitRequests = def.RateLimitRequests
	}
	if c.RateLimitPeriod <= 0 {
		c.RateLimitPeriod = def.RateLimitPeriod
	}
	if c.WebhookWorkers <= 0 {
		c.WebhookWorkers = def.WebhookWorkers
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = def.WebhookTimeout
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = def.WebhookMaxAttempts
	}
	if len(c.WebhookBackoff) == 0 {
		c.WebhookBackoff = def.WebhookBackoff
	}
	if c.EventRetentionDays <= 0 {
		c.EventRetentionDays = def.EventRetentionDays
	}
	if c.WebhookLogRetentionDays <= 0 {
		c.WebhookLogRetentionDays = def.WebhookLogRetentionDays
	}
	if c.DownloadURLTTL <= 0 {
		c.DownloadURLTTL = def.DownloadURLTTL
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
}

// Validate checks the settings the server cannot start without.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}
	if c.AppKey == "" {
		errs = append(errs, errors.New("APP_KEY is required"))
	}
	if c.Environment == EnvProduction && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
	}
	if _, err := url.Parse(c.PublicURL); err != nil {
		errs = append(errs, fmt.Errorf("PUBLIC_URL: %w", err))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// SignatureRequired reports whether unsigned plugin requests are rejected.
func (c *ServerConfig) SignatureRequired() bool {
	return c.PluginSignatureMode == SignatureModeRequired
}

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("300").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvDurations reads a comma separated list of durations.
func getEnvDurations(key string, defaultVal []time.Duration) []time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	var out []time.Duration
	for _, part := range strings.Split(val, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			return defaultVal
		}
		out = append(out, d)
	}
	return out
}
