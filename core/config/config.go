package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// WhatsAppConfig holds Meta Cloud API credentials and endpoints.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token" envconfig:"WA_ACCESS_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"WA_PHONE_NUMBER_ID"`
	APIVersion    string `yaml:"api_version" envconfig:"WA_API_VERSION"`
	// VerifyToken is the shared secret echoed back during webhook subscription.
	VerifyToken string `yaml:"verify_token" envconfig:"WA_VERIFY_TOKEN"`
}

// WebhookConfig specifies the inbound HTTP listener.
type WebhookConfig struct {
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// SecurityConfig tunes the access gate ahead of message dispatch.
type SecurityConfig struct {
	EncryptionKey     string        `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY"`
	MaxAuthAttempts   int           `yaml:"max_auth_attempts" envconfig:"SECURITY_MAX_AUTH_ATTEMPTS"`
	BlockDuration     time.Duration `yaml:"block_duration" envconfig:"SECURITY_BLOCK_DURATION"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" envconfig:"SECURITY_RATE_LIMIT_WINDOW"`
	RateLimitMax      int           `yaml:"rate_limit_max" envconfig:"SECURITY_RATE_LIMIT_MAX"`
	SessionDuration   time.Duration `yaml:"session_duration" envconfig:"SECURITY_SESSION_DURATION"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" envconfig:"SECURITY_CLEANUP_INTERVAL"`
	IdleSessionExpiry time.Duration `yaml:"idle_session_expiry" envconfig:"SECURITY_IDLE_SESSION_EXPIRY"`
}

// CRMConfig points at the ticketing/CRM bridge.
type CRMConfig struct {
	// HandoverAppID identifies the app receiving thread control on agent handover.
	HandoverAppID string `yaml:"handover_app_id" envconfig:"CRM_HANDOVER_APP_ID"`
	// AgentIdleTimeout reactivates the bot when the agent goes quiet.
	AgentIdleTimeout time.Duration `yaml:"agent_idle_timeout" envconfig:"CRM_AGENT_IDLE_TIMEOUT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	KeysOrder string `yaml:"keys_order"`
	Dir       string `yaml:"dir"`
	BotFile   string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds connection settings for the CRM store.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates all settings of the bot process.
type Config struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Security SecurityConfig `yaml:"security"`
	CRM      CRMConfig      `yaml:"crm"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.WhatsApp.AccessToken) == "" {
		return fmt.Errorf("whatsapp.access_token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.APIVersion) == "" {
		cfg.WhatsApp.APIVersion = "v19.0"
	}
	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}

	if strings.TrimSpace(cfg.Webhook.Listen) == "" {
		cfg.Webhook.Listen = "0.0.0.0"
	}
	if cfg.Webhook.Port <= 0 {
		cfg.Webhook.Port = 8080
	}

	if strings.TrimSpace(cfg.Security.EncryptionKey) == "" {
		return fmt.Errorf("security.encryption_key is required")
	}
	if cfg.Security.MaxAuthAttempts <= 0 {
		cfg.Security.MaxAuthAttempts = 3
	}
	if cfg.Security.BlockDuration <= 0 {
		cfg.Security.BlockDuration = 15 * time.Minute
	}
	if cfg.Security.RateLimitWindow <= 0 {
		cfg.Security.RateLimitWindow = time.Minute
	}
	if cfg.Security.RateLimitMax <= 0 {
		cfg.Security.RateLimitMax = 10
	}
	if cfg.Security.SessionDuration <= 0 {
		cfg.Security.SessionDuration = 2 * time.Hour
	}
	if cfg.Security.CleanupInterval <= 0 {
		cfg.Security.CleanupInterval = 5 * time.Minute
	}
	if cfg.Security.IdleSessionExpiry <= 0 {
		cfg.Security.IdleSessionExpiry = 10 * time.Minute
	}

	if cfg.CRM.AgentIdleTimeout <= 0 {
		cfg.CRM.AgentIdleTimeout = 30 * time.Minute
	}

	if strings.TrimSpace(cfg.Database.SSLMode) == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}

	return nil
}
