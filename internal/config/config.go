package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DEFAULT_SUPPORT_URL = "https://github.com/family-safety/control"
const QR_IMAGE_SIZE = 512

type RBACConfig struct {
	PolicyFile string   `mapstructure:"policy_file"` // Path to the RBAC policy file. Empty uses the built-in policy.
	Admins     []string `mapstructure:"admins"`      // Users granted the admin role on startup
	// Other dashboard users and their roles, e.g. {"grandma": ["viewer"]}
	Users map[string][]string `mapstructure:"users"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type EventsConfig struct {
	// NATS server URL. Empty disables event publishing.
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"` // Subject prefix, e.g. "family-safety"
}

type Config struct {
	// Secret key for signing tokens. Must be set in production.
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	ListenAddr string `mapstructure:"listen_addr"`
	// Comma separated list of allowed CIDR networks. Empty means allow all.
	AllowedNetworks string `mapstructure:"allowed_networks"`
	BaseURL         string `mapstructure:"base_url"`
	SupportURL      string `mapstructure:"support_url"`

	// Directory for diagnostics bundles and the default snapshot location.
	DataDir string `mapstructure:"data_dir"`
	// IANA zone used for schedules, midnight grant expiry and usage dates.
	Timezone string `mapstructure:"timezone"`

	DeviceTokenTTL      time.Duration `mapstructure:"device_token_ttl"`
	PairingTTL          time.Duration `mapstructure:"pairing_ttl"`
	PairingMaxAttempts  int           `mapstructure:"pairing_max_attempts"` // failed pairing codes per client per window
	PolicySyncOverdue   time.Duration `mapstructure:"policy_sync_overdue"`
	RequestDedupeWindow time.Duration `mapstructure:"request_dedupe_window"`

	AuditMaxEntries int           `mapstructure:"audit_max_entries"`
	AuditMaxAge     time.Duration `mapstructure:"audit_max_age"`

	DiagnosticsMaxBytes  int64 `mapstructure:"diagnostics_max_bytes"`
	DiagnosticsListLimit int   `mapstructure:"diagnostics_list_limit"`

	// Lifetime of dashboard session tokens.
	DashboardTokenTTL time.Duration `mapstructure:"dashboard_token_ttl"`
	// Lifetime of the JWT embedded in pairing QR codes.
	PairingQRTTL time.Duration `mapstructure:"pairing_qr_ttl"`

	RBAC    RBACConfig   `mapstructure:"rbac"`
	Storage Storage      `mapstructure:"storage"`
	Events  EventsConfig `mapstructure:"events"`
	Email   EmailConfig  `mapstructure:"email"`
	// Comma separated parent addresses notified about new access requests.
	NotifyEmails string `mapstructure:"notify_emails"`
}

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// Location resolves Timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("Unknown timezone, using local time", "timezone", c.Timezone, "error", err)
		return time.Local
	}
	return loc
}

// NotifyRecipients splits NotifyEmails into trimmed addresses.
func (c *Config) NotifyRecipients() []string {
	var out []string
	for _, addr := range strings.Split(c.NotifyEmails, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// LoadConfig reads configuration from config.yaml and environment variables.
// Environment variables use the upper-cased key with dots replaced by
// underscores, e.g. STORAGE_SQLITE_PATH.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, path := range configFile {
		if path != "" {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetDefault("data_dir", filepath.Join(getConfigPath(), "data"))

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	cfg.resolvePaths()
	cfg.clamp()

	// Warn if secret is missing - this is a critical security setting for production
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			return nil, fmt.Errorf("SECRET configuration variable is required in production")
		}
		slog.Warn("Secret is not set. Do not use in production.")
	}

	return &cfg, nil
}

// resolvePaths anchors relative storage paths in the data directory.
func (c *Config) resolvePaths() {
	anchor := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.DataDir, p)
	}
	c.Storage.File.Path = anchor(c.Storage.File.Path)
	c.Storage.SQLite.Path = anchor(c.Storage.SQLite.Path)
	c.Storage.Badger.Path = anchor(c.Storage.Badger.Path)
}

func (c *Config) clamp() {
	if c.AuditMaxEntries <= 0 {
		slog.Warn("AUDIT_MAX_ENTRIES must be positive, using default", "actual", c.AuditMaxEntries)
		c.AuditMaxEntries = defaults["audit_max_entries"].(int)
	}
	if c.DiagnosticsListLimit <= 0 {
		c.DiagnosticsListLimit = defaults["diagnostics_list_limit"].(int)
	}
	if c.DeviceTokenTTL <= 0 {
		slog.Warn("DEVICE_TOKEN_TTL must be positive, using default", "actual", c.DeviceTokenTTL)
		c.DeviceTokenTTL = 30 * 24 * time.Hour
	}
	if c.PairingTTL <= 0 {
		c.PairingTTL = 10 * time.Minute
	}
}
