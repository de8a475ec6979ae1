// Package config manages SafeCheck configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lcrostarosa/safecheck/internal/directory"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// Storage backends for durable timer and PIN state.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// StorageConfig selects where timer state and the PIN record live.
type StorageConfig struct {
	Backend string `json:"backend"`        // file, redis or memory
	Path    string `json:"path,omitempty"` // directory for the file backend
}

// RedisConfig is shared by the Redis key-value store, alert sink and
// shared-location sink.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// MQTTConfig is the broker carrying location fixes.
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Topic    string `json:"topic,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
}

// AMQPConfig enables RabbitMQ alert notifications when URL is set.
type AMQPConfig struct {
	URL string `json:"url,omitempty"`
}

// GeocoderConfig enables reverse geocoding when BaseURL is set.
type GeocoderConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// StaticLocationConfig fixes the device position when no MQTT broker
// reports fixes.
type StaticLocationConfig struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// TimerConfig tunes the check-in controller.
type TimerConfig struct {
	TickMillis                int `json:"tick_millis,omitempty"`
	LocationTimeoutSeconds    int `json:"location_timeout_seconds,omitempty"`
	ConfirmationWindowSeconds int `json:"confirmation_window_seconds,omitempty"`
}

// LockoutConfig enables PIN attempt throttling.
type LockoutConfig struct {
	Enabled         bool `json:"enabled"`
	FreeAttempts    int  `json:"free_attempts,omitempty"`
	IntervalSeconds int  `json:"interval_seconds,omitempty"`
	Burst           int  `json:"burst,omitempty"`
}

// HistoryConfig configures the alert history database and retention.
type HistoryConfig struct {
	DBPath             string `json:"db_path,omitempty"`
	RetentionDays      int    `json:"retention_days,omitempty"`
	ExpireAfterHours   int    `json:"expire_after_hours,omitempty"`
	SweepIntervalHours int    `json:"sweep_interval_hours,omitempty"`
}

// Config represents the SafeCheck configuration
type Config struct {
	// Identity
	User     *directory.Profile  `json:"user,omitempty"`
	Contacts []directory.Contact `json:"contacts,omitempty"`

	// Backends
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis,omitempty"`
	MQTT     MQTTConfig     `json:"mqtt,omitempty"`
	AMQP     AMQPConfig     `json:"amqp,omitempty"`
	Geocoder GeocoderConfig `json:"geocoder,omitempty"`

	StaticLocation *StaticLocationConfig `json:"static_location,omitempty"`

	// Behaviour
	Timer   TimerConfig   `json:"timer,omitempty"`
	Lockout LockoutConfig `json:"lockout,omitempty"`
	History HistoryConfig `json:"history,omitempty"`

	// API settings
	ListenAddr string `json:"listen_addr,omitempty"`
	ServerURL  string `json:"server_url,omitempty"` // where CLI commands reach the daemon
	APIKey     string `json:"api_key,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`

	// Paths (not serialized)
	ConfigDir string `json:"-"`
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".safecheck")
}

// Default returns a config with every optional backend disabled.
func Default(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return &Config{
		Storage:    StorageConfig{Backend: StorageFile},
		ListenAddr: ":8090",
		ConfigDir:  configDir,
	}
}

// Load loads configuration from the config directory, then applies
// SAFECHECK_* overrides from the environment and an optional .env file in
// the same directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	configPath := filepath.Join(configDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrNotInitialized
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ConfigDir = configDir

	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Exists checks if a config exists
func Exists(configDir string) bool {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	configPath := filepath.Join(configDir, "config.json")
	_, err := os.Stat(configPath)
	return err == nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}

	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.ConfigDir, "config.json")
	return os.WriteFile(configPath, data, 0600)
}

// loadDotEnv reads <dir>/.env without overriding variables already set.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from SAFECHECK_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %q", key, v)
		}
		*dst = n
		return nil
	}

	str("SAFECHECK_LISTEN_ADDR", &c.ListenAddr)
	str("SAFECHECK_SERVER", &c.ServerURL)
	str("SAFECHECK_API_KEY", &c.APIKey)
	str("SAFECHECK_LOG_LEVEL", &c.LogLevel)
	str("SAFECHECK_STORAGE", &c.Storage.Backend)
	str("SAFECHECK_STORAGE_PATH", &c.Storage.Path)
	str("SAFECHECK_REDIS_ADDR", &c.Redis.Addr)
	str("SAFECHECK_REDIS_PASSWORD", &c.Redis.Password)
	str("SAFECHECK_MQTT_BROKER", &c.MQTT.Broker)
	str("SAFECHECK_MQTT_USERNAME", &c.MQTT.Username)
	str("SAFECHECK_MQTT_PASSWORD", &c.MQTT.Password)
	str("SAFECHECK_AMQP_URL", &c.AMQP.URL)
	str("SAFECHECK_GEOCODER_URL", &c.Geocoder.BaseURL)
	str("SAFECHECK_HISTORY_DB", &c.History.DBPath)

	if err := integer("SAFECHECK_REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	return integer("SAFECHECK_HISTORY_RETENTION_DAYS", &c.History.RetentionDays)
}

// --- Path methods ---

// StoragePath is the directory of the file key-value store.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.ConfigDir, "state")
}

// HistoryDBPath is the SQLite file holding alert history.
func (c *Config) HistoryDBPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	return filepath.Join(c.ConfigDir, "history.db")
}

// ServerBaseURL is ServerURL, or the local daemon's address derived from
// ListenAddr.
func (c *Config) ServerBaseURL() string {
	if c.ServerURL != "" {
		return strings.TrimRight(c.ServerURL, "/")
	}
	addr := c.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// --- Duration methods ---

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Timer.TickMillis) * time.Millisecond
}

func (c *Config) LocationTimeout() time.Duration    { return seconds(c.Timer.LocationTimeoutSeconds) }
func (c *Config) ConfirmationWindow() time.Duration { return seconds(c.Timer.ConfirmationWindowSeconds) }
func (c *Config) GeocodeTimeout() time.Duration     { return seconds(c.Geocoder.TimeoutSeconds) }
func (c *Config) LockoutInterval() time.Duration    { return seconds(c.Lockout.IntervalSeconds) }

// Retention is how long history rows are kept. Zero keeps them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// ExpireAfter is how long a delivered alert may stay unacknowledged.
func (c *Config) ExpireAfter() time.Duration {
	return time.Duration(c.History.ExpireAfterHours) * time.Hour
}

// SweepInterval is how often retention runs; one hour when unset.
func (c *Config) SweepInterval() time.Duration {
	if c.History.SweepIntervalHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.History.SweepIntervalHours) * time.Hour
}

// --- Identity methods ---

// SetUser signs in a user and saves.
func (c *Config) SetUser(p directory.Profile) error {
	c.User = &p
	return c.Save()
}

// AddContact adds or replaces a contact by ID and saves.
func (c *Config) AddContact(contact directory.Contact) error {
	for i, existing := range c.Contacts {
		if existing.ID == contact.ID {
			c.Contacts[i] = contact
			return c.Save()
		}
	}
	c.Contacts = append(c.Contacts, contact)
	return c.Save()
}

// RemoveContact removes a contact by ID and saves. Unknown IDs are ignored.
func (c *Config) RemoveContact(id string) error {
	out := c.Contacts[:0]
	for _, existing := range c.Contacts {
		if existing.ID != id {
			out = append(out, existing)
		}
	}
	c.Contacts = out
	return c.Save()
}
