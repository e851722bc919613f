// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix guards against unrelated environment variables leaking into the
// config tree. ROOMSCHED_SERVER__ADDR maps to server.addr; the double
// underscore separates path segments so snake_case keys stay intact.
const envPrefix = "ROOMSCHED_"

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "ROOMSCHED_CONFIG"

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/roomsched/config.yaml",
}

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Session       SessionConfig       `koanf:"session"`
	SMTP          SMTPConfig          `koanf:"smtp"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Booking       BookingConfig       `koanf:"booking"`
	Logging       LoggingConfig       `koanf:"logging"`
}

type ServerConfig struct {
	Addr    string `koanf:"addr"`
	BaseURL string `koanf:"base_url"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type SessionConfig struct {
	// Base64-encoded securecookie keys. Values may also be a path to a
	// file holding the base64 value (k8s secret mounts).
	HashKey  string `koanf:"hash_key"`
	BlockKey string `koanf:"block_key"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	// TLS mode: starttls, implicit or none.
	TLS     string        `koanf:"tls"`
	Timeout time.Duration `koanf:"timeout"`
}

type NotificationsConfig struct {
	SendUserEmails  bool          `koanf:"send_user_emails"`
	SendAdminEmails bool          `koanf:"send_admin_emails"`
	AdminEmail      string        `koanf:"admin_email"`
	MaxAttempts     int           `koanf:"max_attempts"`
	BaseDelay       time.Duration `koanf:"base_delay"`
	MaxConcurrency  int           `koanf:"max_concurrency"`
	RecheckDelay    time.Duration `koanf:"recheck_delay"`
}

type BookingConfig struct {
	// Timezone is the single authoritative reporting timezone: day keys,
	// weekday lookup and "now" comparisons all resolve in it.
	Timezone      string              `koanf:"timezone"`
	DailyCapacity int                 `koanf:"daily_capacity"`
	LimitedAt     int                 `koanf:"limited_at"`
	ScanCapDays   int                 `koanf:"scan_cap_days"`
	Hours         map[string]DayHours `koanf:"hours"`
}

type DayHours struct {
	Enabled bool   `koanf:"enabled"`
	Start   string `koanf:"start"`
	End     string `koanf:"end"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() Config {
	weekdays := map[string]DayHours{
		"monday":    {Enabled: true, Start: "09:00", End: "17:00"},
		"tuesday":   {Enabled: true, Start: "09:00", End: "17:00"},
		"wednesday": {Enabled: true, Start: "09:00", End: "17:00"},
		"thursday":  {Enabled: true, Start: "09:00", End: "17:00"},
		"friday":    {Enabled: true, Start: "09:00", End: "17:00"},
		"saturday":  {Enabled: false},
		"sunday":    {Enabled: false},
	}
	return Config{
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Room Scheduler",
			TLS:      "starttls",
			Timeout:  30 * time.Second,
		},
		Notifications: NotificationsConfig{
			SendUserEmails:  true,
			SendAdminEmails: true,
			MaxAttempts:     3,
			BaseDelay:       30 * time.Second,
			MaxConcurrency:  4,
			RecheckDelay:    time.Second,
		},
		Booking: BookingConfig{
			Timezone:      "UTC",
			DailyCapacity: 8,
			LimitedAt:     6,
			ScanCapDays:   90,
			Hours:         weekdays,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with precedence ENV > file > defaults.
// path may be empty; the default search paths are tried in order.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Session.HashKey == "" || c.Session.BlockKey == "" {
		return fmt.Errorf("session.hash_key and session.block_key are required (base64, see `roomsched keys`)")
	}
	if _, _, err := c.SessionKeys(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone %q: %w", c.Booking.Timezone, err)
	}
	if c.Booking.DailyCapacity < 1 {
		return fmt.Errorf("booking.daily_capacity must be >= 1")
	}
	if c.Booking.LimitedAt < 0 || c.Booking.LimitedAt > c.Booking.DailyCapacity {
		return fmt.Errorf("booking.limited_at must be between 0 and booking.daily_capacity")
	}
	if c.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("notifications.max_attempts must be >= 1")
	}
	if c.Notifications.MaxConcurrency < 1 {
		return fmt.Errorf("notifications.max_concurrency must be >= 1")
	}
	switch c.SMTP.TLS {
	case "", "starttls", "implicit", "none":
	default:
		return fmt.Errorf("smtp.tls must be starttls, implicit or none")
	}
	return nil
}

// SessionKeys decodes the securecookie hash and block keys.
func (c Config) SessionKeys() (hashKey, blockKey []byte, err error) {
	hashKey, err = decodeB64(c.Session.HashKey)
	if err != nil {
		return nil, nil, fmt.Errorf("session.hash_key: %w", err)
	}
	blockKey, err = decodeB64(c.Session.BlockKey)
	if err != nil {
		return nil, nil, fmt.Errorf("session.block_key: %w", err)
	}
	return hashKey, blockKey, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func decodeB64(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		// allow pointing to a file path for secret mounts
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
