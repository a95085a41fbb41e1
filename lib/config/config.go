// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
	"github.com/bureau-foundation/gatekeeper/lib/secret"
)

// ConfigEnvVar names the environment variable holding the config file
// path when --config is not given.
const ConfigEnvVar = "GATEKEEPER_CONFIG"

// Config holds every gatekeeper setting.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver.
	HomeserverURL string `yaml:"homeserver_url" env:"HOMESERVER_URL"`

	// AccessToken is the bot's access token. It is only read from the
	// environment; config files name a token file instead.
	AccessToken string `yaml:"-" env:"BOT_ACCESS_TOKEN"`

	// AccessTokenFile is a file containing the access token. Takes
	// precedence over AccessToken.
	AccessTokenFile string `yaml:"access_token_file" env:"BOT_ACCESS_TOKEN_FILE"`

	// DeviceID is the device the token belongs to. Default: GATEKEEPER.
	DeviceID string `yaml:"device_id" env:"BOT_DEVICE_ID"`

	// RoomID is the gated room.
	RoomID string `yaml:"room_id" env:"TARGET_ROOM_ID"`

	// RulesEventID is the rules message tracked from startup.
	RulesEventID string `yaml:"rules_event_id" env:"TARGET_EVENT_ID"`

	// InviteSpaceID is the space accepted users are invited to.
	InviteSpaceID string `yaml:"invite_space_id" env:"INVITE_SPACE_ID"`

	// RepostEveryNJoins is the number of joins between rules reposts.
	// Default: 10. Zero or negative reposts on every join.
	RepostEveryNJoins int `yaml:"repost_every_n_joins" env:"REPOST_EVERY_N_JOINS"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// MetricsListen is the address serving /metrics, e.g. ":9090".
	// Empty disables the endpoint.
	MetricsListen string `yaml:"metrics_listen" env:"METRICS_LISTEN"`

	// StateDatabase is a SQLite file persisting the ledger across
	// restarts. Empty keeps state in memory only.
	StateDatabase string `yaml:"state_database" env:"STATE_DATABASE"`

	// ContentDir holds rules.txt, rules.html, welcome.txt, and so on.
	// Default: /app.
	ContentDir string `yaml:"content_dir" env:"CONTENT_DIR"`

	// RenderMarkdown produces the HTML body from the plain text when
	// no HTML is configured. Default: true.
	RenderMarkdown bool `yaml:"render_markdown" env:"RENDER_MARKDOWN"`

	// SendRate and SendBurst pace outbound requests. Defaults: 2/s, 5.
	SendRate  float64 `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst int     `yaml:"send_burst" env:"SEND_BURST"`

	// SyncTimeout is the /sync long-poll timeout. Default: 30s.
	SyncTimeout time.Duration `yaml:"sync_timeout" env:"SYNC_TIMEOUT"`

	// SyncRetryDelay is the pause after a failed /sync. Default: 5s.
	SyncRetryDelay time.Duration `yaml:"sync_retry_delay" env:"SYNC_RETRY_DELAY"`
}

// Targets are the validated Matrix IDs from a Config.
type Targets struct {
	GatedRoom   ref.RoomID
	RulesEvent  ref.EventID
	InviteSpace ref.RoomID
}

// Default returns the configuration used before any file or
// environment layer is applied.
func Default() *Config {
	return &Config{
		DeviceID:          "GATEKEEPER",
		RepostEveryNJoins: 10,
		LogLevel:          "info",
		ContentDir:        "/app",
		RenderMarkdown:    true,
		SendRate:          2,
		SendBurst:         5,
		SyncTimeout:       30 * time.Second,
		SyncRetryDelay:    5 * time.Second,
	}
}

// Load builds the configuration from defaults, the config file, and the
// environment.
//
// envFile names a dotenv file to load first; it must exist. When envFile
// is empty, ./.env is loaded if present. Dotenv values never replace
// variables already set in the process environment.
//
// path names the config file; when empty, GATEKEEPER_CONFIG is
// consulted, and when that is also empty no file is read.
func Load(path, envFile string) (*Config, error) {
	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a config file over the defaults, without consulting
// the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotenv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: loading env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// loadFile merges a config file into c. JSON is a subset of YAML, so
// .json and .jsonc files only need their comments stripped.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("homeserver_url (HOMESERVER_URL) is required"))
	} else if parsed, err := url.Parse(c.HomeserverURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver_url %q must be an http or https URL", c.HomeserverURL))
	}

	if c.AccessToken == "" && c.AccessTokenFile == "" {
		errs = append(errs, fmt.Errorf("an access token is required (BOT_ACCESS_TOKEN or access_token_file)"))
	}

	if _, err := c.Targets(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.SendRate <= 0 {
		errs = append(errs, fmt.Errorf("send_rate must be positive, got %v", c.SendRate))
	}
	if c.SendBurst < 1 {
		errs = append(errs, fmt.Errorf("send_burst must be at least 1, got %d", c.SendBurst))
	}
	if c.SyncTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync_timeout must not be negative"))
	}
	if c.SyncRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("sync_retry_delay must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Targets parses the room and event IDs.
func (c *Config) Targets() (Targets, error) {
	var targets Targets
	var errs []error

	if c.RoomID == "" {
		errs = append(errs, fmt.Errorf("room_id (TARGET_ROOM_ID) is required"))
	} else if roomID, err := ref.ParseRoomID(c.RoomID); err != nil {
		errs = append(errs, fmt.Errorf("room_id: %w", err))
	} else {
		targets.GatedRoom = roomID
	}

	if c.RulesEventID == "" {
		errs = append(errs, fmt.Errorf("rules_event_id (TARGET_EVENT_ID) is required"))
	} else if eventID, err := ref.ParseEventID(c.RulesEventID); err != nil {
		errs = append(errs, fmt.Errorf("rules_event_id: %w", err))
	} else {
		targets.RulesEvent = eventID
	}

	if c.InviteSpaceID == "" {
		errs = append(errs, fmt.Errorf("invite_space_id (INVITE_SPACE_ID) is required"))
	} else if spaceID, err := ref.ParseRoomID(c.InviteSpaceID); err != nil {
		errs = append(errs, fmt.Errorf("invite_space_id: %w", err))
	} else {
		targets.InviteSpace = spaceID
	}

	if len(errs) > 0 {
		return Targets{}, errors.Join(errs...)
	}
	return targets, nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	return level, nil
}

// ReadAccessToken returns the access token in a secret.Buffer, reading
// AccessTokenFile when set. The plaintext copy in the Config is cleared.
func (c *Config) ReadAccessToken() (*secret.Buffer, error) {
	if c.AccessTokenFile != "" {
		c.AccessToken = ""
		buffer, err := secret.ReadFromPath(c.AccessTokenFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading access token: %w", err)
		}
		return buffer, nil
	}
	if c.AccessToken == "" {
		return nil, fmt.Errorf("config: no access token configured")
	}
	buffer, err := secret.NewFromString(c.AccessToken)
	c.AccessToken = ""
	if err != nil {
		return nil, fmt.Errorf("config: protecting access token: %w", err)
	}
	return buffer, nil
}
