// Package config loads application configuration from an optional YAML file
// and INCIDENTS_BOT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys
// are separated by a double underscore: INCIDENTS_BOT_SLACK__TOKEN.
const EnvPrefix = "INCIDENTS_BOT_"

// Store backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendPostgres      = "postgres"
)

// Webhook authentication modes.
const (
	AuthNone  = "none"
	AuthBasic = "basic"
	AuthJWT   = "jwt"
)

// Config is the application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Webhook       WebhookConfig       `koanf:"webhook"`
	Store         StoreConfig         `koanf:"store"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Database      DatabaseConfig      `koanf:"database"`
	Jira          JiraConfig          `koanf:"jira"`
	Slack         SlackConfig         `koanf:"slack"`
	StatusPage    StatusPageConfig    `koanf:"statuspage"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WebhookConfig configures the chatbot webhook.
type WebhookConfig struct {
	Source string     `koanf:"source"`
	Auth   AuthConfig `koanf:"auth"`
}

// AuthConfig configures webhook authentication.
type AuthConfig struct {
	Mode         string `koanf:"mode"`
	Username     string `koanf:"username"`
	PasswordHash string `koanf:"password_hash"` // bcrypt
	JWTSecret    string `koanf:"jwt_secret"`
	JWTIssuer    string `koanf:"jwt_issuer"`
}

// StoreConfig configures incident persistence.
type StoreConfig struct {
	Backend       string        `koanf:"backend"`
	Index         string        `koanf:"index"`
	WriteAttempts int           `koanf:"write_attempts"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	TimeLayout    string        `koanf:"time_layout"`
	TimeZone      string        `koanf:"time_zone"`
}

// ElasticsearchConfig configures the Elasticsearch backend.
type ElasticsearchConfig struct {
	Addresses []string `koanf:"addresses"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
}

// DatabaseConfig configures the PostgreSQL backend.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// JiraConfig configures the issue tracker.
type JiraConfig struct {
	URL               string `koanf:"url"`
	Username          string `koanf:"username"`
	Password          string `koanf:"password"`
	Project           string `koanf:"project"`
	IssueType         string `koanf:"issue_type"`
	CloseTransitionID string `koanf:"close_transition_id"`
}

// SlackConfig configures the team chat.
type SlackConfig struct {
	Token         string   `koanf:"token"`
	APIURL        string   `koanf:"api_url"`
	MainChannelID string   `koanf:"main_channel_id"`
	InviteUserIDs []string `koanf:"invite_user_ids"`
	RateLimit     float64  `koanf:"rate_limit"`
	Burst         int      `koanf:"burst"`
}

// StatusPageConfig configures the Cachet status page.
type StatusPageConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url"`
	Token       string        `koanf:"token"`
	ComponentID int           `koanf:"component_id"`
	Timeout     time.Duration `koanf:"timeout"`
}

// CollaboratorsConfig bounds calls to external systems.
type CollaboratorsConfig struct {
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// Default returns the configuration used for every key left unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "5000",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Webhook: WebhookConfig{
			Source: "incidents-bot",
			Auth:   AuthConfig{Mode: AuthNone},
		},
		Store: StoreConfig{
			Backend:       BackendElasticsearch,
			Index:         "incidents",
			WriteAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
			TimeLayout:    "2006-01-02T15:04:05",
			TimeZone:      "UTC",
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses: []string{"http://localhost:9200"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectTimeout:  60 * time.Second,
			AutoMigrate:     true,
		},
		Jira: JiraConfig{
			Project:           "INC",
			IssueType:         "Task",
			CloseTransitionID: "1002",
		},
		Slack: SlackConfig{
			RateLimit: 1,
			Burst:     5,
		},
		StatusPage: StatusPageConfig{
			Timeout: 10 * time.Second,
		},
		Collaborators: CollaboratorsConfig{
			CallTimeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from path, when not empty, then from the
// environment. Environment variables win over the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// envKey maps INCIDENTS_BOT_SLACK__MAIN_CHANNEL_ID to slack.main_channel_id.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	switch c.Store.Backend {
	case BackendElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			errs = append(errs, errors.New("elasticsearch.addresses: required"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url: required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Index == "" {
		errs = append(errs, errors.New("store.index: required"))
	}
	if _, err := time.LoadLocation(c.Store.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("store.time_zone: %w", err))
	}

	if c.Jira.URL == "" {
		errs = append(errs, errors.New("jira.url: required"))
	}
	if c.Jira.Project == "" {
		errs = append(errs, errors.New("jira.project: required"))
	}
	if c.Slack.Token == "" {
		errs = append(errs, errors.New("slack.token: required"))
	}
	if c.StatusPage.Enabled && c.StatusPage.URL == "" {
		errs = append(errs, errors.New("statuspage.url: required when enabled"))
	}

	switch c.Webhook.Auth.Mode {
	case AuthNone, "":
	case AuthBasic:
		if c.Webhook.Auth.Username == "" || c.Webhook.Auth.PasswordHash == "" {
			errs = append(errs, errors.New("webhook.auth: username and password_hash required for basic auth"))
		}
	case AuthJWT:
		if len(c.Webhook.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("webhook.auth.jwt_secret: at least 32 bytes required"))
		}
	default:
		errs = append(errs, fmt.Errorf("webhook.auth.mode: unknown mode %q", c.Webhook.Auth.Mode))
	}

	return errors.Join(errs...)
}

// Location returns the time zone incident timestamps are written in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Store.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
