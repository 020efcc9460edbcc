package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"mail-aggregator-go/internal/model"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Cursor     CursorConfig     `mapstructure:"cursor"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Notifiers  NotifiersConfig  `mapstructure:"notifiers"`
	Accounts   []model.Account  `mapstructure:"accounts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SyncConfig holds synchronization engine configuration.
//
// WatchTimeout bounds the push-wait on the primary folder. The default of
// zero means the wait blocks until the server signals new mail or the
// connection drops. IdleRefresh is the IMAP IDLE re-issue interval used to
// keep the connection alive and does not end the wait.
type SyncConfig struct {
	BackfillWindow time.Duration `mapstructure:"backfill_window"`
	WatchTimeout   time.Duration `mapstructure:"watch_timeout"`
	IdleRefresh    time.Duration `mapstructure:"idle_refresh"`
	RescanSchedule string        `mapstructure:"rescan_schedule"`
}

// CursorConfig selects the cursor store backend
type CursorConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ClassifierConfig holds the classification service endpoint
type ClassifierConfig struct {
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IncludeBody bool          `mapstructure:"include_body"`
}

// NotifiersConfig holds configuration for every alert channel
type NotifiersConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Gmail   GmailConfig   `mapstructure:"gmail"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SlackConfig holds the Slack incoming webhook
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// WebhookConfig holds the generic JSON webhook
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// GmailConfig holds Gmail API credentials for alert emails
type GmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	From         string `mapstructure:"from"`
	To           string `mapstructure:"to"`
}

// Database and cursor driver names
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	CursorDatabase = "database"
	CursorFile     = "file"
)

// LoadConfig loads configuration from environment variables and config file.
// An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set defaults
	setDefaults(v)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.normalize()
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("log.level", "info")

	v.SetDefault("sync.backfill_window", "24h")
	v.SetDefault("sync.watch_timeout", "0s")
	v.SetDefault("sync.idle_refresh", "25m")
	v.SetDefault("sync.rescan_schedule", "")

	v.SetDefault("cursor.driver", CursorDatabase)
	v.SetDefault("cursor.path", "uid_tracker.json")

	v.SetDefault("classifier.url", "http://localhost:5000/predict")
	v.SetDefault("classifier.timeout", "10s")
	v.SetDefault("classifier.include_body", false)

	v.SetDefault("notifiers.timeout", "10s")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	v.BindEnv("log.level", "LOG_LEVEL")

	// Sync
	v.BindEnv("sync.backfill_window", "SYNC_BACKFILL_WINDOW")
	v.BindEnv("sync.watch_timeout", "SYNC_WATCH_TIMEOUT")
	v.BindEnv("sync.rescan_schedule", "SYNC_RESCAN_SCHEDULE")

	v.BindEnv("cursor.driver", "CURSOR_DRIVER")
	v.BindEnv("cursor.path", "CURSOR_PATH")

	v.BindEnv("classifier.url", "CLASSIFIER_URL")
	v.BindEnv("classifier.include_body", "CLASSIFIER_INCLUDE_BODY")

	// Notifiers
	v.BindEnv("notifiers.slack.webhook_url", "SLACK_WEBHOOK_URL")
	v.BindEnv("notifiers.webhook.url", "WEBHOOK_URL")
	v.BindEnv("notifiers.gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("notifiers.gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("notifiers.gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
}

// normalize fills per-account defaults viper cannot express for list elements
func (c *Config) normalize() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Auth.Mechanism == "" {
			a.Auth.Mechanism = model.AuthLogin
		}
		if a.Auth.Username == "" {
			a.Auth.Username = a.Address
		}
		if a.Address == "" {
			a.Address = a.Auth.Username
		}
		if a.Name == "" {
			a.Name = a.Address
		}
		if a.Port == 0 {
			a.Port = 143
			if a.Secure {
				a.Port = 993
			}
		}
		if a.PrimaryFolder == "" {
			a.PrimaryFolder = model.DefaultPrimaryFolder
		}
		if a.ForceInclude == nil {
			a.ForceInclude = append([]string(nil), model.DefaultForceInclude...)
		}
	}
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Cursor.Driver {
	case CursorDatabase:
	case CursorFile:
		if c.Cursor.Path == "" {
			return fmt.Errorf("cursor path is required for the file driver")
		}
	default:
		return fmt.Errorf("unsupported cursor driver %q", c.Cursor.Driver)
	}

	if c.Sync.BackfillWindow <= 0 {
		return fmt.Errorf("sync backfill window must be greater than 0")
	}
	if c.Sync.WatchTimeout < 0 {
		return fmt.Errorf("sync watch timeout must not be negative")
	}
	if c.Sync.RescanSchedule != "" {
		if _, err := cron.NewParser(cronSpec).Parse(c.Sync.RescanSchedule); err != nil {
			return fmt.Errorf("invalid rescan schedule: %w", err)
		}
	}

	if c.Classifier.URL == "" {
		return fmt.Errorf("classifier url is required")
	}

	if c.Notifiers.Gmail.Enabled {
		g := c.Notifiers.Gmail
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when the gmail notifier is enabled")
		}
		if g.To == "" {
			return fmt.Errorf("gmail notifier recipient is required")
		}
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if err := validateAccount(a); err != nil {
			return fmt.Errorf("account #%d: %w", i, err)
		}
		if seen[a.Identity()] {
			return fmt.Errorf("account #%d: duplicate account %s", i, a.Identity())
		}
		seen[a.Identity()] = true
	}

	return nil
}

func validateAccount(a model.Account) error {
	if a.Identity() == "" {
		return fmt.Errorf("address is required")
	}
	if a.Host == "" {
		return fmt.Errorf("host is required")
	}
	switch a.Auth.Mechanism {
	case model.AuthLogin:
		if a.Auth.Password == "" {
			return fmt.Errorf("password is required for %s", a.Identity())
		}
	case model.AuthOAuthBearer:
		if a.Auth.ClientID == "" || a.Auth.ClientSecret == "" || a.Auth.RefreshToken == "" {
			return fmt.Errorf("OAuth2 credentials are required for %s", a.Identity())
		}
	default:
		return fmt.Errorf("unsupported auth mechanism %q", a.Auth.Mechanism)
	}
	return nil
}

// cronSpec matches the six-field schedules accepted by cron.WithSeconds
const cronSpec = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor
