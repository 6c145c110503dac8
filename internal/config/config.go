package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Collector     CollectorConfig     `yaml:"collector"`
	Accounts      []AccountConfig     `yaml:"accounts"`
	Audit         AuditConfig         `yaml:"audit"`
	Jira          JiraConfig          `yaml:"jira"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type CollectorConfig struct {
	Workers int                `yaml:"workers"`
	Detail  models.DetailLevel `yaml:"detail"`

	// Regions pins collection to a fixed region list. Empty means discover
	// regions per account through the connector.
	Regions []string `yaml:"regions"`

	// TroubleRegions lists regions per resource type where connectivity
	// failures are expected and suppressed from failure reporting.
	TroubleRegions map[string][]string `yaml:"trouble_regions"`

	// Ignore lists identifier prefixes per resource type; matching resources
	// are excluded from collection entirely.
	Ignore map[string][]string `yaml:"ignore"`
}

type AccountConfig struct {
	Name          string `yaml:"name"`
	HomeRegion    string `yaml:"home_region"`
	AssumeRoleARN string `yaml:"assume_role_arn"`
	ExternalID    string `yaml:"external_id"`
}

type AuditConfig struct {
	// ReferenceData points at a YAML file with `teams:` and `users:` lists.
	// When absent or unreadable the engine falls back to a built-in list.
	ReferenceData string `yaml:"reference_data"`
	EmailDomain   string `yaml:"email_domain"`
}

type JiraConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Server    string `yaml:"server"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Project   string `yaml:"project"`
	IssueType string `yaml:"issue_type"`

	// URL is the dashboard base used for the deep link in ticket bodies.
	URL string `yaml:"url"`
}

type NotificationsConfig struct {
	Slack SlackNotifyConfig `yaml:"slack"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Collector.Workers == 0 {
		c.Collector.Workers = 10
	}
	if c.Collector.Detail == "" {
		c.Collector.Detail = models.DetailFull
	}

	if c.Audit.EmailDomain == "" {
		c.Audit.EmailDomain = "yelp.com"
	}

	if c.Jira.IssueType == "" {
		c.Jira.IssueType = "Task"
	}
}

// Validate reports startup-time configuration errors. Per-pass failures are
// handled downstream; only total absence of required tracker configuration is
// fatal here.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	switch c.Collector.Detail {
	case models.DetailNone, models.DetailSummary, models.DetailFull:
	default:
		return fmt.Errorf("invalid collector detail level %q", c.Collector.Detail)
	}
	if c.Jira.Enabled {
		if c.Jira.Server == "" {
			return fmt.Errorf("jira sync enabled but no server configured")
		}
		if c.Jira.Project == "" {
			return fmt.Errorf("jira sync enabled but no project configured")
		}
		if c.Jira.Username == "" || c.Jira.Password == "" {
			return fmt.Errorf("jira sync enabled but credentials missing")
		}
	}
	return nil
}
