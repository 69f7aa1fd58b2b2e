package deliverynote

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// EnvConfig is the environment variable holding the JSON configuration.
	EnvConfig = "DELIVERY_CONFIG"
	// EnvDbHost is the environment variable name for the database host.
	EnvDbHost = "DB_HOST"
	// EnvDbName is the environment variable name for the database name.
	EnvDbName = "DB_NAME"
	// EnvDbUser is the environment variable name for the database user.
	EnvDbUser = "DB_USER"
	// EnvDbPassword is the environment variable name for the database password.
	EnvDbPassword = "DB_PASSWORD"
	// EnvDbSSLMode is the environment variable name for the database SSL mode.
	EnvDbSSLMode = "DB_SSLMODE"
	// EnvImapUser is the environment variable name for the mailbox login.
	EnvImapUser = "IMAP_USER"
	// EnvImapPassword is the environment variable name for the mailbox password.
	EnvImapPassword = "IMAP_PASSWORD"
)

// Watermark store kinds accepted by the watermark-store key.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the application configuration settings.
type Config struct {
	AppIDs         []string `json:"api-keys"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Debug          bool     `json:"debug"`
	RulesFile      string   `json:"rules-file"`
	ImapHost       string   `json:"imap-host"`
	ImapPort       int      `json:"imap-port"`
	ImapTLS        bool     `json:"imap-tls"`
	ImapUser       string   `json:"imap-user"`
	ImapPassword   string   `json:"imap-password"`
	ImapAuth       string   `json:"imap-auth"`
	ImapMailbox    string   `json:"imap-mailbox"`
	PollInterval   int      `json:"poll-interval"` // seconds
	WatermarkStore string   `json:"watermark-store"`
	WatermarkPath  string   `json:"watermark-path"`
	DbHost         string   `json:"dbhost"`
	DbName         string   `json:"dbname"`
	DbUser         string   `json:"dbuser"`
	DbPassword     string   `json:"dbpassword"`
	DbSSLMode      string   `json:"dbsslmode"`
	OutputRoot     string   `json:"output-root"`
	ArchiveRoot    string   `json:"archive-root"`
	HandoffCommand []string `json:"handoff-command"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	return &Config{Host: "0.0.0.0",
		Port:           8334,
		RulesFile:      "email_rules.yaml",
		ImapPort:       993,
		ImapTLS:        true,
		ImapAuth:       "login",
		ImapMailbox:    "INBOX",
		PollInterval:   600,
		WatermarkStore: StoreFile,
		WatermarkPath:  "config/process_dates.json",
		DbHost:         "localhost",
		DbName:         "deliverynote",
		DbUser:         "dn",
		DbSSLMode:      "disable",
		OutputRoot:     "output",
		ArchiveRoot:    "archive",
		AppIDs:         []string{},
	}
}

// ParseConfig reads specified configuration string.
func ParseConfig(configStr string) (*Config, error) {
	config := DefaultConfig()

	if configStr == "" {
		return overwriteConfigFromEnv(config), nil
	}
	decoder := json.NewDecoder(strings.NewReader(configStr))
	err := decoder.Decode(config)
	if err != nil {
		return nil, errors.Mark(errors.WithStack(err), ErrConfig)
	}
	config = overwriteConfigFromEnv(config)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.WatermarkStore {
	case StoreFile, StoreSQLite, StorePostgres:
	default:
		return configErrorf(nil, "unknown watermark-store %q", c.WatermarkStore)
	}
	switch strings.ToLower(c.ImapAuth) {
	case "login", "plain":
	default:
		return configErrorf(nil, "unknown imap-auth %q", c.ImapAuth)
	}
	if c.PollInterval <= 0 {
		return configErrorf(nil, "poll-interval must be positive, got %d", c.PollInterval)
	}
	return nil
}

// pollInterval returns the configured interval between poll cycles.
func (c *Config) pollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// overwriteConfigFromEnv overrides configuration values with environment
// variables when they are set.
func overwriteConfigFromEnv(config *Config) *Config {
	if value, found := os.LookupEnv(EnvDbHost); found {
		config.DbHost = value
	}
	if value, found := os.LookupEnv(EnvDbName); found {
		config.DbName = value
	}
	if value, found := os.LookupEnv(EnvDbUser); found {
		config.DbUser = value
	}
	if value, found := os.LookupEnv(EnvDbPassword); found {
		config.DbPassword = value
	}
	if value, found := os.LookupEnv(EnvDbSSLMode); found {
		config.DbSSLMode = value
	}
	if value, found := os.LookupEnv(EnvImapUser); found {
		config.ImapUser = value
	}
	if value, found := os.LookupEnv(EnvImapPassword); found {
		config.ImapPassword = value
	}
	return config
}
