package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultChannels are the medical channels scraped when none are configured.
var DefaultChannels = []string{
	"lobelia4cosmetics",
	"CheMed123",
	"tikvahpharma",
	"HakimApps_Guideline",
	"rayapharmaceuticals",
	"cafimadEt",
	"ellamedicals",
}

// Config holds the configuration of every pipeline binary. Each binary
// validates only the sections it uses.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Collector CollectorConfig `yaml:"collector"`
	Storage   StorageConfig   `yaml:"storage"`
	Detector  DetectorConfig  `yaml:"detector"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Notify    NotifyConfig    `yaml:"notify"`
	Transform TransformConfig `yaml:"transform"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// DatabaseConfig contains configuration for the warehouse connection.
// URL wins over the individual fields when set.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "sqlite"
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// TelegramConfig contains the MTProto user credentials.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	Phone       string `yaml:"phone"`
	Password    string `yaml:"password"` // 2FA password, optional
	SessionFile string `yaml:"session_file"`
}

// CollectorConfig controls the scraper.
type CollectorConfig struct {
	Channels     []string      `yaml:"channels"`
	MessageLimit int           `yaml:"message_limit"`
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"channel_timeout"`
}

// StorageConfig locates the partitioned local store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DetectorConfig points at the object-detection service.
type DetectorConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
}

// ServerConfig configures the analytics API.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

// NotifyConfig enables operator alerts through a Telegram bot.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// TransformConfig locates the external SQL transform project.
type TransformConfig struct {
	ProjectDir string   `yaml:"project_dir"`
	Command    []string `yaml:"command"`
}

// PipelineConfig locates the stage binaries run by the orchestrator.
type PipelineConfig struct {
	BinDir     string `yaml:"bin_dir"`
	ConfigPath string `yaml:"config_path"`
}

// StageConfig returns the config file passed to the stage binaries: the
// configured config_path, or own (the orchestrator's file) when unset.
func (p PipelineConfig) StageConfig(own string) string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return own
}

// LoadConfig reads configuration from the YAML file at configPath (skipped when
// empty), expands ${VAR} references, applies environment overrides and fills
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	config.expandEnv()
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	config.setDefaults()

	return config, nil
}

func (c *Config) expandEnv() {
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Database.Password = os.ExpandEnv(c.Database.Password)
	c.Telegram.APIHash = os.ExpandEnv(c.Telegram.APIHash)
	c.Telegram.Password = os.ExpandEnv(c.Telegram.Password)
	c.Notify.BotToken = os.ExpandEnv(c.Notify.BotToken)
}

// applyEnv overrides file values with the documented environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATABASE_URL":      &c.Database.URL,
		"DATABASE_DRIVER":   &c.Database.Driver,
		"POSTGRES_HOST":     &c.Database.Host,
		"POSTGRES_DB":       &c.Database.Name,
		"POSTGRES_USER":     &c.Database.User,
		"POSTGRES_PASSWORD": &c.Database.Password,
		"TG_API_HASH":       &c.Telegram.APIHash,
		"TG_PHONE":          &c.Telegram.Phone,
		"TG_PASSWORD":       &c.Telegram.Password,
		"TG_SESSION_FILE":   &c.Telegram.SessionFile,
		"DATA_DIR":          &c.Storage.DataDir,
		"DETECTOR_URL":      &c.Detector.URL,
		"NOTIFY_BOT_TOKEN":  &c.Notify.BotToken,
		"API_PORT":          &c.Server.Port,
		"LOG_LEVEL":         &c.Logging.Level,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POSTGRES_PORT": &c.Database.Port,
		"TG_API_ID":     &c.Telegram.APIID,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("NOTIFY_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_CHAT_ID: %w", err)
		}
		c.Notify.ChatID = id
		c.Notify.Enabled = true
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Telegram.SessionFile == "" {
		c.Telegram.SessionFile = "session.json"
	}
	if len(c.Collector.Channels) == 0 {
		c.Collector.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Collector.MessageLimit == 0 {
		c.Collector.MessageLimit = 100
	}
	if c.Collector.Concurrency == 0 {
		c.Collector.Concurrency = 1
	}
	if c.Collector.Timeout == 0 {
		c.Collector.Timeout = 5 * time.Minute
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Detector.URL == "" {
		c.Detector.URL = "http://localhost:8001"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 30 * time.Second
	}
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = "logs/warehouse_pipeline.log"
	}
	if c.Transform.ProjectDir == "" {
		c.Transform.ProjectDir = "kara_dbt"
	}
	if len(c.Transform.Command) == 0 {
		c.Transform.Command = []string{"dbt", "run"}
	}
	if c.Pipeline.BinDir == "" {
		c.Pipeline.BinDir = "bin"
	}
}

// DSN returns the data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

// ValidateDatabase checks the warehouse settings.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" && (c.Database.Name == "" || c.Database.User == "") {
			return errors.New("database: set DATABASE_URL or POSTGRES_DB and POSTGRES_USER")
		}
	case "sqlite":
		if c.Database.URL == "" {
			return errors.New("database: sqlite driver needs url (file path)")
		}
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	return nil
}

// ValidateTelegram checks the MTProto credentials.
func (c *Config) ValidateTelegram() error {
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		return errors.New("telegram: TG_API_ID and TG_API_HASH are required")
	}
	if c.Telegram.Phone == "" {
		return errors.New("telegram: TG_PHONE is required")
	}
	if c.Collector.MessageLimit < 0 || c.Collector.Concurrency < 0 {
		return errors.New("collector: message_limit and concurrency must be positive")
	}
	return nil
}

// ValidateDetector checks the detector settings.
func (c *Config) ValidateDetector() error {
	if _, err := url.ParseRequestURI(c.Detector.URL); err != nil {
		return fmt.Errorf("detector: invalid url: %w", err)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector: min_confidence %v outside [0,1]", c.Detector.MinConfidence)
	}
	return nil
}

// ValidateNotify checks the operator alert settings.
func (c *Config) ValidateNotify() error {
	if !c.Notify.Enabled {
		return nil
	}
	if c.Notify.BotToken == "" || c.Notify.ChatID == 0 {
		return errors.New("notify: bot_token and chat_id are required when enabled")
	}
	return nil
}
