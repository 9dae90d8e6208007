// Package config loads the analyst configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file
// (path argument or ANALYST_CONFIG), then environment variables. A .env file
// in the working directory is loaded into the environment first and never
// overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Model      ModelConfig      `yaml:"model"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Agent      AgentConfig      `yaml:"agent"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Slack      SlackConfig      `yaml:"slack"`
}

type ModelConfig struct {
	// Provider is one of anthropic, openai or openrouter.
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Secure   bool   `yaml:"secure"`
	// CACert is a PEM file. Without it the server certificate is not verified.
	CACert   string `yaml:"ca_cert"`
	RowLimit int    `yaml:"row_limit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	URL  string `yaml:"url"`
}

type StorageConfig struct {
	DataDir         string        `yaml:"data_dir"`
	ResultTTL       time.Duration `yaml:"result_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type AgentConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	MaxHistoryTurns int           `yaml:"max_history_turns"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type SandboxConfig struct {
	Python      string        `yaml:"python"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int64         `yaml:"concurrency"`
}

type JobsConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	TTL       time.Duration `yaml:"ttl"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Model: ModelConfig{
			Provider:  "anthropic",
			MaxTokens: 8192,
		},
		ClickHouse: ClickHouseConfig{
			Port:     8443,
			User:     "default",
			Database: "default",
			Secure:   true,
			RowLimit: 50000,
		},
		Server: ServerConfig{
			Addr: ":8000",
			URL:  "http://localhost:8000",
		},
		Storage: StorageConfig{
			DataDir:         "./data",
			ResultTTL:       time.Hour,
			CleanupInterval: 30 * time.Minute,
		},
		Agent: AgentConfig{
			MaxIterations:   15,
			MaxHistoryTurns: 10,
			RequestTimeout:  10 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Python:      "python3",
			Timeout:     2 * time.Minute,
			Concurrency: 4,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
			TTL:       time.Hour,
		},
	}
}

// Load builds the configuration. An empty path falls back to ANALYST_CONFIG;
// with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("ANALYST_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, set func(int64)) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			set(n)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.LogLevel)

	str("MODEL_PROVIDER", &c.Model.Provider)
	str("MODEL", &c.Model.Name)
	str("LLM_BASE_URL", &c.Model.BaseURL)
	num("MAX_TOKENS", func(n int64) { c.Model.MaxTokens = n })
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	for _, key := range []string{providerKeyEnv(c.Model.Provider), "LLM_API_KEY"} {
		if key != "" {
			str(key, &c.Model.APIKey)
		}
	}

	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	num("CLICKHOUSE_PORT", func(n int64) { c.ClickHouse.Port = int(n) })
	str("CLICKHOUSE_USER", &c.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	flag("CLICKHOUSE_SECURE", &c.ClickHouse.Secure)
	str("CLICKHOUSE_CA_CERT", &c.ClickHouse.CACert)
	num("QUERY_ROW_LIMIT", func(n int64) { c.ClickHouse.RowLimit = int(n) })

	str("ANALYST_ADDR", &c.Server.Addr)
	str("SERVER_URL", &c.Server.URL)

	str("DATA_DIR", &c.Storage.DataDir)
	dur("TEMP_FILE_TTL", &c.Storage.ResultTTL)
	dur("CLEANUP_INTERVAL", &c.Storage.CleanupInterval)

	num("MAX_AGENT_ITERATIONS", func(n int64) { c.Agent.MaxIterations = int(n) })
	num("MAX_HISTORY_TURNS", func(n int64) { c.Agent.MaxHistoryTurns = int(n) })
	dur("REQUEST_TIMEOUT", &c.Agent.RequestTimeout)

	str("PYTHON_BIN", &c.Sandbox.Python)
	dur("SANDBOX_TIMEOUT", &c.Sandbox.Timeout)
	num("SANDBOX_CONCURRENCY", func(n int64) { c.Sandbox.Concurrency = n })

	num("JOB_WORKERS", func(n int64) { c.Jobs.Workers = int(n) })
	num("JOB_QUEUE_SIZE", func(n int64) { c.Jobs.QueueSize = int(n) })
	dur("JOB_TTL", &c.Jobs.TTL)

	str("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	str("SLACK_APP_TOKEN", &c.Slack.AppToken)

	return errors.Join(errs...)
}

// providerKeyEnv names the provider-specific key variable. LLM_API_KEY is
// applied after it and wins.
func providerKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	}
	return ""
}

// parseDuration accepts Go durations ("90s", "1h") and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings every binary needs. Model and Slack
// credentials are checked by ValidateModel and ValidateSlack.
func (c *Config) Validate() error {
	var errs []error
	if c.ClickHouse.Host == "" {
		errs = append(errs, errors.New("CLICKHOUSE_HOST is required"))
	}
	if c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid clickhouse port %d", c.ClickHouse.Port))
	}
	if c.ClickHouse.RowLimit <= 0 {
		errs = append(errs, errors.New("query row limit must be positive"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("max agent iterations must be positive"))
	}
	if c.Sandbox.Concurrency <= 0 {
		errs = append(errs, errors.New("sandbox concurrency must be positive"))
	}
	if c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 {
		errs = append(errs, errors.New("job workers and queue size must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateModel reports an unknown provider or a missing API key.
func (c *Config) ValidateModel() error {
	var errs []error
	switch c.Model.Provider {
	case "anthropic", "openai", "openrouter":
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	if c.Model.APIKey == "" {
		errs = append(errs, errors.New("model api key is required (LLM_API_KEY or the provider key)"))
	}
	return errors.Join(errs...)
}

// ValidateSlack reports missing Slack credentials.
func (c *Config) ValidateSlack() error {
	if c.Slack.BotToken == "" || c.Slack.AppToken == "" {
		return errors.New("SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required")
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "chat_history.db")
}

func (c *Config) ResultsDir() string {
	return filepath.Join(c.Storage.DataDir, "results")
}

func (c *Config) Level() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
