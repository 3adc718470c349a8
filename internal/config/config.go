// Package config handles configuration loading for tickerpulse.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "TICKERPULSE"

// Config represents the complete application configuration.
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm"         yaml:"llm"`
	Sources     SourcesConfig     `mapstructure:"sources"     yaml:"sources"`
	Aggregation AggregationConfig `mapstructure:"aggregation" yaml:"aggregation"`
	Quota       QuotaConfig       `mapstructure:"quota"       yaml:"quota"`
	Cache       CacheConfig       `mapstructure:"cache"       yaml:"cache"`
	Database    DatabaseConfig    `mapstructure:"database"    yaml:"database"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"    yaml:"schedule"`
	Summary     SummaryConfig     `mapstructure:"summary"     yaml:"summary"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Notify      NotifyConfig      `mapstructure:"notify"      yaml:"notify"`
}

// LLMConfig holds text-generation provider configuration.
type LLMConfig struct {
	Primary      string  `mapstructure:"primary"        yaml:"primary"` // "gemini", "openai", "anthropic", "ollama"
	GeminiKey    string  `mapstructure:"gemini_key"     yaml:"gemini_key"`
	OpenAIKey    string  `mapstructure:"openai_key"     yaml:"openai_key"`
	AnthropicKey string  `mapstructure:"anthropic_key"  yaml:"anthropic_key"`
	OllamaURL    string  `mapstructure:"ollama_url"     yaml:"ollama_url"`
	Model        string  `mapstructure:"model"          yaml:"model"`
	Temperature  float64 `mapstructure:"temperature"    yaml:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"     yaml:"max_tokens"`
	TimeoutSec   int     `mapstructure:"timeout_sec"    yaml:"timeout_sec"`
}

// Timeout returns the per-call text-generation timeout.
func (c LLMConfig) Timeout() time.Duration { return seconds(c.TimeoutSec) }

// SourcesConfig holds content-source credentials and toggles.
type SourcesConfig struct {
	PolygonKey      string   `mapstructure:"polygon_key"      yaml:"polygon_key"`
	AlphaVantageKey string   `mapstructure:"alphavantage_key" yaml:"alphavantage_key"`
	FinnhubKey      string   `mapstructure:"finnhub_key"      yaml:"finnhub_key"`
	AlpacaKey       string   `mapstructure:"alpaca_key"       yaml:"alpaca_key"`
	AlpacaSecret    string   `mapstructure:"alpaca_secret"    yaml:"alpaca_secret"`
	Disabled        []string `mapstructure:"disabled"         yaml:"disabled"` // adapter names to skip
	UserAgent       string   `mapstructure:"user_agent"       yaml:"user_agent"`
}

// IsDisabled reports whether the named adapter was switched off.
func (c SourcesConfig) IsDisabled(name string) bool {
	for _, d := range c.Disabled {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// AggregationConfig holds tier pool sizes and deadlines.
type AggregationConfig struct {
	PriorityWorkers      int `mapstructure:"priority_workers"       yaml:"priority_workers"`
	PriorityTimeoutSec   int `mapstructure:"priority_timeout_sec"   yaml:"priority_timeout_sec"`
	PriorityDeadlineSec  int `mapstructure:"priority_deadline_sec"  yaml:"priority_deadline_sec"`
	SecondaryWorkers     int `mapstructure:"secondary_workers"      yaml:"secondary_workers"`
	SecondaryTimeoutSec  int `mapstructure:"secondary_timeout_sec"  yaml:"secondary_timeout_sec"`
	SecondaryDeadlineSec int `mapstructure:"secondary_deadline_sec" yaml:"secondary_deadline_sec"`
	SequentialTimeoutSec int `mapstructure:"sequential_timeout_sec" yaml:"sequential_timeout_sec"`
}

// QuotaConfig holds per-provider daily call budgets.
type QuotaConfig struct {
	Limits    map[string]int `mapstructure:"limits"     yaml:"limits"` // 0 or absent = unbounded
	StateFile string         `mapstructure:"state_file" yaml:"state_file"`
	Timezone  string         `mapstructure:"timezone"   yaml:"timezone"`
}

// CacheConfig holds cache backend and TTL settings.
type CacheConfig struct {
	RestURL          string `mapstructure:"rest_url"           yaml:"rest_url"`
	RestToken        string `mapstructure:"rest_token"         yaml:"rest_token"`
	RedisURL         string `mapstructure:"redis_url"          yaml:"redis_url"`
	NewsTTLSec       int    `mapstructure:"news_ttl_sec"       yaml:"news_ttl_sec"`
	SummaryTTLSec    int    `mapstructure:"summary_ttl_sec"    yaml:"summary_ttl_sec"`
	SweepIntervalSec int    `mapstructure:"sweep_interval_sec" yaml:"sweep_interval_sec"`
	ProbeTimeoutSec  int    `mapstructure:"probe_timeout_sec"  yaml:"probe_timeout_sec"`
}

// NewsTTL returns the raw-article namespace TTL.
func (c CacheConfig) NewsTTL() time.Duration { return seconds(c.NewsTTLSec) }

// SummaryTTL returns the summary namespace TTL.
func (c CacheConfig) SummaryTTL() time.Duration { return seconds(c.SummaryTTLSec) }

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"    yaml:"dsn"`
}

// ScheduleConfig holds the daily batch trigger settings.
type ScheduleConfig struct {
	DailyAt     string   `mapstructure:"daily_at"     yaml:"daily_at"` // "HH:MM"
	Timezone    string   `mapstructure:"timezone"     yaml:"timezone"`
	PauseMillis int      `mapstructure:"pause_ms"     yaml:"pause_ms"` // between symbols
	SeedSymbols []string `mapstructure:"seed_symbols" yaml:"seed_symbols"`
	Enabled     bool     `mapstructure:"enabled"      yaml:"enabled"`
}

// SummaryConfig holds summarization bounds.
type SummaryConfig struct {
	SelectCount  int `mapstructure:"select_count"  yaml:"select_count"`
	HistoryDays  int `mapstructure:"history_days"  yaml:"history_days"`
	HistoryChars int `mapstructure:"history_chars" yaml:"history_chars"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// NotifyConfig holds the daily digest mail settings.
type NotifyConfig struct {
	Enabled       bool     `mapstructure:"enabled"        yaml:"enabled"`
	SMTPHost      string   `mapstructure:"smtp_host"      yaml:"smtp_host"`
	SMTPPort      int      `mapstructure:"smtp_port"      yaml:"smtp_port"`
	SMTPUser      string   `mapstructure:"smtp_user"      yaml:"smtp_user"`
	SMTPPassword  string   `mapstructure:"smtp_password"  yaml:"smtp_password"`
	From          string   `mapstructure:"from"           yaml:"from"`
	To            []string `mapstructure:"to"             yaml:"to"`
	SubjectPrefix string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.tickerpulse/config.yaml (home directory)
//  3. /etc/tickerpulse/config.yaml (system)
//
// Environment variables override config file values.
// Format: TICKERPULSE_<SECTION>_<KEY>, e.g., TICKERPULSE_LLM_GEMINI_KEY
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".tickerpulse"))
	v.AddConfigPath("/etc/tickerpulse")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Aggregation.PriorityWorkers < 1 || c.Aggregation.SecondaryWorkers < 1 {
		return fmt.Errorf("config: aggregation worker pools must be >= 1")
	}
	if c.Summary.SelectCount < 1 {
		return fmt.Errorf("config: summary.select_count must be >= 1")
	}
	if c.Notify.Enabled && (c.Notify.SMTPHost == "" || c.Notify.From == "" || len(c.Notify.To) == 0) {
		return fmt.Errorf("config: notify requires smtp_host, from and to when enabled")
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.ollama_url", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout_sec", 60)

	// Source defaults
	v.SetDefault("sources.disabled", []string{})
	v.SetDefault("sources.user_agent", "")

	// Aggregation defaults
	v.SetDefault("aggregation.priority_workers", 3)
	v.SetDefault("aggregation.priority_timeout_sec", 15)
	v.SetDefault("aggregation.priority_deadline_sec", 30)
	v.SetDefault("aggregation.secondary_workers", 5)
	v.SetDefault("aggregation.secondary_timeout_sec", 20)
	v.SetDefault("aggregation.secondary_deadline_sec", 45)
	v.SetDefault("aggregation.sequential_timeout_sec", 20)

	// Quota defaults (free-tier budgets)
	v.SetDefault("quota.limits", map[string]int{
		"gemini":             800,
		"polygon":            7200,
		"alphavantage":       25,
		"alphavantage_quote": 25,
		"finnhub":            0,
	})
	v.SetDefault("quota.state_file", "")
	v.SetDefault("quota.timezone", "Asia/Kolkata")

	// Cache defaults
	v.SetDefault("cache.news_ttl_sec", 4*3600)
	v.SetDefault("cache.summary_ttl_sec", 2*3600)
	v.SetDefault("cache.sweep_interval_sec", 3600)
	v.SetDefault("cache.probe_timeout_sec", 5)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tickerpulse.db")

	// Schedule defaults
	v.SetDefault("schedule.daily_at", "08:00")
	v.SetDefault("schedule.timezone", "Asia/Kolkata")
	v.SetDefault("schedule.pause_ms", 2000)
	v.SetDefault("schedule.seed_symbols", []string{"AAPL", "MSFT", "GOOGL"})
	v.SetDefault("schedule.enabled", true)

	// Summary defaults
	v.SetDefault("summary.select_count", 5)
	v.SetDefault("summary.history_days", 7)
	v.SetDefault("summary.history_chars", 300)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.subject_prefix", "[tickerpulse]")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// AutomaticEnv only applies to keys viper already knows, so credentials
// without a default are read here.
func overrideFromEnv(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"TICKERPULSE_LLM_GEMINI_KEY", &cfg.LLM.GeminiKey},
		{"TICKERPULSE_LLM_OPENAI_KEY", &cfg.LLM.OpenAIKey},
		{"TICKERPULSE_LLM_ANTHROPIC_KEY", &cfg.LLM.AnthropicKey},
		{"TICKERPULSE_SOURCES_POLYGON_KEY", &cfg.Sources.PolygonKey},
		{"TICKERPULSE_SOURCES_ALPHAVANTAGE_KEY", &cfg.Sources.AlphaVantageKey},
		{"TICKERPULSE_SOURCES_FINNHUB_KEY", &cfg.Sources.FinnhubKey},
		{"TICKERPULSE_SOURCES_ALPACA_KEY", &cfg.Sources.AlpacaKey},
		{"TICKERPULSE_SOURCES_ALPACA_SECRET", &cfg.Sources.AlpacaSecret},
		{"TICKERPULSE_CACHE_REST_URL", &cfg.Cache.RestURL},
		{"TICKERPULSE_CACHE_REST_TOKEN", &cfg.Cache.RestToken},
		{"TICKERPULSE_CACHE_REDIS_URL", &cfg.Cache.RedisURL},
		{"TICKERPULSE_NOTIFY_SMTP_PASSWORD", &cfg.Notify.SMTPPassword},
	}
	for _, o := range overrides {
		if val := os.Getenv(o.env); val != "" {
			*o.target = val
		}
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
