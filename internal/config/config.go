package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	AI         AIConfig         `mapstructure:"ai"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	History    HistoryConfig    `mapstructure:"history"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string  `mapstructure:"token"`
	UpdateTimeout int     `mapstructure:"update_timeout"`
	AccessMode    string  `mapstructure:"access_mode"` // "open" or "whitelist"
	AdminUsers    []int64 `mapstructure:"admin_users"`
}

type AIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	AvailableModels []string      `mapstructure:"available_models"`
	SpeechModel     string        `mapstructure:"speech_model"`
	TTSModel        string        `mapstructure:"tts_model"`
	Speakers        []string      `mapstructure:"speakers"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DefaultsConfig seeds new profiles on first interaction
type DefaultsConfig struct {
	Model        string  `mapstructure:"model"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature"`
	TopP         float64 `mapstructure:"top_p"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Language     string  `mapstructure:"language"`
	Speaker      string  `mapstructure:"speaker"`
}

type HistoryConfig struct {
	MaxMessages        int  `mapstructure:"max_messages"`
	RemindSystemPrompt bool `mapstructure:"remind_system_prompt"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"` // sqlite, redis or memory
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RateLimitConfig configures admission control. Each scope refills
// continuously at requests/window and is capped at requests.
type RateLimitConfig struct {
	GlobalRequests int           `mapstructure:"global_requests"`
	GlobalWindow   time.Duration `mapstructure:"global_window"`
	UserRequests   int           `mapstructure:"user_requests"`
	UserWindow     time.Duration `mapstructure:"user_window"`
	LimiterTTL     time.Duration `mapstructure:"limiter_ttl"`
}

type SessionConfig struct {
	DialogTimeout time.Duration `mapstructure:"dialog_timeout"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("bot.update_timeout", 30)
	viper.SetDefault("bot.access_mode", "open")

	viper.SetDefault("ai.request_timeout", 2*time.Minute)

	viper.SetDefault("defaults.temperature", 0.7)
	viper.SetDefault("defaults.top_p", 1.0)
	viper.SetDefault("defaults.max_tokens", 1024)
	viper.SetDefault("defaults.language", "en")

	viper.SetDefault("history.max_messages", 20)

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.path", "data/users.db")

	viper.SetDefault("cache.ttl", 10*time.Minute)
	viper.SetDefault("cache.cleanup_interval", 20*time.Minute)

	viper.SetDefault("rate_limit.global_requests", 60)
	viper.SetDefault("rate_limit.global_window", time.Minute)
	viper.SetDefault("rate_limit.user_requests", 10)
	viper.SetDefault("rate_limit.user_window", time.Minute)
	viper.SetDefault("rate_limit.limiter_ttl", time.Hour)

	viper.SetDefault("session.dialog_timeout", 5*time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en"})
	viper.SetDefault("i18n.directory", "configs/i18n")
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.AI.BaseURL == "" {
		return fmt.Errorf("ai base_url is required")
	}
	if len(cfg.AI.AvailableModels) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	if cfg.Defaults.Model == "" {
		cfg.Defaults.Model = cfg.AI.AvailableModels[0]
	}
	if cfg.Bot.AccessMode != "open" && cfg.Bot.AccessMode != "whitelist" {
		return fmt.Errorf("unsupported access mode: %s", cfg.Bot.AccessMode)
	}
	if cfg.RateLimit.GlobalRequests <= 0 || cfg.RateLimit.UserRequests <= 0 {
		return fmt.Errorf("rate limit capacities must be positive")
	}
	defaultLoaded := false
	for _, lang := range cfg.I18n.Languages {
		if lang == cfg.I18n.DefaultLanguage {
			defaultLoaded = true
			break
		}
	}
	if !defaultLoaded {
		return fmt.Errorf("i18n default language %q is not among the loaded languages", cfg.I18n.DefaultLanguage)
	}
	return nil
}
