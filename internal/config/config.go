package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/preview"
)

type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	RateLimit  float64       `mapstructure:"rate_limit"` // runs per second per client
	RateBurst  int           `mapstructure:"rate_burst"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type Judge0Settings struct {
	BaseURL        string        `mapstructure:"base_url"`
	Host           string        `mapstructure:"host"`
	APIKey         string        `mapstructure:"api_key"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PreviewConfig struct {
	Store      string        `mapstructure:"store"` // memory or redis
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Minify     bool          `mapstructure:"minify"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LanguagesConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Judge0    Judge0Settings  `mapstructure:"judge0"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Languages LanguagesConfig `mapstructure:"languages"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads configuration from path, or from codepad.yaml in the working
// directory or $HOME/.codepad when path is empty. A missing file is not an
// error; defaults and CODEPAD_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codepad")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.codepad")
	}

	v.SetEnvPrefix("CODEPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Judge0.APIKey = expandEnv(cfg.Judge0.APIKey)
	cfg.Judge0.BaseURL = expandEnv(cfg.Judge0.BaseURL)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.session_ttl", time.Hour)

	v.SetDefault("judge0.base_url", "https://judge0-ce.p.rapidapi.com")
	v.SetDefault("judge0.host", "judge0-ce.p.rapidapi.com")
	v.SetDefault("judge0.api_key", "${RAPID_API_KEY}")
	v.SetDefault("judge0.poll_interval", 2*time.Second)
	v.SetDefault("judge0.max_attempts", 5)
	v.SetDefault("judge0.request_timeout", 10*time.Second)

	v.SetDefault("preview.store", "memory")
	v.SetDefault("preview.ttl", 30*time.Minute)
	v.SetDefault("preview.max_entries", 256)
	v.SetDefault("preview.minify", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".codepad", "codepad.db"))

	v.SetDefault("languages.file", "")
	v.SetDefault("languages.watch", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) validate() error {
	switch c.Preview.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("preview.store must be memory or redis, got %q", c.Preview.Store)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Judge0.MaxAttempts < 1 {
		return fmt.Errorf("judge0.max_attempts must be at least 1")
	}
	return nil
}

// expandEnv replaces a value of the form ${NAME} with that environment
// variable. Other values are returned unchanged.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Judge0Config returns the credentials and endpoint for the executor client.
func (c *Config) Judge0Config() judge0.Config {
	return judge0.Config{
		BaseURL:        c.Judge0.BaseURL,
		Host:           c.Judge0.Host,
		APIKey:         c.Judge0.APIKey,
		RequestTimeout: c.Judge0.RequestTimeout,
	}
}

// DispatchConfig returns the polling and preview settings for the dispatcher.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		PollInterval: c.Judge0.PollInterval,
		MaxAttempts:  c.Judge0.MaxAttempts,
		Minify:       c.Preview.Minify,
	}
}

// RedisPreviewConfig returns the settings for a Redis-backed preview store.
func (c *Config) RedisPreviewConfig() preview.RedisConfig {
	return preview.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TTL:      c.Preview.TTL,
	}
}
