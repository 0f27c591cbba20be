package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DOCSUM"

// Config holds application configuration
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Badger     BadgerConfig     `mapstructure:"badger"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr string `mapstructure:"addr"`
}

type BadgerConfig struct {
	Path       string        `mapstructure:"path"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// SummarizerConfig describes how to reach the inference service.
type SummarizerConfig struct {
	Provider    string        `mapstructure:"provider"`
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxChars    int           `mapstructure:"max_chars"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("badger.path", "./badger-data")
	v.SetDefault("badger.gc_interval", 5*time.Minute)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.poll_timeout", 5*time.Second)
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("summarizer.provider", "ollama")
	v.SetDefault("summarizer.endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("summarizer.model", "gemma3:1b")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.temperature", 0.7)
	v.SetDefault("summarizer.timeout", 120*time.Second)
	v.SetDefault("summarizer.max_chars", 1500)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance with defaults and environment binding applied.
// Keys map to DOCSUM_ variables, e.g. redis.addr -> DOCSUM_REDIS_ADDR.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads configuration from .env, an optional YAML file and the environment.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Summarizer.MaxChars < 1 {
		return fmt.Errorf("summarizer.max_chars must be positive, got %d", c.Summarizer.MaxChars)
	}
	switch c.Summarizer.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown summarizer.provider %q", c.Summarizer.Provider)
	}
	if c.Fetch.Timeout <= 0 || c.Summarizer.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout and summarizer.timeout must be positive")
	}
	return nil
}
