package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the completions adapter.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Defaults      DefaultsConfig      `mapstructure:"defaults"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

// BackendConfig describes the hosted inference backend. The credential is
// never part of it: it comes from each inbound request.
type BackendConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Version      string        `mapstructure:"version"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PreferWait   time.Duration `mapstructure:"prefer_wait"`
}

// DefaultsConfig holds generation defaults and request bounds.
type DefaultsConfig struct {
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	DoSample       bool    `mapstructure:"do_sample"`
	MaxTokensLimit int     `mapstructure:"max_tokens_limit"`
	MaxImages      int     `mapstructure:"max_images"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("CEREBRO_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("cerebro")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CEREBRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
// Every problem found is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.Backend.validate()...)
	errs = append(errs, c.Defaults.validate()...)
	if c.Server.BodyLimitMB <= 0 {
		errs = append(errs, errors.New("server.body_limit_mb must be > 0"))
	}
	if c.Redis.PoolSize < 0 {
		errs = append(errs, errors.New("redis.pool_size must be >= 0"))
	}
	if c.Idempotency.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		errs = append(errs, errors.New("idempotency.enabled requires redis.url"))
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 30 * time.Minute
	}
	if c.RateLimits.RequestsPerMinute < 0 || c.RateLimits.ParallelRequests < 0 {
		errs = append(errs, errors.New("rate_limits values must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json":
		c.Logging.Format = "json"
	case "text":
		c.Logging.Format = "text"
	default:
		errs = append(errs, errors.New("logging.format must be json or text"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print. Credentials embedded in URLs are
// masked.
func (c Config) Redacted() Config {
	c.Redis.URL = redactURL(c.Redis.URL)
	c.Backend.BaseURL = redactURL(c.Backend.BaseURL)
	c.Observability.OTLPEndpoint = redactURL(c.Observability.OTLPEndpoint)
	return c
}

func redactURL(raw string) string {
	if !strings.Contains(raw, "@") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		// Not a parseable URL; drop everything up to the last '@'.
		return "xxxxx@" + raw[strings.LastIndex(raw, "@")+1:]
	}
	u.User = url.User("xxxxx")
	return u.String()
}

func (b *BackendConfig) validate() []error {
	var errs []error
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	if b.Provider == "" {
		errs = append(errs, errors.New("backend.provider must be provided"))
	}
	if strings.TrimSpace(b.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url must be provided"))
	} else if u, err := url.Parse(b.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("backend.base_url must be an absolute url"))
	}
	b.BaseURL = strings.TrimRight(b.BaseURL, "/")
	if strings.TrimSpace(b.Model) == "" && strings.TrimSpace(b.Version) == "" {
		errs = append(errs, errors.New("backend.model or backend.version must be provided"))
	}
	if b.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be > 0"))
	}
	if b.MaxRetries < 0 {
		errs = append(errs, errors.New("backend.max_retries must be >= 0"))
	}
	if b.RetryBackoff <= 0 {
		b.RetryBackoff = 250 * time.Millisecond
	}
	if b.PollInterval <= 0 {
		b.PollInterval = time.Second
	}
	if b.PreferWait < 0 || b.PreferWait > 60*time.Second {
		errs = append(errs, errors.New("backend.prefer_wait must be between 0s and 60s"))
	}
	return errs
}

func (d *DefaultsConfig) validate() []error {
	var errs []error
	if d.MaxTokensLimit <= 0 {
		errs = append(errs, errors.New("defaults.max_tokens_limit must be > 0"))
	}
	if d.MaxTokens <= 0 || d.MaxTokens > d.MaxTokensLimit {
		errs = append(errs, errors.New("defaults.max_tokens must be between 1 and defaults.max_tokens_limit"))
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		errs = append(errs, errors.New("defaults.temperature must be between 0 and 2"))
	}
	if d.MaxImages <= 0 {
		errs = append(errs, errors.New("defaults.max_images must be > 0"))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("backend.provider", "replicate")
	v.SetDefault("backend.base_url", "https://api.replicate.com")
	v.SetDefault("backend.model", "")
	v.SetDefault("backend.version", "")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.max_retries", 0)
	v.SetDefault("backend.retry_backoff", "250ms")
	v.SetDefault("backend.poll_interval", "1s")
	v.SetDefault("backend.prefer_wait", "30s")

	v.SetDefault("defaults.max_tokens", 50)
	v.SetDefault("defaults.temperature", 0.7)
	v.SetDefault("defaults.do_sample", true)
	v.SetDefault("defaults.max_tokens_limit", 4096)
	v.SetDefault("defaults.max_images", 8)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 0)

	v.SetDefault("idempotency.enabled", false)
	v.SetDefault("idempotency.ttl", "30m")

	v.SetDefault("rate_limits.requests_per_minute", 0)
	v.SetDefault("rate_limits.parallel_requests", 0)

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
