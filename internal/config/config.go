package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Trust    TrustConfig    `yaml:"trust" mapstructure:"trust"`
	Status   StatusConfig   `yaml:"status" mapstructure:"status"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Admin    AdminConfig    `yaml:"admin" mapstructure:"admin"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig selects the report store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TrustConfig holds device trust scoring parameters.
type TrustConfig struct {
	Min            float64 `yaml:"min" mapstructure:"min"`
	Max            float64 `yaml:"max" mapstructure:"max"`
	Default        float64 `yaml:"default" mapstructure:"default"`
	MinReports     int     `yaml:"min_reports" mapstructure:"min_reports"`
	AccuracyWeight float64 `yaml:"accuracy_weight" mapstructure:"accuracy_weight"`
}

// StatusConfig holds the report aging parameters.
type StatusConfig struct {
	HorizonHours float64 `yaml:"horizon_hours" mapstructure:"horizon_hours"`
	DecayHours   float64 `yaml:"decay_hours" mapstructure:"decay_hours"`
}

// CacheConfig configures the kiosk metadata cache.
type CacheConfig struct {
	TTLSecs   int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Precision int `yaml:"precision" mapstructure:"precision"`
}

// ProviderConfig configures the Overpass client.
type ProviderConfig struct {
	URL              string  `yaml:"url" mapstructure:"url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AdminConfig configures the admin views.
type AdminConfig struct {
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
}

// Timeout returns the per-fetch provider timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// Load reads configuration from config.yaml, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KIOSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 45)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "file::memory:")
	v.SetDefault("trust.min", 0.3)
	v.SetDefault("trust.max", 1.0)
	v.SetDefault("trust.default", 0.5)
	v.SetDefault("trust.min_reports", 3)
	v.SetDefault("trust.accuracy_weight", 0.7)
	v.SetDefault("status.horizon_hours", 24)
	v.SetDefault("status.decay_hours", 12)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.precision", 3)
	v.SetDefault("provider.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.rate_limit", 2)
	v.SetDefault("provider.max_attempts", 2)
	v.SetDefault("provider.breaker_threshold", 5)
	v.SetDefault("provider.breaker_reset_secs", 30)
	v.SetDefault("admin.default_limit", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the loaded values are usable by the server.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be memory or sqlite")
	}
	if c.Trust.Max <= 0 {
		problems = append(problems, "trust.max must be positive")
	}
	if c.Trust.Min <= 0 || c.Trust.Min > c.Trust.Max {
		problems = append(problems, "trust.min must be positive and at most trust.max")
	}
	if c.Trust.Default < c.Trust.Min || c.Trust.Default > c.Trust.Max {
		problems = append(problems, "trust.default must lie within [trust.min, trust.max]")
	}
	if c.Trust.MinReports <= 0 {
		problems = append(problems, "trust.min_reports must be positive")
	}
	if c.Trust.AccuracyWeight <= 0 || c.Trust.AccuracyWeight > 1 {
		problems = append(problems, "trust.accuracy_weight must be in (0, 1]")
	}
	if c.Status.HorizonHours <= 0 || c.Status.DecayHours <= 0 {
		problems = append(problems, "status.horizon_hours and status.decay_hours must be positive")
	}
	if c.Cache.TTLSecs <= 0 {
		problems = append(problems, "cache.ttl_secs must be positive")
	}
	if c.Provider.URL == "" {
		problems = append(problems, "provider.url is required")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger sets up the global zap logger based on config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
