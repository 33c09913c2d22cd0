package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address       string `mapstructure:"address" json:"address"`
	Environment   string `mapstructure:"environment" json:"environment"`
	// AdvertiseHost is the host the gateway registers itself under.
	AdvertiseHost string `mapstructure:"advertise_host" json:"advertise_host"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
}

type RegistryConfig struct {
	// File is where the registry is persisted. Empty keeps it in memory.
	File              string `mapstructure:"file" json:"file"`
	StaleAfter        string `mapstructure:"stale_after" json:"stale_after"`
	SweepInterval     string `mapstructure:"sweep_interval" json:"sweep_interval"`
	EvictionInterval  string `mapstructure:"eviction_interval" json:"eviction_interval"`
	HeartbeatInterval string `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	ProbeTimeout      string `mapstructure:"probe_timeout" json:"probe_timeout"`
	HealthPath        string `mapstructure:"health_path" json:"health_path"`
}

type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout" json:"reset_timeout"`
}

type ProxyConfig struct {
	Timeout string `mapstructure:"timeout" json:"timeout"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" json:"enabled"`
	RPS     float64 `mapstructure:"rps" json:"rps"`
	Burst   int     `mapstructure:"burst" json:"burst"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	Registry  RegistryConfig  `mapstructure:"registry" json:"registry"`
	Breaker   BreakerConfig   `mapstructure:"breaker" json:"breaker"`
	Proxy     ProxyConfig     `mapstructure:"proxy" json:"proxy"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":3005")
	v.SetDefault("server.advertise_host", "localhost")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("registry.file", "./data/service-registry.json")
	v.SetDefault("registry.stale_after", "60s")
	v.SetDefault("registry.sweep_interval", "30s")
	v.SetDefault("registry.eviction_interval", "30s")
	v.SetDefault("registry.heartbeat_interval", "30s")
	v.SetDefault("registry.probe_timeout", "5s")
	v.SetDefault("registry.health_path", "/health")

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout", "60s")

	v.SetDefault("proxy.timeout", "5s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 2000.0/(15*60))
	v.SetDefault("rate_limit.burst", 100)
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to read .env file", slog.String("error", err.Error()))
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.AdvertiseHost,
						validation.Required,
						is.Host,
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Registry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RegistryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RegistryConfig")
				}
				return validateRegistry(rc)
			}),
		),
		validation.Field(&c.Breaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&bc.ResetTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rl, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				if !rl.Enabled {
					return nil
				}
				return validation.ValidateStruct(&rl,
					validation.Field(&rl.RPS, validation.Required, validation.Min(0.0).Exclusive()),
					validation.Field(&rl.Burst, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

var healthPath = regexp.MustCompile(`^/[A-Za-z0-9/_.-]*$`)

func validateRegistry(rc RegistryConfig) error {
	err := validation.ValidateStruct(&rc,
		validation.Field(&rc.StaleAfter, validation.Required, validation.By(validateInterval)),
		validation.Field(&rc.SweepInterval, validation.Required, validation.By(validateInterval)),
		validation.Field(&rc.EvictionInterval, validation.Required, validation.By(validateInterval)),
		validation.Field(&rc.HeartbeatInterval, validation.Required, validation.By(validateInterval)),
		validation.Field(&rc.ProbeTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&rc.HealthPath, validation.Required, validation.Match(healthPath)),
	)
	if err != nil {
		return err
	}

	if rc.HeartbeatIntervalDuration() >= rc.StaleAfterDuration() {
		return validation.Errors{
			"heartbeat_interval": validation.NewError("validation_heartbeat_too_slow",
				fmt.Sprintf("must be shorter than stale_after (%s)", rc.StaleAfter)),
		}
	}
	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

// validateInterval also rejects sub-second periods, which the scheduler
// cannot honour.
func validateInterval(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}
	d, _ := time.ParseDuration(value.(string))
	if d < time.Second {
		return validation.NewError("validation_invalid_interval", "must be at least 1s")
	}
	return nil
}
