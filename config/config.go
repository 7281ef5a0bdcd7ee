package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
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
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type ProbeConfig struct {
	Interval         string `mapstructure:"interval"`
	Timeout          string `mapstructure:"timeout"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
}

type SupervisorConfig struct {
	StartTimeout string `mapstructure:"start_timeout"`
}

type RuntimeConfig struct {
	Binary string `mapstructure:"binary"`
}

type BackendConfig struct {
	ID  string `mapstructure:"id"`
	URL string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Backends   []BackendConfig  `mapstructure:"backends"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("probe.interval", "2s")
	viper.SetDefault("probe.timeout", "1s")
	viper.SetDefault("probe.failure_threshold", 3)
	viper.SetDefault("supervisor.start_timeout", "30s")
	viper.SetDefault("runtime.binary", "docker")
	viper.SetDefault("logging.level", LogLevelInfo)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// ProbeInterval returns the parsed probe interval.
// Only meaningful after Validate has succeeded.
func (c *Config) ProbeInterval() time.Duration {
	d, _ := time.ParseDuration(c.Probe.Interval)
	return d
}

// ProbeTimeout returns the parsed per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Probe.Timeout)
	return d
}

// StartTimeout returns the parsed supervisor start timeout.
func (c *Config) StartTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Supervisor.StartTimeout)
	return d
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
		validation.Field(&c.Probe,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProbeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProbeConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Supervisor,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SupervisorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SupervisorConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.StartTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Runtime,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RuntimeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RuntimeConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Binary,
						validation.Required,
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
	)
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

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.ID == "" {
		return validation.NewError("validation_empty_id", "backend id cannot be empty")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
