package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode           string   `mapstructure:"mode"`
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	Secret         string   `mapstructure:"secret"`
	DatabasePath   string   `mapstructure:"database_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	WS         WSConfig         `mapstructure:"ws"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Signal     SignalConfig     `mapstructure:"signal"`
}

type WSConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	// Backpressure is drop_connection or drop_frame.
	Backpressure string `mapstructure:"backpressure"`
}

type CheckpointConfig struct {
	// Interval <= 0 disables periodic checkpoints.
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type SignalConfig struct {
	Strict bool `mapstructure:"strict"`
}

// MinSendBuffer fits the snapshot frames queued on admission before the
// write pump starts.
const MinSendBuffer = 8

const (
	BackpressureDropConnection = "drop_connection"
	BackpressureDropFrame      = "drop_frame"
)

// Load reads config/config.<CONFIG_ENV>.yaml (default env "dev"). A missing
// file is not an error; defaults and COLLAB_* variables still apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		fmt.Printf("Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DatabasePath)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("database_path", "./collab.db")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("ws.read_limit", 65536)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.write_timeout", "10s")
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.backpressure", BackpressureDropConnection)

	v.SetDefault("checkpoint.interval", "10s")
	v.SetDefault("checkpoint.timeout", "5s")

	v.SetDefault("rate_limit.events", 50)
	v.SetDefault("rate_limit.interval", "1s")

	v.SetDefault("signal.strict", false)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.WS.ReadLimit <= 0 {
		errs = append(errs, errors.New("ws.read_limit must be positive"))
	}
	if c.WS.PingPeriod <= 0 {
		errs = append(errs, errors.New("ws.ping_period must be positive"))
	}
	if c.WS.WriteTimeout <= 0 {
		errs = append(errs, errors.New("ws.write_timeout must be positive"))
	}
	if c.WS.SendBuffer < MinSendBuffer {
		errs = append(errs, fmt.Errorf("ws.send_buffer must be at least %d", MinSendBuffer))
	}
	switch c.WS.Backpressure {
	case BackpressureDropConnection, BackpressureDropFrame:
	default:
		errs = append(errs, fmt.Errorf("ws.backpressure %q unknown", c.WS.Backpressure))
	}
	if c.Checkpoint.Timeout <= 0 {
		errs = append(errs, errors.New("checkpoint.timeout must be positive"))
	}
	if c.RateLimit.Events < 0 || (c.RateLimit.Events > 0 && c.RateLimit.Interval <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive interval when events > 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
