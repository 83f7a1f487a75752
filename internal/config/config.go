package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Hub    HubConfig    `mapstructure:"hub"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HubConfig covers the serial link. An empty port triggers auto-discovery.
type HubConfig struct {
	Port            string        `mapstructure:"port"`
	BaudRate        int           `mapstructure:"baud_rate"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	RetryBudget     int           `mapstructure:"retry_budget"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.http_port", 8089)
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("hub.port", "")
	viper.SetDefault("hub.baud_rate", 115200)
	viper.SetDefault("hub.exchange_timeout", "500ms")
	viper.SetDefault("hub.retry_budget", 3)
	viper.SetDefault("hub.probe_timeout", "1s")
	viper.SetDefault("hub.poll_interval", "2s")

	// Environment variables with prefix USBHUB_
	viper.AutomaticEnv()
	viper.SetEnvPrefix("USBHUB")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Hub.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be at least 1, got %d", c.Hub.RetryBudget)
	}
	if c.Hub.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchange_timeout must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}
