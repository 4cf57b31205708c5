package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parlorhq/parlor/go/internal/lobby"
)

// Config is the server configuration, read from an optional YAML file
// and overridable per field from the environment.
type Config struct {
	Server struct {
		Port        string        `yaml:"port"`
		AuthTimeout time.Duration `yaml:"auth_timeout"`
	} `yaml:"server"`
	Lobby struct {
		TransmitTimeout time.Duration `yaml:"transmit_timeout"`
		RetryCount      int           `yaml:"retry_count"`
		RetryInterval   time.Duration `yaml:"retry_interval"`
		MaxWaitingTicks int           `yaml:"max_waiting_ticks"`
		SessionLifetime time.Duration `yaml:"session_lifetime"`
		GCInterval      time.Duration `yaml:"gc_interval"`
	} `yaml:"lobby"`
	NATSURL string `yaml:"nats_url"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.AuthTimeout = 10 * time.Second

	opts := lobby.DefaultOptions()
	cfg.Lobby.TransmitTimeout = opts.TransmitTimeout
	cfg.Lobby.RetryCount = opts.RetryCount
	cfg.Lobby.RetryInterval = opts.RetryInterval
	cfg.Lobby.MaxWaitingTicks = opts.MaxWaitingTicks
	cfg.Lobby.SessionLifetime = opts.SessionLifetime
	cfg.Lobby.GCInterval = opts.GCInterval
	return cfg
}

// loadConfig builds the configuration: defaults, then the YAML file at
// path if it exists, then environment overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.Server.AuthTimeout = getEnvAsDuration("AUTH_TIMEOUT", cfg.Server.AuthTimeout)
	cfg.Lobby.SessionLifetime = getEnvAsDuration("SESSION_LIFETIME", cfg.Lobby.SessionLifetime)
	cfg.Lobby.GCInterval = getEnvAsDuration("GC_INTERVAL", cfg.Lobby.GCInterval)
	cfg.Lobby.MaxWaitingTicks = getEnvAsInt("MAX_WAITING_TICKS", cfg.Lobby.MaxWaitingTicks)
	return cfg, nil
}

func (c *Config) lobbyOptions() lobby.Options {
	return lobby.Options{
		TransmitTimeout: c.Lobby.TransmitTimeout,
		RetryCount:      c.Lobby.RetryCount,
		RetryInterval:   c.Lobby.RetryInterval,
		MaxWaitingTicks: c.Lobby.MaxWaitingTicks,
		SessionLifetime: c.Lobby.SessionLifetime,
		GCInterval:      c.Lobby.GCInterval,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
