// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Agent settings. AgentContainer empty disables agent invocations.
	AgentContainer string
	AgentCommand   []string
	AgentTimeout   time.Duration

	HealthCheckTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/sessions.db"),
		AgentContainer:     getEnv("AGENT_CONTAINER", ""),
		AgentCommand:       strings.Fields(getEnv("AGENT_COMMAND", "python /home/computeruse/test_agent.py")),
		AgentTimeout:       getEnvDuration("AGENT_TIMEOUT", 5*time.Minute),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AgentContainer != "" && len(c.AgentCommand) == 0 {
		return fmt.Errorf("AGENT_COMMAND cannot be empty when AGENT_CONTAINER is set")
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	return nil
}

// AgentEnabled reports whether an agent container is configured.
func (c *Config) AgentEnabled() bool {
	return c.AgentContainer != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	// Accept either a Go duration string or a plain number of seconds.
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
