package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type SchedulerConfig struct {
	TokenCheckSchedule string `yaml:"token_check_schedule"`
}

type EngineConfig struct {
	Port      string          `yaml:"port"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

const (
	_defaultPort               = "8080"
	_defaultTokenCheckSchedule = "@hourly"
)

func (c *EngineConfig) ValidateAndSetup() error {
	if c.Port == "" {
		c.Port = _defaultPort
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}

	if c.Scheduler.TokenCheckSchedule == "" {
		c.Scheduler.TokenCheckSchedule = _defaultTokenCheckSchedule
	}

	return nil
}

func LoadEngineConfig(filename string) (EngineConfig, error) {
	var cfg EngineConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}

// EncryptionKey reads the process-wide cipher key. Validation of its
// format happens in the cipher constructor.
func EncryptionKey() string {
	return os.Getenv("KIS_ENCRYPTION_KEY")
}
