package config

import (
	"fmt"
	"os"

	"worklogd/internal/policy"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"worklogd.db"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
	} `yaml:"log"`

	Remote struct {
		BaseURL string `yaml:"base_url" env:"REMOTE_BASE_URL"`
		Token   string `yaml:"token" env:"REMOTE_TOKEN"`
		Timeout int    `yaml:"timeout" env:"REMOTE_TIMEOUT" env-default:"30"`
	} `yaml:"remote"`

	Sync struct {
		Interval int `yaml:"interval" env:"SYNC_INTERVAL" env-default:"300"`
		PageSize int `yaml:"page_size" env:"SYNC_PAGE_SIZE" env-default:"100"`
	} `yaml:"sync"`

	// Policy holds the schedule defaults applied on first run; afterwards
	// the persisted settings take precedence.
	Policy policy.Policy `yaml:"policy"`
}

// LoadConfig reads the YAML config at path with environment overrides. A
// missing file is not an error: environment variables and defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Policy: policy.Default()}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	}

	if cfg.Policy.StandardDailyHours <= 0 {
		return nil, fmt.Errorf("policy.standard_daily_hours must be positive, got %v", cfg.Policy.StandardDailyHours)
	}
	return cfg, nil
}
