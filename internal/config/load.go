package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config.yaml in the working directory; absence is fine,
	// everything can come from the environment.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables use the GLINT_ prefix with underscores for
	// nesting, e.g. GLINT_DATABASE_URL, GLINT_TRIGGER_SECRET_HASH.
	v.SetEnvPrefix("GLINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key with viper. Defaults double as the key
// registry: AutomaticEnv only resolves keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Secrets default to empty and are caught by validation when unset.
	v.SetDefault("database.url", "")
	v.SetDefault("trigger.secret_hash", "")

	v.SetDefault("engine.claim_batch_size", 25)
	v.SetDefault("engine.worker_count", 4)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.retry_delays", []string{"1m", "5m", "15m"})
	v.SetDefault("engine.dispatch_budget", "60s")
	v.SetDefault("engine.review_budget", "60s")
	v.SetDefault("engine.workflow_budget", "60s")
	v.SetDefault("engine.maintenance_budget", "300s")
	v.SetDefault("engine.review_batch_size", 50)
	v.SetDefault("engine.review_cool_off", "30m")
	v.SetDefault("engine.stuck_task_age", "30m")
	v.SetDefault("engine.workflow_stale_after", "6h")
	v.SetDefault("engine.workflow_batch_size", 25)

	v.SetDefault("scheduler.dispatch_spec", "* * * * *")
	v.SetDefault("scheduler.review_spec", "*/15 * * * *")
	v.SetDefault("scheduler.workflow_spec", "* * * * *")
	v.SetDefault("scheduler.maintenance_spec", "15 3 * * *")
}
