package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format. Empty keys are allowed; the
// provider is then not registered.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateStoreBackend validates the thread index backend name
func (v *Validator) ValidateStoreBackend(backend string) error {
	validBackends := []string{"json", "sqlite", "redis"}
	for _, valid := range validBackends {
		if backend == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store backend: %s (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateSchedule validates a standard cron spec or @descriptor. Empty is
// allowed and disables the job.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errors = append(errors, fmt.Errorf("server.shutdown_timeout must be >= 0"))
	}
	if cfg.Server.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.requests_per_minute must be >= 0"))
	}
	if cfg.Server.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("server.max_concurrent must be >= 0"))
	}

	if err := v.ValidateStoreBackend(cfg.Store.Backend); err != nil {
		errors = append(errors, err)
	}
	if cfg.Store.Backend == "redis" && cfg.Store.RedisAddr == "" {
		errors = append(errors, fmt.Errorf("store.redis_addr is required for the redis backend"))
	}
	if err := v.ValidateSchedule(cfg.Store.StatsSchedule); err != nil {
		errors = append(errors, fmt.Errorf("store.stats_schedule: %w", err))
	}

	if cfg.Models.Default == "" {
		errors = append(errors, fmt.Errorf("models.default cannot be empty"))
	} else if !cfg.HasModel(cfg.Models.Default) {
		errors = append(errors, fmt.Errorf("models.default %q is not in models.available", cfg.Models.Default))
	}

	if cfg.Agents.Default == "" {
		errors = append(errors, fmt.Errorf("agents.default cannot be empty"))
	}

	if err := v.ValidateAPIKey(cfg.Providers.OpenAIAPIKey, "openai"); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateAPIKey(cfg.Providers.AnthropicAPIKey, "anthropic"); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Providers.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTemperature(cfg.Providers.Temperature); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		errors = append(errors, fmt.Errorf("tracing.service_name cannot be empty when tracing is enabled"))
	}
	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio: %w", err))
	}

	return errors
}
