package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Config is the service configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Models    ModelsConfig    `json:"models" mapstructure:"models"`
	Agents    AgentsConfig    `json:"agents" mapstructure:"agents"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`

	// Data directory for the thread index and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string   `json:"host" mapstructure:"host"`
	Port              int      `json:"port" mapstructure:"port"`
	AuthSecret        string   `json:"auth_secret" mapstructure:"auth_secret"`
	AllowedOrigins    []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout   int      `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	RequestsPerMinute int      `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int      `json:"max_concurrent" mapstructure:"max_concurrent"` // concurrent streams per client
}

// StoreConfig selects the thread index backend.
type StoreConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"` // json, sqlite, redis
	Path          string `json:"path" mapstructure:"path"`
	RedisAddr     string `json:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" mapstructure:"redis_db"`
	RedisPrefix   string `json:"redis_prefix" mapstructure:"redis_prefix"`
	// StatsSchedule is a cron spec for refreshing index gauges; empty disables.
	StatsSchedule string `json:"stats_schedule" mapstructure:"stats_schedule"`
}

// ModelsConfig lists the models clients may select.
type ModelsConfig struct {
	Default   string   `json:"default" mapstructure:"default"`
	Available []string `json:"available" mapstructure:"available"`
}

// AgentsConfig configures the agent registry.
type AgentsConfig struct {
	Default        string `json:"default" mapstructure:"default"`
	HistoryDefault string `json:"history_default" mapstructure:"history_default"`
	PromptsFile    string `json:"prompts_file" mapstructure:"prompts_file"`
}

// ProvidersConfig holds model provider credentials.
type ProvidersConfig struct {
	OpenAIAPIKey    string  `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string  `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	// Environment is recorded as deployment.environment on every span.
	Environment string `json:"environment,omitempty" mapstructure:"environment"`
	// SampleRatio is the fraction of root traces kept, from 0 to 1.
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// Attributes are extra resource attributes, e.g. {"team": "data"}.
	Attributes map[string]string `json:"attributes,omitempty" mapstructure:"attributes"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			AllowedOrigins:    []string{"*"},
			ShutdownTimeout:   30,
			RequestsPerMinute: 120,
			MaxConcurrent:     4,
		},
		Store: StoreConfig{
			Backend:       "json",
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "agentgate:threads:",
			StatsSchedule: "@every 1m",
		},
		Models: ModelsConfig{
			Default: "gpt-4o-mini",
			Available: []string{
				"gpt-4o-mini",
				"gpt-4o",
				"claude-3-5-haiku-latest",
				"claude-3-5-sonnet-latest",
				"echo",
			},
		},
		Agents: AgentsConfig{
			Default:        "simple_chatbot",
			HistoryDefault: "workflow_explain_chatbot",
		},
		Providers: ProvidersConfig{
			MaxTokens:   2048,
			Temperature: 0.5,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "agentgate",
			SampleRatio: 1,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Addr()
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SortedModels returns the available models in lexical order.
func (c *Config) SortedModels() []string {
	return c.Models.Sorted()
}

// HasModel reports whether model is one of the available models.
func (c *Config) HasModel(model string) bool {
	return c.Models.Has(model)
}

// Sorted returns the available models in lexical order.
func (m ModelsConfig) Sorted() []string {
	models := append([]string(nil), m.Available...)
	sort.Strings(models)
	return models
}

// Has reports whether model is one of the available models.
func (m ModelsConfig) Has(model string) bool {
	for _, available := range m.Available {
		if available == model {
			return true
		}
	}
	return false
}

// Secrets returns configured secret values for log redaction.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{
		c.Server.AuthSecret,
		c.Providers.OpenAIAPIKey,
		c.Providers.AnthropicAPIKey,
		c.Store.RedisPassword,
	} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Server.AuthSecret = mask(c.Server.AuthSecret)
	masked.Providers.OpenAIAPIKey = mask(c.Providers.OpenAIAPIKey)
	masked.Providers.AnthropicAPIKey = mask(c.Providers.AnthropicAPIKey)
	masked.Store.RedisPassword = mask(c.Store.RedisPassword)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errs[0])
}
