// Package config loads Aida gateway configuration from a YAML file with
// environment-variable overrides for credentials and operational knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the gateway.
type Config struct {
	Slack        SlackConfig        `yaml:"slack"`
	LLM          LLMConfig          `yaml:"llm"`
	Processing   ProcessingConfig   `yaml:"processing"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// SlackConfig carries the Socket Mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` // xoxb- token for API calls
	AppToken string `yaml:"app_token"` // xapp- token for Socket Mode
}

// LLMConfig selects the models used by the pipeline.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`

	// Model is the default chat model for the main agent.
	Model string `yaml:"model"`

	// GuardrailModel runs the content classifier.
	GuardrailModel string `yaml:"guardrail_model"`

	// DeepModel runs the "+think" deep-analysis stage.
	DeepModel string `yaml:"deep_model"`

	// ContextBudgets maps model name to the per-thread token budget that
	// triggers the context warning footer.
	ContextBudgets map[string]int `yaml:"context_budgets"`
}

// ProcessingConfig tunes the message-processing pipeline.
type ProcessingConfig struct {
	// MaxConcurrency bounds how many agent invocations may be in flight
	// at once across all conversations. Callers beyond capacity block.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxRetries bounds pipeline retries on transient provider errors.
	MaxRetries int `yaml:"max_retries"`

	// MaxMessageLength is the platform message-size limit used for
	// splitting long responses.
	MaxMessageLength int `yaml:"max_message_length"`

	// AllowedChannels restricts non-DM channels when non-empty. Empty
	// means any channel is allowed once the bot is mentioned.
	AllowedChannels []string `yaml:"allowed_channels"`

	// RequestTimeout bounds one full pipeline attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// IntegrationsConfig supplies credentials for the MCP integration table,
// keyed by integration key.
type IntegrationsConfig struct {
	Credentials map[string]string `yaml:"credentials"`
}

// ToolsConfig carries credentials for the local tool surface.
type ToolsConfig struct {
	// BraveAPIKey enables the Brave backend for web search. Empty means
	// the keyless DuckDuckGo backend only.
	BraveAPIKey string `yaml:"brave_api_key"`
}

// LoggingConfig mirrors the observability logger options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:          "gpt-4o",
			GuardrailModel: "gpt-4o-mini",
			DeepModel:      "o3",
			ContextBudgets: map[string]int{
				"gpt-4o":      100000,
				"gpt-4o-mini": 100000,
				"o3":          160000,
			},
		},
		Processing: ProcessingConfig{
			MaxConcurrency:   5,
			MaxRetries:       3,
			MaxMessageLength: 3000,
			RequestTimeout:   5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090"},
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. Pass an empty path to configure from the environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override file values. Credentials
// are expected from the environment in production deployments.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv("AIDA_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("AIDA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AIDA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AIDA_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			c.Processing.MaxConcurrency = n
		}
	}
	if v := os.Getenv("AIDA_BRAVE_API_KEY"); v != "" {
		c.Tools.BraveAPIKey = v
	}
	if v := os.Getenv("AIDA_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}
}

// Validate checks that required credentials are present and numeric
// knobs are sane, normalizing invalid values back to defaults.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Slack.BotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if c.Slack.AppToken == "" {
		missing = append(missing, "SLACK_APP_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}

	if c.Processing.MaxConcurrency < 1 {
		c.Processing.MaxConcurrency = 5
	}
	if c.Processing.MaxRetries < 0 {
		c.Processing.MaxRetries = 3
	}
	if c.Processing.MaxMessageLength < 1 {
		c.Processing.MaxMessageLength = 3000
	}
	return nil
}

// ContextBudget returns the token budget for a model, falling back to a
// conservative default for unknown models.
func (c *Config) ContextBudget(model string) int {
	if b, ok := c.LLM.ContextBudgets[model]; ok && b > 0 {
		return b
	}
	return 32000
}
