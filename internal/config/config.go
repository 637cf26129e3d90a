// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"
	ProviderOllama    LLMProvider = "ollama"
)

// ModelConfig defines the configuration for a single LLM backend.
type ModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LLMConfig is the settings-store view of configured models: a named model
// map plus the pointer to the active one.
type LLMConfig struct {
	ActiveModel       string                 `mapstructure:"active_model" yaml:"active_model"`
	Models            map[string]ModelConfig `mapstructure:"models" yaml:"models"`
	RequestsPerMinute int                    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Active returns the currently selected model config, if one is configured.
func (l LLMConfig) Active() (ModelConfig, bool) {
	m, ok := l.Models[l.ActiveModel]
	return m, ok && l.ActiveModel != ""
}

// AgentConfig tunes the step loop and its collaborators.
type AgentConfig struct {
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// TokenBudget caps the estimated conversation size; the trimming policy
	// keeps the estimate at or below this after every state rebuild.
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
	// SettleDelay is waited after a successful page action; NavSettleDelay
	// after navigation-class actions.
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	NavSettleDelay time.Duration `mapstructure:"nav_settle_delay" yaml:"nav_settle_delay"`
	// ActionTimeout is the hard per-action ceiling.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// MaxActionRetries bounds the transient-dispatch retry policy.
	MaxActionRetries int `mapstructure:"max_action_retries" yaml:"max_action_retries"`
	// ReadyPollAttempts bounds the readiness polling between retries.
	ReadyPollAttempts int           `mapstructure:"ready_poll_attempts" yaml:"ready_poll_attempts"`
	ReadyPollInterval time.Duration `mapstructure:"ready_poll_interval" yaml:"ready_poll_interval"`
	// ExtractMaxChars caps the page-text snapshot fed to extract_content.
	ExtractMaxChars int    `mapstructure:"extract_max_chars" yaml:"extract_max_chars"`
	SearchEngine    string `mapstructure:"search_engine" yaml:"search_engine"`
}

// DatabaseConfig holds the optional persistence backend. When URL is empty
// the in-memory task store is used.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// ServerConfig configures the operator WebSocket endpoint for `webpilot serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultDir returns the default config/data directory (~/.webpilot).
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".webpilot"), nil
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- LLM --
	v.SetDefault("llm.active_model", "")
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 40)
	v.SetDefault("agent.token_budget", 96000)
	v.SetDefault("agent.settle_delay", "500ms")
	v.SetDefault("agent.nav_settle_delay", "1500ms")
	v.SetDefault("agent.action_timeout", "10s")
	v.SetDefault("agent.max_action_retries", 3)
	v.SetDefault("agent.ready_poll_attempts", 10)
	v.SetDefault("agent.ready_poll_interval", "250ms")
	v.SetDefault("agent.extract_max_chars", 24000)
	v.SetDefault("agent.search_engine", "google")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8791")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. Per-model keys come in
	// as WEBPILOT_LLM_MODELS_<NAME>_API_KEY via AutomaticEnv.
	v.BindEnv("database.url", "WEBPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.TokenBudget <= 0 {
		return fmt.Errorf("agent.token_budget must be a positive integer")
	}
	if c.Agent.MaxActionRetries < 0 {
		return fmt.Errorf("agent.max_action_retries must not be negative")
	}
	if c.LLM.ActiveModel != "" {
		m, ok := c.LLM.Models[c.LLM.ActiveModel]
		if !ok {
			return fmt.Errorf("llm.active_model %q is not defined in llm.models", c.LLM.ActiveModel)
		}
		if m.Provider == "" {
			return fmt.Errorf("llm.models.%s.provider is required", c.LLM.ActiveModel)
		}
		switch m.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama:
		default:
			return fmt.Errorf("llm.models.%s.provider %q is not supported", c.LLM.ActiveModel, m.Provider)
		}
	}
	return nil
}
