package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
)

const (
	defaultPort              = 8787
	defaultKeepAlive         = 15 * time.Second
	defaultRequestTimeout    = 90 * time.Second
	defaultStreamIdleTimeout = 60 * time.Second
	defaultTemperature       = 0.3
	defaultMaxOutputTokens   = 8192
	defaultThinkingBudget    = 2048
	defaultFallbackMaxTokens = 2048
)

const (
	DefaultGroundedInstruction = "你是一位熟悉中華民國（台灣）法律的助理。請以繁體中文回答，" +
		"使用網路搜尋確認最新的法規與實務見解，並在回答中引用可供查證的來源。"
	DefaultReasoningInstruction = "你是一位熟悉中華民國（台灣）法律的助理。請以繁體中文回答，" +
		"依據你的法律知識進行完整推理，說明相關法條與適用要件，不需要列出參考資料。"
	DefaultFallbackInstruction = "請以繁體中文簡潔回答以下法律問題。"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server             ServerConfig     `yaml:"server"`
	Logging            LoggingConfig    `yaml:"logging"`
	Upstream           UpstreamConfig   `yaml:"upstream"`
	Providers          ProvidersConfig  `yaml:"providers"`
	Generation         GenerationConfig `yaml:"generation"`
	FallbackGeneration GenerationConfig `yaml:"fallback_generation"`
	Prompts            PromptsConfig    `yaml:"prompts"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UpstreamConfig bounds how long upstream calls may take.
type UpstreamConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
}

// ProvidersConfig names the primary provider and the optional degraded fallback.
type ProvidersConfig struct {
	Primary  ProviderConfig  `yaml:"primary"`
	Fallback *ProviderConfig `yaml:"fallback"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	Name    string  `yaml:"name"`
	Kind    string  `yaml:"kind"`
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	Headers Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// GenerationConfig holds per-call generation parameters.
type GenerationConfig struct {
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	ThinkingBudget  int      `yaml:"thinking_budget"`
}

// PromptsConfig holds the system instructions sent upstream.
type PromptsConfig struct {
	Grounded  string `yaml:"grounded"`
	Reasoning string `yaml:"reasoning"`
	Fallback  string `yaml:"fallback"`
}

// Load reads YAML configuration from disk, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.KeepAliveInterval == 0 {
		c.Server.KeepAliveInterval = defaultKeepAlive
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = defaultRequestTimeout
	}
	if c.Upstream.StreamIdleTimeout == 0 {
		c.Upstream.StreamIdleTimeout = defaultStreamIdleTimeout
	}

	c.Providers.Primary.applyDefaults("primary")
	if c.Providers.Fallback != nil {
		c.Providers.Fallback.applyDefaults("fallback")
	}

	if c.Generation.Temperature == nil {
		t := defaultTemperature
		c.Generation.Temperature = &t
	}
	if c.Generation.MaxOutputTokens == 0 {
		c.Generation.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.Generation.ThinkingBudget == 0 {
		c.Generation.ThinkingBudget = defaultThinkingBudget
	}
	if c.FallbackGeneration.Temperature == nil {
		c.FallbackGeneration.Temperature = c.Generation.Temperature
	}
	if c.FallbackGeneration.MaxOutputTokens == 0 {
		c.FallbackGeneration.MaxOutputTokens = defaultFallbackMaxTokens
	}

	if strings.TrimSpace(c.Prompts.Grounded) == "" {
		c.Prompts.Grounded = DefaultGroundedInstruction
	}
	if strings.TrimSpace(c.Prompts.Reasoning) == "" {
		c.Prompts.Reasoning = DefaultReasoningInstruction
	}
	if strings.TrimSpace(c.Prompts.Fallback) == "" {
		c.Prompts.Fallback = DefaultFallbackInstruction
	}
}

func (p *ProviderConfig) applyDefaults(name string) {
	if p.Name == "" {
		p.Name = name
	}
	if p.Kind == "" {
		p.Kind = KindGemini
	}
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.KeepAliveInterval < 0 {
		return fmt.Errorf("server.keepalive_interval must not be negative, got %s", c.Server.KeepAliveInterval)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Upstream.RequestTimeout < 0 || c.Upstream.StreamIdleTimeout < 0 {
		return fmt.Errorf("upstream timeouts must not be negative")
	}

	if err := validateProvider(c.Providers.Primary); err != nil {
		return err
	}
	if c.Providers.Primary.Kind != KindGemini {
		return fmt.Errorf("provider %s: primary provider must be of kind %q", c.Providers.Primary.Name, KindGemini)
	}
	if fb := c.Providers.Fallback; fb != nil {
		if err := validateProvider(*fb); err != nil {
			return err
		}
		if fb.Name == c.Providers.Primary.Name {
			return fmt.Errorf("provider %s: fallback name must differ from primary", fb.Name)
		}
	}

	for _, g := range []GenerationConfig{c.Generation, c.FallbackGeneration} {
		if g.MaxOutputTokens < 0 || g.ThinkingBudget < 0 {
			return fmt.Errorf("generation token limits must not be negative")
		}
		if g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > 2) {
			return fmt.Errorf("generation.temperature must be within [0, 2], got %v", *g.Temperature)
		}
	}
	return nil
}

func validateProvider(provider ProviderConfig) error {
	name := provider.Name
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if strings.TrimSpace(provider.Model) == "" {
		return fmt.Errorf("provider %s: model must be provided", name)
	}
	if err := validateKind(name, provider.Kind); err != nil {
		return err
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}
	return nil
}

func validateKind(providerName, kind string) error {
	switch kind {
	case KindGemini, KindOpenAI:
		return nil
	default:
		return fmt.Errorf("provider %s: kind %q must be one of %q or %q", providerName, kind, KindGemini, KindOpenAI)
	}
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
