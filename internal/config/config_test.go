package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
providers:
  primary:
    api_key: test-key
    base_url: https://generativelanguage.googleapis.com/v1beta
    model: gemini-2.5-flash
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.Equal(t, defaultKeepAlive, cfg.Server.KeepAliveInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, defaultRequestTimeout, cfg.Upstream.RequestTimeout)
	assert.Equal(t, "primary", cfg.Providers.Primary.Name)
	assert.Equal(t, KindGemini, cfg.Providers.Primary.Kind)
	assert.Nil(t, cfg.Providers.Fallback)
	require.NotNil(t, cfg.Generation.Temperature)
	assert.InDelta(t, defaultTemperature, *cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, defaultThinkingBudget, cfg.Generation.ThinkingBudget)
	assert.Equal(t, defaultFallbackMaxTokens, cfg.FallbackGeneration.MaxOutputTokens)
	assert.Equal(t, DefaultGroundedInstruction, cfg.Prompts.Grounded)
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
  keepalive_interval: 5s
logging:
  level: debug
  format: json
upstream:
  request_timeout: 45s
  stream_idle_timeout: 20s
providers:
  primary:
    name: gemini
    api_key: k1
    base_url: https://example.test/v1beta
    model: gemini-2.5-pro
    headers:
      X-Trace: abc
  fallback:
    name: backup
    kind: OpenAI
    api_key: k2
    base_url: https://backup.test/v1
    model: gpt-4o-mini
generation:
  temperature: 0
  max_output_tokens: 4096
  thinking_budget: 1024
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.KeepAliveInterval)
	assert.Equal(t, 20*time.Second, cfg.Upstream.StreamIdleTimeout)
	require.NotNil(t, cfg.Providers.Fallback)
	assert.Equal(t, KindOpenAI, cfg.Providers.Fallback.Kind)
	require.NotNil(t, cfg.Generation.Temperature)
	assert.Zero(t, *cfg.Generation.Temperature, "explicit zero temperature is kept")
	require.NotNil(t, cfg.FallbackGeneration.Temperature)
	assert.Zero(t, *cfg.FallbackGeneration.Temperature)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing api key",
			yaml: "providers:\n  primary:\n    base_url: https://x\n    model: m\n",
			want: "api_key must be provided",
		},
		{
			name: "bad port",
			yaml: minimalYAML + "server:\n  port: 70000\n",
			want: "server.port",
		},
		{
			name: "primary must be gemini",
			yaml: "providers:\n  primary:\n    kind: openai\n    api_key: k\n    base_url: https://x\n    model: m\n",
			want: "primary provider must be of kind",
		},
		{
			name: "unknown kind",
			yaml: minimalYAML + "  fallback:\n    kind: claude\n    api_key: k\n    base_url: https://x\n    model: m\n",
			want: "kind \"claude\"",
		},
		{
			name: "invalid header",
			yaml: minimalYAML + "    headers:\n      \"X Bad\": v\n",
			want: "not a valid canonical HTTP header",
		},
		{
			name: "bad log level",
			yaml: minimalYAML + "logging:\n  level: loud\n",
			want: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("LAWCHAT_TEST_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  primary:
    api_key: ${LAWCHAT_TEST_KEY}
    base_url: https://example.test
    model: gemini-2.5-flash
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Providers.Primary.APIKey)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
