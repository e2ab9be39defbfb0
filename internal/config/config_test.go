package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("LLM_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("SEMRUSH_DATABASE", "")
}

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	setMinimalValidConfigEnv(t)

	cfg := LoadConfig()

	if cfg.LLMProvider != "openrouter" {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != DefaultOpenRouterModel {
		t.Fatalf("unexpected model default: %q", cfg.LLMModel)
	}
	if cfg.LLMBaseURL != DefaultOpenRouterBaseURL {
		t.Fatalf("unexpected base url default: %q", cfg.LLMBaseURL)
	}
	if cfg.LLMBatchSize != 20 {
		t.Fatalf("unexpected batch size default: %d", cfg.LLMBatchSize)
	}
	if cfg.LLMMaxAttempts != 3 {
		t.Fatalf("unexpected max attempts default: %d", cfg.LLMMaxAttempts)
	}
	if cfg.RetryBaseDelay() != 2*time.Second || cfg.RetryMaxDelay() != 30*time.Second {
		t.Fatalf("unexpected retry delays: base=%s max=%s", cfg.RetryBaseDelay(), cfg.RetryMaxDelay())
	}
	if cfg.QCFlagThreshold != 70 {
		t.Fatalf("unexpected qc threshold default: %d", cfg.QCFlagThreshold)
	}
	if !cfg.JSONMode() || !cfg.QCOn() {
		t.Fatalf("expected json mode and qc on by default")
	}
	if cfg.StoreDriver != "sqlite" || cfg.DBPath != "./seotool.db" {
		t.Fatalf("unexpected store defaults: driver=%q path=%q", cfg.StoreDriver, cfg.DBPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if got := cfg.Pricing["google/gemini-2.5-flash"]; got.Input != 0.30 || got.Output != 2.50 {
		t.Fatalf("unexpected default pricing: %+v", got)
	}
	if cfg.APIKey() != "sk-or-test" {
		t.Fatalf("unexpected api key: %q", cfg.APIKey())
	}
	if cfg.SemrushDatabase != "us" {
		t.Fatalf("unexpected semrush database default: %q", cfg.SemrushDatabase)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
llm_batch_size: 25
qc_flag_threshold: 65
llm_json_mode: false
db_path: "/tmp/yaml.db"
pricing:
  "acme/tiny-model":
    input: 0.10
    output: 0.20
external_http_timeout_seconds: 75
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("EXTERNAL_HTTP_TIMEOUT_SECONDS", "120")
	t.Setenv("TIMEZONE", "UTC")

	cfg := LoadConfig()

	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected provider from env override, got %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != DefaultOpenAIModel || cfg.LLMBaseURL != DefaultOpenAIBaseURL {
		t.Fatalf("expected openai defaults, got model=%q base=%q", cfg.LLMModel, cfg.LLMBaseURL)
	}
	if cfg.LLMBatchSize != 25 {
		t.Fatalf("expected batch size from yaml, got %d", cfg.LLMBatchSize)
	}
	if cfg.QCFlagThreshold != 65 {
		t.Fatalf("expected qc threshold from yaml, got %d", cfg.QCFlagThreshold)
	}
	if cfg.JSONMode() {
		t.Fatalf("expected json mode disabled from yaml")
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != 120 {
		t.Fatalf("expected external HTTP timeout from env override, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if got := cfg.Pricing["acme/tiny-model"]; got.Input != 0.10 {
		t.Fatalf("expected custom pricing entry, got %+v", got)
	}
	if _, ok := cfg.Pricing["moonshotai/kimi-k2"]; !ok {
		t.Fatalf("expected default pricing to be kept alongside custom entries")
	}
}

func TestValidate(t *testing.T) {
	base := Config{LLMProvider: "openrouter", OpenRouterAPIKey: "k"}
	applyDefaults(&base)
	if err := base.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing key", func(c *Config) { c.OpenRouterAPIKey = "" }},
		{"unknown provider", func(c *Config) { c.LLMProvider = "gemini" }},
		{"zero attempts", func(c *Config) { c.LLMMaxAttempts = 0 }},
		{"threshold above 100", func(c *Config) { c.QCFlagThreshold = 101 }},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }},
		{"unknown store", func(c *Config) { c.StoreDriver = "bolt" }},
		{"slack without channel", func(c *Config) { c.SlackBotToken = "xoxb" }},
		{"negative price", func(c *Config) { c.Pricing = map[string]ModelPrice{"m": {Input: -1}} }},
	}
	for _, tt := range tests {
		cfg := base
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("SEO_TEST_STR", "value")
	envOverride(&s, "SEO_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	i := 1
	t.Setenv("SEO_TEST_INT", "42")
	envOverrideInt(&i, "SEO_TEST_INT")
	if i != 42 {
		t.Fatalf("envOverrideInt failed, got %d", i)
	}

	f := 0.1
	t.Setenv("SEO_TEST_FLOAT", "0.75")
	envOverrideFloat(&f, "SEO_TEST_FLOAT")
	if f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f", f)
	}

	var bp *bool
	t.Setenv("SEO_TEST_BOOL", "1")
	envOverrideBoolPtr(&bp, "SEO_TEST_BOOL")
	if bp == nil || !*bp {
		t.Fatalf("envOverrideBoolPtr failed, got %v", bp)
	}
}

func TestLoadConfigMissingKeyFatal(t *testing.T) {
	if os.Getenv("TEST_MISSING_KEY_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("LLM_PROVIDER", "anthropic")
		_ = os.Unsetenv("ANTHROPIC_API_KEY")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigMissingKeyFatal")
	cmd.Env = append(os.Environ(), "TEST_MISSING_KEY_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}
