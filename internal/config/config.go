package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	DefaultOpenRouterModel = "anthropic/claude-haiku-4-5-20251001"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-haiku-4-5-20251001"

	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
)

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Config struct {
	LLMProvider          string  `yaml:"llm_provider"`
	LLMModel             string  `yaml:"llm_model"`
	LLMBaseURL           string  `yaml:"llm_base_url"`
	LLMBatchSize         int     `yaml:"llm_batch_size"`
	LLMMaxAttempts       int     `yaml:"llm_max_attempts"`
	LLMRetryBaseSeconds  float64 `yaml:"llm_retry_base_seconds"`
	LLMRetryMaxSeconds   float64 `yaml:"llm_retry_max_seconds"`
	LLMCallTimeoutSecs   int     `yaml:"llm_call_timeout_seconds"`
	LLMTemperature       float64 `yaml:"llm_temperature"`
	LLMMaxTokens         int     `yaml:"llm_max_tokens"`
	LLMJSONMode          *bool   `yaml:"llm_json_mode"`
	LLMAnchorExamples    int     `yaml:"llm_anchor_examples"`
	OpenRouterAPIKey     string  `yaml:"openrouter_api_key"`
	OpenRouterReferer    string  `yaml:"openrouter_referer"`
	OpenRouterTitle      string  `yaml:"openrouter_title"`
	OpenRouterPreflight  bool    `yaml:"openrouter_preflight"`
	OpenAIAPIKey         string  `yaml:"openai_api_key"`
	AnthropicAPIKey      string  `yaml:"anthropic_api_key"`
	InterBatchDelayMilli int     `yaml:"inter_batch_delay_ms"`

	QCEnabled          *bool `yaml:"qc_enabled"`
	QCFlagThreshold    int   `yaml:"qc_flag_threshold"`
	QCApplyCorrections bool  `yaml:"qc_apply_corrections"`
	QCSampleSize       int   `yaml:"qc_sample_size"`

	MappingMaxURLs     int `yaml:"mapping_max_urls"`
	ClusterMaxKeywords int `yaml:"cluster_max_keywords"`

	Pricing       map[string]ModelPrice `yaml:"pricing"`
	FallbackPrice ModelPrice            `yaml:"fallback_price"`

	StoreDriver string `yaml:"store_driver"`
	DBPath      string `yaml:"db_path"`
	PostgresURL string `yaml:"postgres_url"`
	ProfilesDir string `yaml:"profiles_dir"`
	OutputDir   string `yaml:"output_dir"`

	RunnerSchedule          string `yaml:"runner_schedule"`
	RunnerMaxConcurrentJobs int    `yaml:"runner_max_concurrent_jobs"`
	MetricsAddr             string `yaml:"metrics_addr"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	SemrushAPIKey   string `yaml:"semrush_api_key"`
	SemrushDatabase string `yaml:"semrush_database"`
	SemrushBaseURL  string `yaml:"semrush_base_url"`

	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// DefaultPricing mirrors OpenRouter list prices at the time the table was written.
func DefaultPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"anthropic/claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"anthropic/claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"google/gemini-2.5-flash":              {Input: 0.30, Output: 2.50},
		"moonshotai/kimi-k2":                   {Input: 0.50, Output: 2.40},
		"claude-haiku-4-5-20251001":            {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929":           {Input: 3.00, Output: 15.00},
		"gpt-4o-mini":                          {Input: 0.15, Output: 0.60},
	}
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverrideInt(&cfg.LLMBatchSize, "LLM_BATCH_SIZE")
	envOverrideInt(&cfg.LLMMaxAttempts, "LLM_MAX_ATTEMPTS")
	envOverrideFloat(&cfg.LLMRetryBaseSeconds, "LLM_RETRY_BASE_SECONDS")
	envOverrideFloat(&cfg.LLMRetryMaxSeconds, "LLM_RETRY_MAX_SECONDS")
	envOverrideInt(&cfg.LLMCallTimeoutSecs, "LLM_CALL_TIMEOUT_SECONDS")
	envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideBoolPtr(&cfg.LLMJSONMode, "LLM_JSON_MODE")
	envOverrideInt(&cfg.LLMAnchorExamples, "LLM_ANCHOR_EXAMPLES")
	envOverride(&cfg.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	envOverrideAllowEmpty(&cfg.OpenRouterReferer, "OPENROUTER_REFERER")
	envOverrideAllowEmpty(&cfg.OpenRouterTitle, "OPENROUTER_TITLE")
	envOverrideBool(&cfg.OpenRouterPreflight, "OPENROUTER_PREFLIGHT")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverrideInt(&cfg.InterBatchDelayMilli, "INTER_BATCH_DELAY_MS")
	envOverrideBoolPtr(&cfg.QCEnabled, "QC_ENABLED")
	envOverrideInt(&cfg.QCFlagThreshold, "QC_FLAG_THRESHOLD")
	envOverrideBool(&cfg.QCApplyCorrections, "QC_APPLY_CORRECTIONS")
	envOverrideInt(&cfg.QCSampleSize, "QC_SAMPLE_SIZE")
	envOverrideInt(&cfg.MappingMaxURLs, "MAPPING_MAX_URLS")
	envOverrideInt(&cfg.ClusterMaxKeywords, "CLUSTER_MAX_KEYWORDS")
	envOverride(&cfg.StoreDriver, "STORE_DRIVER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.PostgresURL, "POSTGRES_URL")
	envOverride(&cfg.ProfilesDir, "PROFILES_DIR")
	envOverride(&cfg.OutputDir, "OUTPUT_DIR")
	envOverrideAllowEmpty(&cfg.RunnerSchedule, "RUNNER_SCHEDULE")
	envOverrideInt(&cfg.RunnerMaxConcurrentJobs, "RUNNER_MAX_CONCURRENT_JOBS")
	envOverrideAllowEmpty(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.SemrushAPIKey, "SEMRUSH_API_KEY")
	envOverride(&cfg.SemrushDatabase, "SEMRUSH_DATABASE")
	envOverride(&cfg.SemrushBaseURL, "SEMRUSH_BASE_URL")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.Timezone, "TIMEZONE")

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

func applyDefaults(cfg *Config) {
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openrouter"
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMModel = DefaultOpenAIModel
		case "anthropic":
			cfg.LLMModel = DefaultAnthropicModel
		default:
			cfg.LLMModel = DefaultOpenRouterModel
		}
	}
	if cfg.LLMBaseURL == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMBaseURL = DefaultOpenAIBaseURL
		case "openrouter":
			cfg.LLMBaseURL = DefaultOpenRouterBaseURL
		}
	}
	if cfg.LLMBatchSize == 0 {
		cfg.LLMBatchSize = 20
	}
	if cfg.LLMMaxAttempts == 0 {
		cfg.LLMMaxAttempts = 3
	}
	if cfg.LLMRetryBaseSeconds == 0 {
		cfg.LLMRetryBaseSeconds = 2
	}
	if cfg.LLMRetryMaxSeconds == 0 {
		cfg.LLMRetryMaxSeconds = 30
	}
	if cfg.LLMCallTimeoutSecs == 0 {
		cfg.LLMCallTimeoutSecs = 120
	}
	if cfg.LLMTemperature == 0 {
		cfg.LLMTemperature = 0.3
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 8192
	}
	if cfg.LLMJSONMode == nil {
		on := true
		cfg.LLMJSONMode = &on
	}
	if cfg.LLMAnchorExamples == 0 {
		cfg.LLMAnchorExamples = 3
	}
	if cfg.OpenRouterTitle == "" {
		cfg.OpenRouterTitle = "zed-seo-tool"
	}
	if cfg.QCEnabled == nil {
		on := true
		cfg.QCEnabled = &on
	}
	if cfg.QCFlagThreshold == 0 {
		cfg.QCFlagThreshold = 70
	}
	if cfg.QCSampleSize == 0 {
		cfg.QCSampleSize = 150
	}
	if cfg.MappingMaxURLs == 0 {
		cfg.MappingMaxURLs = 200
	}
	if cfg.ClusterMaxKeywords == 0 {
		cfg.ClusterMaxKeywords = 300
	}
	pricing := DefaultPricing()
	for model, price := range cfg.Pricing {
		pricing[model] = price
	}
	cfg.Pricing = pricing
	if cfg.FallbackPrice == (ModelPrice{}) {
		cfg.FallbackPrice = ModelPrice{Input: 1.00, Output: 5.00}
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "sqlite"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./seotool.db"
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = "./data/clients"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./data/results"
	}
	if cfg.SemrushDatabase == "" {
		cfg.SemrushDatabase = "us"
	}
	if cfg.RunnerMaxConcurrentJobs == 0 {
		cfg.RunnerMaxConcurrentJobs = 2
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

// Validate reports the first invalid setting. LoadConfig treats any error as fatal.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("openrouter_api_key is required when llm_provider=openrouter")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		return fmt.Errorf("llm_provider must be 'openrouter', 'openai' or 'anthropic', got '%s'", c.LLMProvider)
	}
	if c.LLMBatchSize < 1 {
		return fmt.Errorf("invalid llm_batch_size '%d': must be >= 1", c.LLMBatchSize)
	}
	if c.LLMMaxAttempts < 1 || c.LLMMaxAttempts > 10 {
		return fmt.Errorf("invalid llm_max_attempts '%d': must be between 1 and 10", c.LLMMaxAttempts)
	}
	if c.LLMRetryBaseSeconds < 0 || c.LLMRetryMaxSeconds < c.LLMRetryBaseSeconds {
		return fmt.Errorf("invalid retry delays base=%.1fs max=%.1fs", c.LLMRetryBaseSeconds, c.LLMRetryMaxSeconds)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("invalid llm_temperature '%f': must be between 0 and 2", c.LLMTemperature)
	}
	if c.LLMAnchorExamples < 0 {
		return fmt.Errorf("invalid llm_anchor_examples '%d': must be >= 0", c.LLMAnchorExamples)
	}
	if c.QCFlagThreshold < 0 || c.QCFlagThreshold > 100 {
		return fmt.Errorf("invalid qc_flag_threshold '%d': must be between 0 and 100", c.QCFlagThreshold)
	}
	if c.MappingMaxURLs < 1 {
		return fmt.Errorf("invalid mapping_max_urls '%d': must be >= 1", c.MappingMaxURLs)
	}
	if c.ClusterMaxKeywords < 2 {
		return fmt.Errorf("invalid cluster_max_keywords '%d': must be >= 2", c.ClusterMaxKeywords)
	}
	for model, price := range c.Pricing {
		if price.Input < 0 || price.Output < 0 {
			return fmt.Errorf("invalid pricing for '%s': prices must be >= 0", model)
		}
	}
	switch c.StoreDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required when store_driver=postgres")
		}
	default:
		return fmt.Errorf("store_driver must be 'sqlite' or 'postgres', got '%s'", c.StoreDriver)
	}
	if c.RunnerMaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid runner_max_concurrent_jobs '%d': must be >= 1", c.RunnerMaxConcurrentJobs)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.SlackBotToken != "" && c.SlackChannelID == "" {
		return fmt.Errorf("slack_bot_token is set but slack_channel_id is not")
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = parseBool(val)
	}
}

func envOverrideBoolPtr(field **bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		b := parseBool(val)
		*field = &b
	}
}

func parseBool(val string) bool {
	return strings.EqualFold(val, "true") || val == "1"
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func (c Config) JSONMode() bool {
	return c.LLMJSONMode == nil || *c.LLMJSONMode
}

func (c Config) QCOn() bool {
	return c.QCEnabled == nil || *c.QCEnabled
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.LLMRetryBaseSeconds * float64(time.Second))
}

func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.LLMRetryMaxSeconds * float64(time.Second))
}

func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.LLMCallTimeoutSecs) * time.Second
}

func (c Config) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMilli) * time.Millisecond
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return c.OpenRouterAPIKey
	}
}
