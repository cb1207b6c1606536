package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"
)

type ApiProvider string

const (
	OpenAI    ApiProvider = "openai"
	Anthropic ApiProvider = "anthropic"
	Ollama    ApiProvider = "ollama"
	Gemini    ApiProvider = "gemini"
)

// Config holds every setting loaded from the TOML config file, environment,
// and CLI flags (§ AMBIENT STACK: viper + mapstructure-tagged struct,
// following the teacher's pattern). DebugWriter and ConfigFile are runtime
// state, never sourced from viper.
type Config struct {
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`

	OpenAIModel    string `mapstructure:"openai_model"`
	AnthropicModel string `mapstructure:"anthropic_model"`
	OllamaModel    string `mapstructure:"ollama_model"`
	GeminiModel    string `mapstructure:"gemini_model"`

	OpenAIEndpoint    string      `mapstructure:"openai_endpoint"`
	AnthropicEndpoint string      `mapstructure:"anthropic_endpoint"`
	OllamaEndpoint    string      `mapstructure:"ollama_endpoint"`
	Provider          ApiProvider `mapstructure:"provider"`

	Template string `mapstructure:"template"`

	GitHubToken   string `mapstructure:"github_token"`
	GitHubBaseURL string `mapstructure:"github_base_url"`
	GitLabToken   string `mapstructure:"gitlab_token"`
	GitLabBaseURL string `mapstructure:"gitlab_base_url"`

	// Concurrency bounds the number of simultaneous AI requests the map
	// stage issues (§4.F).
	Concurrency int `mapstructure:"concurrency"`
	// ReduceEnabled gates the optional coherence pass (§4.G).
	ReduceEnabled bool `mapstructure:"reduce_enabled"`
	// Strict controls check mode's exit-code behavior: a guideline warning
	// becomes exit code 2 instead of 0 (§7).
	Strict bool `mapstructure:"strict"`
	// Guidelines is the path to a commit-message guideline document fed
	// into the twiddle/check system prompt. Empty means use the built-in
	// default guidelines.
	Guidelines string `mapstructure:"guidelines"`

	ConfigFile  string    `mapstructure:"-"`
	DebugWriter io.Writer `mapstructure:"-"`
}

func loadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".ai-mr-comment")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.AutomaticEnv()
	v.SetEnvPrefix("AI_MR_COMMENT")

	// Bind standard environment variables
	_ = v.BindEnv("openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("github_token", "GITHUB_TOKEN")
	_ = v.BindEnv("github_base_url", "GITHUB_BASE_URL")
	_ = v.BindEnv("gitlab_token", "GITLAB_TOKEN")
	_ = v.BindEnv("gitlab_base_url", "GITLAB_BASE_URL")

	cfg, err := loadConfigWith(v)
	if err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.ConfigFile = used
	}
	return cfg, nil
}

func loadConfigWith(v *viper.Viper) (*Config, error) {
	v.SetDefault("provider", OpenAI)
	v.SetDefault("openai_model", "gpt-4.1-mini")
	v.SetDefault("openai_endpoint", "https://api.openai.com/v1/")
	v.SetDefault("anthropic_model", "claude-sonnet-4-6")
	v.SetDefault("anthropic_endpoint", "https://api.anthropic.com")
	v.SetDefault("ollama_model", "llama3")
	v.SetDefault("ollama_endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("template", "default")
	v.SetDefault("concurrency", 4)
	v.SetDefault("reduce_enabled", true)
	v.SetDefault("strict", false)
	v.SetDefault("guidelines", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("malformed config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
