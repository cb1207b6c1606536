package main

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// BetaHeader describes an opt-in header that unlocks enhanced model limits.
type BetaHeader struct {
	Key             string `yaml:"key"`
	Value           string `yaml:"value"`
	MaxOutputTokens *int   `yaml:"max_output_tokens,omitempty"`
	InputContext    *int   `yaml:"input_context,omitempty"`
}

// ModelSpec is a single model's catalog entry.
type ModelSpec struct {
	Provider        string       `yaml:"provider"`
	Model           string       `yaml:"model"`
	APIIdentifier   string       `yaml:"api_identifier"`
	MaxOutputTokens int          `yaml:"max_output_tokens"`
	InputContext    int          `yaml:"input_context"`
	Generation      float64      `yaml:"generation"`
	Tier            string       `yaml:"tier"`
	Legacy          bool         `yaml:"legacy"`
	BetaHeaders     []BetaHeader `yaml:"beta_headers"`
}

// TierInfo describes a performance tier within a provider.
type TierInfo struct {
	Description string   `yaml:"description"`
	UseCases    []string `yaml:"use_cases"`
}

// DefaultConfig is the fallback limits for unknown models of a provider.
type DefaultConfig struct {
	MaxOutputTokens int `yaml:"max_output_tokens"`
	InputContext    int `yaml:"input_context"`
}

// ProviderConfig is provider-level catalog metadata.
type ProviderConfig struct {
	Name         string              `yaml:"name"`
	APIBase      string              `yaml:"api_base"`
	DefaultModel string              `yaml:"default_model"`
	Tiers        map[string]TierInfo `yaml:"tiers"`
	Defaults     DefaultConfig       `yaml:"defaults"`
}

type modelConfiguration struct {
	Models    []ModelSpec               `yaml:"models"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ModelRegistry is an in-memory index over the embedded model catalog,
// supporting exact and fuzzy identifier lookup and beta-header overrides.
type ModelRegistry struct {
	config       modelConfiguration
	byIdentifier map[string]ModelSpec
	byProvider   map[string][]ModelSpec
}

var (
	modelRegistryOnce sync.Once
	modelRegistrySing *ModelRegistry
)

// GetModelRegistry returns the process-wide model registry, parsing the
// embedded catalog on first use.
func GetModelRegistry() *ModelRegistry {
	modelRegistryOnce.Do(func() {
		reg, err := loadModelRegistry(modelsYAML)
		if err != nil {
			panic("model registry: embedded catalog failed to parse: " + err.Error())
		}
		modelRegistrySing = reg
	})
	return modelRegistrySing
}

func loadModelRegistry(data []byte) (*ModelRegistry, error) {
	var cfg modelConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	byIdentifier := make(map[string]ModelSpec, len(cfg.Models))
	byProvider := make(map[string][]ModelSpec)
	for _, m := range cfg.Models {
		byIdentifier[m.APIIdentifier] = m
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}

	return &ModelRegistry{config: cfg, byIdentifier: byIdentifier, byProvider: byProvider}, nil
}

// GetModelSpec returns the model specification for apiIdentifier, trying an
// exact match first and falling back to fuzzy matching for cloud-hosted
// variants (Bedrock-style identifiers).
func (r *ModelRegistry) GetModelSpec(apiIdentifier string) (ModelSpec, bool) {
	if spec, ok := r.byIdentifier[apiIdentifier]; ok {
		return spec, true
	}
	core := extractCoreModelIdentifier(apiIdentifier)
	if spec, ok := r.byIdentifier[core]; ok {
		return spec, true
	}
	return ModelSpec{}, false
}

// extractCoreModelIdentifier strips a Bedrock-style region prefix, vendor
// prefix, and version suffix, in that order — order matters, since a version
// suffix embedded inside a vendor prefix must not be stripped early.
func extractCoreModelIdentifier(id string) string {
	if dot := strings.IndexByte(id, '.'); dot != -1 && dot <= 3 {
		id = id[dot+1:]
	}
	id = strings.TrimPrefix(id, "anthropic.")
	if pos := strings.LastIndex(id, "-v"); pos != -1 && strings.Contains(id[pos:], ":") {
		id = id[:pos]
	}
	return id
}

// inferProvider guesses a provider from an unrecognized model identifier.
func (r *ModelRegistry) inferProvider(apiIdentifier string) (string, bool) {
	switch {
	case strings.HasPrefix(apiIdentifier, "claude") || strings.Contains(apiIdentifier, "anthropic"):
		return "claude", true
	case strings.HasPrefix(apiIdentifier, "gpt-") || strings.HasPrefix(apiIdentifier, "o1") || strings.HasPrefix(apiIdentifier, "o3"):
		return "openai", true
	case strings.HasPrefix(apiIdentifier, "gemini"):
		return "gemini", true
	case strings.HasPrefix(apiIdentifier, "llama"):
		return "ollama", true
	default:
		return "", false
	}
}

// ultimateFallbackInputContext and ultimateFallbackMaxOutput apply when no
// provider at all can be inferred from the identifier.
const (
	ultimateFallbackInputContext = 100_000
	ultimateFallbackMaxOutput    = 4096
)

// GetMaxOutputTokens returns the base max-output-tokens limit for a model,
// falling back to the inferred provider's defaults and finally to the
// ultimate fallback.
func (r *ModelRegistry) GetMaxOutputTokens(apiIdentifier string) int {
	if spec, ok := r.GetModelSpec(apiIdentifier); ok {
		return spec.MaxOutputTokens
	}
	if provider, ok := r.inferProvider(apiIdentifier); ok {
		if pc, ok := r.config.Providers[provider]; ok {
			return pc.Defaults.MaxOutputTokens
		}
	}
	return ultimateFallbackMaxOutput
}

// GetInputContext returns the base input-context limit for a model.
func (r *ModelRegistry) GetInputContext(apiIdentifier string) int {
	if spec, ok := r.GetModelSpec(apiIdentifier); ok {
		return spec.InputContext
	}
	if provider, ok := r.inferProvider(apiIdentifier); ok {
		if pc, ok := r.config.Providers[provider]; ok {
			return pc.Defaults.InputContext
		}
	}
	return ultimateFallbackInputContext
}

// GetBetaHeaders returns the beta headers declared for a model, or nil.
func (r *ModelRegistry) GetBetaHeaders(apiIdentifier string) []BetaHeader {
	if spec, ok := r.GetModelSpec(apiIdentifier); ok {
		return spec.BetaHeaders
	}
	return nil
}

// GetMaxOutputTokensWithBeta returns max-output-tokens for a model with
// betaValue active, applying the matching beta's override (independently
// from input-context) when present.
func (r *ModelRegistry) GetMaxOutputTokensWithBeta(apiIdentifier, betaValue string) int {
	spec, ok := r.GetModelSpec(apiIdentifier)
	if !ok {
		return r.GetMaxOutputTokens(apiIdentifier)
	}
	for _, bh := range spec.BetaHeaders {
		if bh.Value == betaValue && bh.MaxOutputTokens != nil {
			return *bh.MaxOutputTokens
		}
	}
	return spec.MaxOutputTokens
}

// GetInputContextWithBeta returns input-context for a model with betaValue
// active, applying the matching beta's override when present.
func (r *ModelRegistry) GetInputContextWithBeta(apiIdentifier, betaValue string) int {
	spec, ok := r.GetModelSpec(apiIdentifier)
	if !ok {
		return r.GetInputContext(apiIdentifier)
	}
	for _, bh := range spec.BetaHeaders {
		if bh.Value == betaValue && bh.InputContext != nil {
			return *bh.InputContext
		}
	}
	return spec.InputContext
}

// IsLegacyModel reports whether apiIdentifier names a legacy model.
func (r *ModelRegistry) IsLegacyModel(apiIdentifier string) bool {
	spec, ok := r.GetModelSpec(apiIdentifier)
	return ok && spec.Legacy
}

// GetModelsByProvider returns the catalog entries for a provider.
func (r *ModelRegistry) GetModelsByProvider(provider string) []ModelSpec {
	return r.byProvider[provider]
}

// GetProviderConfig returns provider-level catalog metadata.
func (r *ModelRegistry) GetProviderConfig(provider string) (ProviderConfig, bool) {
	pc, ok := r.config.Providers[provider]
	return pc, ok
}

// ResolveProviderMetadata builds a ProviderMetadata for apiIdentifier under
// provider, applying activeBeta's overrides when present (§4.C).
func (r *ModelRegistry) ResolveProviderMetadata(provider, apiIdentifier string, activeBeta *ActiveBeta) ProviderMetadata {
	meta := ProviderMetadata{
		Provider:    provider,
		Model:       apiIdentifier,
		MaxContext:  r.GetInputContext(apiIdentifier),
		MaxResponse: r.GetMaxOutputTokens(apiIdentifier),
		ActiveBeta:  activeBeta,
	}
	if activeBeta != nil {
		meta.MaxContext = r.GetInputContextWithBeta(apiIdentifier, activeBeta.Value)
		meta.MaxResponse = r.GetMaxOutputTokensWithBeta(apiIdentifier, activeBeta.Value)
	}
	return meta
}
