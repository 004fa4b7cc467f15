package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Input and Output are the transformation contract shared with the pipeline.
type (
	Input       = cloner.TransformInput
	Output      = cloner.TransformOutput
	Transformer = cloner.Transformer
)

// DefaultModelKey is used when a request names no model.
const DefaultModelKey = "agentic"

// ErrUnknownModel is returned for a model key missing from the registry.
var ErrUnknownModel = errors.New("unknown model configuration")

// Model binds a request-facing key to a provider model.
type Model struct {
	Provider  string `mapstructure:"provider" json:"provider"`
	Name      string `mapstructure:"model" json:"model"`
	MaxTokens int    `mapstructure:"max_tokens" json:"max_tokens"`
}

// ID is the provider-qualified model name reported on results.
func (m Model) ID() string {
	return m.Provider + "/" + m.Name
}

// DefaultModels is the built-in model table.
func DefaultModels() map[string]Model {
	return map[string]Model{
		"agentic":  {Provider: "anthropic", Name: "claude-3-5-sonnet-20241022", MaxTokens: 8000},
		"fast":     {Provider: "openai", Name: "gpt-4o", MaxTokens: 4000},
		"precise":  {Provider: "google", Name: "gemini-1.5-pro", MaxTokens: 8000},
		"economic": {Provider: "openai", Name: "gpt-4o-mini", MaxTokens: 4000},
	}
}

// Registry resolves model keys.
type Registry struct {
	models map[string]Model
}

// NewRegistry starts from DefaultModels and applies overrides on top.
func NewRegistry(overrides map[string]Model) *Registry {
	models := DefaultModels()
	for k, m := range overrides {
		models[k] = m
	}
	return &Registry{models: models}
}

// Lookup returns the model for key. An empty key selects DefaultModelKey.
func (r *Registry) Lookup(key string) (Model, error) {
	if key == "" {
		key = DefaultModelKey
	}
	m, ok := r.models[key]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	return m, nil
}

// Keys lists the registered model keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
